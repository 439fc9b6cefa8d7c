package vna

import (
	"encoding/binary"
	"fmt"
)

const (
	// PromChunkSize is the number of PROM bytes returned by one OpReadProm exchange.
	PromChunkSize = 256
	// PromVersion is the PROM layout version understood by this package.
	PromVersion = 1

	promMagic      = "PROM"
	promHeaderSize = 56
)

// EncodeProm builds a PROM image of size bytes holding hw and the factory calibration flag.
// Bytes after the header are left for the caller to fill.
func EncodeProm(hw HardwareDetails, factoryCal bool, size int) []byte {
	img := make([]byte, max(size, promHeaderSize))
	copy(img, promMagic)
	binary.BigEndian.PutUint16(img[4:], PromVersion)
	binary.BigEndian.PutUint32(img[6:], uint32(hw.MinimumFrequency))  //nolint:gosec
	binary.BigEndian.PutUint32(img[10:], uint32(hw.MaximumFrequency)) //nolint:gosec
	binary.BigEndian.PutUint32(img[14:], uint32(hw.MaximumPoints))    //nolint:gosec
	binary.BigEndian.PutUint32(img[18:], uint32(hw.SerialNumber))     //nolint:gosec
	img[22] = byte(hw.NumberOfBandBoundaries)
	for i, b := range hw.BandBoundaries {
		binary.BigEndian.PutUint32(img[23+4*i:], uint32(b)) //nolint:gosec
	}
	if factoryCal {
		img[55] = 1
	}

	return img
}

// DecodeProm extracts the hardware details and the factory calibration flag from a PROM image.
// Failures wrap ErrBadProm.
func DecodeProm(img []byte) (HardwareDetails, bool, error) {
	var hw HardwareDetails
	if len(img) < promHeaderSize || string(img[:4]) != promMagic {
		return hw, false, fmt.Errorf("%w: missing header", ErrBadProm)
	}
	if v := binary.BigEndian.Uint16(img[4:]); v != PromVersion {
		return hw, false, fmt.Errorf("%w: unsupported version %d", ErrBadProm, v)
	}

	hw.MinimumFrequency = int(binary.BigEndian.Uint32(img[6:]))
	hw.MaximumFrequency = int(binary.BigEndian.Uint32(img[10:]))
	hw.MaximumPoints = int(binary.BigEndian.Uint32(img[14:]))
	hw.SerialNumber = int(binary.BigEndian.Uint32(img[18:]))
	hw.NumberOfBandBoundaries = int(img[22])
	if hw.NumberOfBandBoundaries > MaxBandBoundaries {
		return HardwareDetails{}, false, fmt.Errorf("%w: %d band boundaries", ErrBadProm, hw.NumberOfBandBoundaries)
	}
	for i := range hw.BandBoundaries {
		hw.BandBoundaries[i] = int(binary.BigEndian.Uint32(img[23+4*i:]))
	}
	if err := hw.Validate(); err != nil {
		return HardwareDetails{}, false, err
	}

	return hw, img[55] == 1, nil
}

// EncodePromRequest encodes the payload of an OpReadProm request.
func EncodePromRequest(chunk int) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(chunk)) //nolint:gosec
}

// DecodePromRequest decodes the chunk index of an OpReadProm request.
func DecodePromRequest(payload []byte) (int, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("%w: prom request length %d", ErrBytes, len(payload))
	}

	return int(binary.BigEndian.Uint16(payload)), nil
}

// EncodePromChunk encodes the payload of an OpReadProm response.
func EncodePromChunk(total int, data []byte) []byte {
	buf := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(data)), uint16(total)) //nolint:gosec
	return append(buf, data...)
}

// DecodePromChunk decodes an OpReadProm response into the total number of chunks and the chunk data.
func DecodePromChunk(payload []byte) (int, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("%w: prom chunk length %d", ErrBytes, len(payload))
	}
	total := int(binary.BigEndian.Uint16(payload))
	if total == 0 || len(payload)-2 > PromChunkSize {
		return 0, nil, fmt.Errorf("%w: prom chunk of %d bytes, %d chunks", ErrBytes, len(payload)-2, total)
	}

	return total, payload[2:], nil
}
