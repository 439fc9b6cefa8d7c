package vna

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ProgramBytesPerPoint is the instrument program memory used by one sweep point.
const ProgramBytesPerPoint = 16

// Program is the payload of an OpProgram request.
type Program struct {
	HopRate     HopRate
	Attenuation Attenuation
	Mode        AcquisitionMode
	Frequencies []float64
}

const programHeaderSize = 7

// MarshalBinary encodes p.
func (p *Program) MarshalBinary() ([]byte, error) {
	buf := make([]byte, programHeaderSize, programHeaderSize+8*len(p.Frequencies))
	buf[0] = byte(p.HopRate)
	buf[1] = byte(p.Attenuation)
	buf[2] = byte(p.Mode)
	binary.BigEndian.PutUint32(buf[3:], uint32(len(p.Frequencies))) //nolint:gosec
	for _, f := range p.Frequencies {
		buf = appendFloat(buf, f)
	}

	return buf, nil
}

// UnmarshalBinary decodes p. Failures wrap ErrBytes.
func (p *Program) UnmarshalBinary(data []byte) error {
	if len(data) < programHeaderSize {
		return fmt.Errorf("%w: program length %d", ErrBytes, len(data))
	}
	n := int(binary.BigEndian.Uint32(data[3:]))
	if len(data) != programHeaderSize+8*n {
		return fmt.Errorf("%w: program of %d points has %d bytes", ErrBytes, n, len(data))
	}

	p.HopRate = HopRate(data[0])
	p.Attenuation = Attenuation(int8(data[1])) //nolint:gosec
	p.Mode = AcquisitionMode(data[2])
	p.Frequencies = make([]float64, n)
	for i := range p.Frequencies {
		p.Frequencies[i] = readFloat(data[programHeaderSize+8*i:])
	}

	return nil
}

// SweepData is the payload of an OpMeasure or OpFetch response: the complex samples of
// every requested path.
type SweepData struct {
	Paths  Path
	Points int
	data   [len(OrderedPaths)][]complex128
}

const sweepHeaderSize = 5

// NewSweepData allocates zeroed samples for paths.
func NewSweepData(paths Path, points int) *SweepData {
	s := &SweepData{Paths: paths, Points: points}
	for i, p := range OrderedPaths {
		if paths.Has(p) {
			s.data[i] = make([]complex128, points)
		}
	}

	return s
}

func pathIndex(p Path) int {
	for i, q := range OrderedPaths {
		if p == q {
			return i
		}
	}

	return -1
}

// Path returns the samples of the single path p, or nil if p was not measured.
func (s *SweepData) Path(p Path) []complex128 {
	idx := pathIndex(p)
	if idx < 0 {
		return nil
	}

	return s.data[idx]
}

// MarshalBinary encodes s.
func (s *SweepData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, sweepHeaderSize, sweepHeaderSize+16*s.Points*s.Paths.Count())
	buf[0] = byte(s.Paths)
	binary.BigEndian.PutUint32(buf[1:], uint32(s.Points)) //nolint:gosec
	for i, p := range OrderedPaths {
		if !s.Paths.Has(p) {
			continue
		}
		if len(s.data[i]) != s.Points {
			return nil, fmt.Errorf("path %s has %d samples, want %d", p, len(s.data[i]), s.Points)
		}
		for _, v := range s.data[i] {
			buf = appendFloat(buf, real(v))
			buf = appendFloat(buf, imag(v))
		}
	}

	return buf, nil
}

// DecodeSweepData decodes a measurement payload and checks it carries exactly the
// requested paths and number of points. Failures wrap ErrBytes.
func DecodeSweepData(payload []byte, paths Path, points int) (*SweepData, error) {
	if len(payload) < sweepHeaderSize {
		return nil, fmt.Errorf("%w: measurement length %d", ErrBytes, len(payload))
	}
	gotPaths := Path(payload[0])
	gotPoints := int(binary.BigEndian.Uint32(payload[1:]))
	if gotPaths != paths {
		return nil, fmt.Errorf("%w: measured paths %s, requested %s", ErrBytes, gotPaths, paths)
	}
	if gotPoints != points {
		return nil, fmt.Errorf("%w: measured %d points, expected %d", ErrBytes, gotPoints, points)
	}
	if want := sweepHeaderSize + 16*points*paths.Count(); len(payload) != want {
		return nil, fmt.Errorf("%w: measurement length %d, expected %d", ErrBytes, len(payload), want)
	}

	s := NewSweepData(paths, points)
	pos := sweepHeaderSize
	for i, p := range OrderedPaths {
		if !paths.Has(p) {
			continue
		}
		for j := range s.data[i] {
			s.data[i][j] = complex(readFloat(payload[pos:]), readFloat(payload[pos+8:]))
			pos += 16
		}
	}

	return s, nil
}

// CalibrationData is the payload of an OpFactoryCal response.
type CalibrationData struct {
	Frequencies []float64
	Terms       ErrorTerms
}

// MarshalBinary encodes c.
func (c *CalibrationData) MarshalBinary() ([]byte, error) {
	n := len(c.Frequencies)
	if c.Terms.Len() != n {
		return nil, fmt.Errorf("calibration terms do not match %d frequencies", n)
	}

	buf := make([]byte, 4, 4+8*n+16*n*NumTerms)
	binary.BigEndian.PutUint32(buf, uint32(n)) //nolint:gosec
	for _, f := range c.Frequencies {
		buf = appendFloat(buf, f)
	}
	for _, term := range c.Terms {
		for _, v := range term {
			buf = appendFloat(buf, real(v))
			buf = appendFloat(buf, imag(v))
		}
	}

	return buf, nil
}

// UnmarshalBinary decodes c. Failures wrap ErrBytes.
func (c *CalibrationData) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: calibration length %d", ErrBytes, len(data))
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data) != 4+8*n+16*n*NumTerms {
		return fmt.Errorf("%w: calibration of %d points has %d bytes", ErrBytes, n, len(data))
	}

	pos := 4
	c.Frequencies = make([]float64, n)
	for i := range c.Frequencies {
		c.Frequencies[i] = readFloat(data[pos:])
		pos += 8
	}
	for t := range c.Terms {
		c.Terms[t] = make([]complex128, n)
		for i := range c.Terms[t] {
			c.Terms[t][i] = complex(readFloat(data[pos:]), readFloat(data[pos+8:]))
			pos += 16
		}
	}

	return nil
}

func appendFloat(buf []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}

func readFloat(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
