package cal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/arloliu/go-vna/vna"
)

// FileVersion is the calibration file format version written by Encode.
const FileVersion = 1

// File is a persisted calibration.
type File struct {
	Version      int                     `json:"version"`
	ID           string                  `json:"id"`
	SerialNumber int                     `json:"serial_number"`
	Created      time.Time               `json:"created"`
	Frequencies  []float64               `json:"frequencies"`
	Terms        map[string][][2]float64 `json:"terms"`
}

// NewFile creates a calibration file for the instrument with the given serial number.
func NewFile(serial int, freqs []float64, terms *vna.ErrorTerms) (*File, error) {
	if terms.Len() != len(freqs) {
		return nil, fmt.Errorf("%w: %d frequencies, %d term points", vna.ErrBadCal, len(freqs), terms.Len())
	}

	f := &File{
		Version:      FileVersion,
		ID:           uuid.NewString(),
		SerialNumber: serial,
		Created:      time.Now().UTC(),
		Frequencies:  append([]float64(nil), freqs...),
		Terms:        make(map[string][][2]float64, vna.NumTerms),
	}
	for t, arr := range terms {
		pairs := make([][2]float64, len(arr))
		for i, v := range arr {
			pairs[i] = [2]float64{real(v), imag(v)}
		}
		f.Terms[vna.Term(t).String()] = pairs
	}

	return f, nil
}

// ErrorTerms returns the terms stored in f.
func (f *File) ErrorTerms() (vna.ErrorTerms, error) {
	var terms vna.ErrorTerms
	for t := range terms {
		name := vna.Term(t).String()
		pairs, ok := f.Terms[name]
		if !ok || len(pairs) != len(f.Frequencies) {
			return vna.ErrorTerms{}, fmt.Errorf("%w: term %s missing or wrong length", vna.ErrBadCal, name)
		}
		terms[t] = make([]complex128, len(pairs))
		for i, p := range pairs {
			terms[t][i] = complex(p[0], p[1])
		}
	}

	return terms, nil
}

// Encode writes f to w as gzip compressed JSON.
func (f *File) Encode(w io.Writer) error {
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(f); err != nil {
		_ = zw.Close()
		return err
	}

	return zw.Close()
}

// Decode reads a calibration file written by Encode.
func Decode(r io.Reader) (*File, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vna.ErrBadCal, err)
	}
	defer zr.Close()

	var f File
	if err := json.NewDecoder(zr).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", vna.ErrBadCal, err)
	}
	if f.Version != FileVersion {
		return nil, fmt.Errorf("%w: unsupported calibration file version %d", vna.ErrBadCal, f.Version)
	}

	return &f, nil
}

// WriteFile writes f to path.
func WriteFile(path string, f *File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Encode(out); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

// ReadFile reads a calibration file from path.
func ReadFile(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	return Decode(in)
}
