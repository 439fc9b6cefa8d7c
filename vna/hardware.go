package vna

import "fmt"

// MaxBandBoundaries is the capacity of HardwareDetails.BandBoundaries.
const MaxBandBoundaries = 8

// HardwareDetails describes the capabilities of an instrument as read from its PROM.
// The zero value means the details have not been downloaded.
type HardwareDetails struct {
	// MinimumFrequency is the lowest tunable frequency in MHz.
	MinimumFrequency int `json:"minimum_frequency" yaml:"minimum_frequency"`
	// MaximumFrequency is the highest tunable frequency in MHz.
	MaximumFrequency int `json:"maximum_frequency" yaml:"maximum_frequency"`
	// MaximumPoints is the largest number of points in one sweep.
	MaximumPoints int `json:"maximum_points" yaml:"maximum_points"`
	// SerialNumber is the unit's serial number.
	SerialNumber int `json:"serial_number" yaml:"serial_number"`
	// BandBoundaries holds the synthesizer band switch frequencies in MHz, highest first.
	BandBoundaries [MaxBandBoundaries]int `json:"band_boundaries" yaml:"band_boundaries"`
	// NumberOfBandBoundaries is the number of valid entries in BandBoundaries.
	NumberOfBandBoundaries int `json:"number_of_band_boundaries" yaml:"number_of_band_boundaries"`
}

// IsZero reports whether h is the unset descriptor.
func (h HardwareDetails) IsZero() bool { return h == HardwareDetails{} }

// Boundaries returns the valid band boundaries, highest first.
func (h HardwareDetails) Boundaries() []int {
	n := min(max(h.NumberOfBandBoundaries, 0), MaxBandBoundaries)
	return append([]int(nil), h.BandBoundaries[:n]...)
}

// Validate checks that h describes a usable instrument. Failures wrap ErrBadProm.
func (h HardwareDetails) Validate() error {
	if h.MinimumFrequency <= 0 || h.MaximumFrequency <= h.MinimumFrequency {
		return fmt.Errorf("%w: frequency range [%d, %d] MHz", ErrBadProm, h.MinimumFrequency, h.MaximumFrequency)
	}
	if h.MaximumPoints <= 0 {
		return fmt.Errorf("%w: maximum points %d", ErrBadProm, h.MaximumPoints)
	}
	if h.NumberOfBandBoundaries < 0 || h.NumberOfBandBoundaries > MaxBandBoundaries {
		return fmt.Errorf("%w: %d band boundaries", ErrBadProm, h.NumberOfBandBoundaries)
	}
	for i := 1; i < h.NumberOfBandBoundaries; i++ {
		if h.BandBoundaries[i] >= h.BandBoundaries[i-1] {
			return fmt.Errorf("%w: band boundaries not descending at %d", ErrBadProm, i)
		}
	}

	return nil
}
