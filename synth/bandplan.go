// Package synth models the instrument's fractional-N frequency synthesizer and maps
// requested frequencies onto the values it can actually generate.
//
// The synthesizer's VCO tunes in steps of PFDFrequency / 2^FractionalBits. Below each band
// boundary an additional divide-by-two stage is switched in, halving the step size, so the
// band below the i-th boundary (counted from the highest) has a step of VCOResolution / 2^(i+1).
// Every achievable frequency is therefore an integer multiple of a power-of-two fraction of
// PFDFrequency, which float64 represents exactly.
package synth

import (
	"fmt"
	"math"

	"github.com/arloliu/go-vna/vna"
)

const (
	// PFDFrequency is the synthesizer reference frequency in MHz.
	PFDFrequency = 50.0
	// FractionalBits is the width of the fractional-N modulus.
	FractionalBits = 14
)

// VCOResolution is the tuning step of the highest band in MHz.
var VCOResolution = math.Ldexp(PFDFrequency, -FractionalBits)

type band struct {
	lo, hi     float64 // lo inclusive, hi exclusive unless it is the plan maximum
	step       float64
	kmin, kmax float64
}

func (b *band) snap(f float64) float64 {
	k := math.Round(f / b.step)
	k = math.Min(math.Max(k, b.kmin), b.kmax)

	return k * b.step
}

// BandPlan maps frequencies onto the synthesizer grid of one instrument.
// A BandPlan is immutable and safe for concurrent use.
type BandPlan struct {
	min, max  float64
	maxPoints int
	bands     []band // ascending frequency
}

// NewBandPlan builds the band plan for the given hardware details.
func NewBandPlan(hw vna.HardwareDetails) (*BandPlan, error) {
	if err := hw.Validate(); err != nil {
		return nil, err
	}

	p := &BandPlan{
		min:       float64(hw.MinimumFrequency),
		max:       float64(hw.MaximumFrequency),
		maxPoints: hw.MaximumPoints,
	}

	// walk from the top band downwards; band i spans [boundary i, boundary i-1)
	upper := math.Inf(1)
	bounds := hw.Boundaries()
	for i := 0; i <= len(bounds); i++ {
		lower := math.Inf(-1)
		if i < len(bounds) {
			lower = float64(bounds[i])
		}
		p.addBand(math.Max(lower, p.min), math.Min(upper, p.max), math.Ldexp(VCOResolution, -i))
		upper = lower
	}

	if len(p.bands) == 0 {
		return nil, fmt.Errorf("%w: no tunable band in [%g, %g] MHz", vna.ErrBadProm, p.min, p.max)
	}

	// reverse into ascending order
	for i, j := 0, len(p.bands)-1; i < j; i, j = i+1, j-1 {
		p.bands[i], p.bands[j] = p.bands[j], p.bands[i]
	}

	return p, nil
}

func (p *BandPlan) addBand(lo, hi, step float64) {
	if lo > hi || (lo == hi && hi != p.max) {
		return
	}

	b := band{lo: lo, hi: hi, step: step, kmin: math.Ceil(lo / step)}
	if hi == p.max {
		b.kmax = math.Floor(hi / step)
	} else {
		b.kmax = math.Ceil(hi/step) - 1
	}
	if b.kmin > b.kmax {
		return
	}
	p.bands = append(p.bands, b)
}

// Min returns the lowest frequency of the plan in MHz.
func (p *BandPlan) Min() float64 { return p.min }

// Max returns the highest frequency of the plan in MHz.
func (p *BandPlan) Max() float64 { return p.max }

// MaxPoints returns the largest number of points in one sweep.
func (p *BandPlan) MaxPoints() int { return p.maxPoints }

// Step returns the synthesizer step size at frequency f.
func (p *BandPlan) Step(f float64) float64 {
	return p.bands[p.bandIndex(f)].step
}

func (p *BandPlan) bandIndex(f float64) int {
	for i := range p.bands {
		if f < p.bands[i].hi {
			return i
		}
	}

	return len(p.bands) - 1
}

func (p *BandPlan) checkBounds(f float64) error {
	if math.IsNaN(f) || f < p.min || f > p.max {
		return fmt.Errorf("%w: %g MHz not in [%g, %g]", vna.ErrFreqOutOfBounds, f, p.min, p.max)
	}

	return nil
}

// Nearest returns the achievable frequency closest to f.
//
// It fails with vna.ErrFreqOutOfBounds if f lies outside [Min, Max]. Nearest is idempotent:
// Nearest(Nearest(f)) == Nearest(f).
func (p *BandPlan) Nearest(f float64) (float64, error) {
	if err := p.checkBounds(f); err != nil {
		return 0, err
	}

	return p.bands[p.bandIndex(f)].snap(f), nil
}

// Quantize returns the achievable frequency for each requested frequency.
func (p *BandPlan) Quantize(freqs []float64) ([]float64, error) {
	if len(freqs) > p.maxPoints {
		return nil, fmt.Errorf("%w: %d points, maximum %d", vna.ErrTooManyPoints, len(freqs), p.maxPoints)
	}

	out := make([]float64, len(freqs))
	for i, f := range freqs {
		v, err := p.Nearest(f)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out[i] = v
	}

	return out, nil
}

// coarsestStep returns the largest step of the bands spanned by [lo, hi].
func (p *BandPlan) coarsestStep(lo, hi float64) float64 {
	step := 0.0
	for i := p.bandIndex(lo); i <= p.bandIndex(hi); i++ {
		step = math.Max(step, p.bands[i].step)
	}

	return step
}

// linearGrid describes the sweep points (start + i*delta) * step, i in [0, n).
type linearGrid struct {
	start, delta, step float64
	n                  int
}

func (g linearGrid) point(i int) float64 {
	return (g.start + float64(i)*g.delta) * g.step
}

func (p *BandPlan) linear(start, end float64, n int) (linearGrid, bool, error) {
	if n > p.maxPoints {
		return linearGrid{}, false, fmt.Errorf("%w: %d points, maximum %d", vna.ErrTooManyPoints, n, p.maxPoints)
	}
	if err := p.checkBounds(start); err != nil {
		return linearGrid{}, false, err
	}
	if err := p.checkBounds(end); err != nil {
		return linearGrid{}, false, err
	}

	descending := start > end
	lo, hi := math.Min(start, end), math.Max(start, end)

	if n <= 1 || lo == hi {
		f, _ := p.Nearest(start)
		return linearGrid{start: f, step: 1, n: n}, false, nil
	}

	step := p.coarsestStep(lo, hi)
	for attempt, attempts := 0, len(p.bands)+1; attempt < attempts; attempt++ {
		gridMin := math.Ceil(p.min / step)
		gridMax := math.Floor(p.max / step)
		span := float64(n - 1)

		kLo := math.Min(math.Max(math.Round(lo/step), gridMin), gridMax)
		delta := math.Max(math.Round((hi-lo)/span/step), 1)
		if kLo+delta*span > gridMax {
			delta = math.Max(math.Floor((gridMax-kLo)/span), 1)
			if kLo+delta*span > gridMax {
				kLo = gridMax - delta*span
			}
		}
		if kLo < gridMin {
			return linearGrid{}, false, fmt.Errorf("%w: %d points do not fit in [%g, %g] MHz", vna.ErrFreqOutOfBounds, n, p.min, p.max)
		}

		g := linearGrid{start: kLo, delta: delta, step: step, n: n}
		coarse := p.coarsestStep(g.point(0), g.point(n-1))
		if coarse <= step {
			return g, descending, nil
		}
		step = coarse
	}

	return linearGrid{}, false, fmt.Errorf("%w: no common step for [%g, %g] MHz", vna.ErrFreqOutOfBounds, lo, hi)
}

// FixLinearSweepLimits adjusts start and end so that n equally spaced points between them
// all land on achievable frequencies.
//
// When start == end or n <= 1 both limits are snapped independently with Nearest. Otherwise a
// step common to every band the sweep spans is chosen, so spacing stays uniform across band
// boundaries. A descending sweep (start > end) stays descending.
func (p *BandPlan) FixLinearSweepLimits(start, end float64, n int) (float64, float64, error) {
	if n <= 1 || start == end {
		if n > p.maxPoints {
			return 0, 0, fmt.Errorf("%w: %d points, maximum %d", vna.ErrTooManyPoints, n, p.maxPoints)
		}
		s, err := p.Nearest(start)
		if err != nil {
			return 0, 0, err
		}
		e, err := p.Nearest(end)
		if err != nil {
			return 0, 0, err
		}

		return s, e, nil
	}

	g, descending, err := p.linear(start, end, n)
	if err != nil {
		return 0, 0, err
	}
	if descending {
		return g.point(n - 1), g.point(0), nil
	}

	return g.point(0), g.point(n - 1), nil
}

// LinearSweep materializes n equally spaced achievable frequencies between start and end,
// after adjusting the limits as FixLinearSweepLimits does.
func (p *BandPlan) LinearSweep(start, end float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: sweep of %d points", vna.ErrMissingFreqs, n)
	}

	g, descending, err := p.linear(start, end, n)
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	for i := range out {
		if descending {
			out[i] = g.point(n - 1 - i)
		} else {
			out[i] = g.point(i)
		}
	}

	return out, nil
}
