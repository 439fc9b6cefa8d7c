package cal

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/arloliu/go-vna/vna"
)

// Interpolate resamples terms, indexed by calFreqs, onto freqs.
//
// Each term is linearly interpolated between the two nearest calibration frequencies, real and
// imaginary parts separately. Outside the calibrated range the nearest boundary value is used.
// When freqs equals calFreqs the terms are copied unchanged. Repeated calibration frequencies
// keep their first occurrence.
func Interpolate(calFreqs []float64, terms *vna.ErrorTerms, freqs []float64) (vna.ErrorTerms, error) {
	var out vna.ErrorTerms
	n := len(calFreqs)
	if n == 0 || terms.Len() != n {
		return out, fmt.Errorf("%w: %d calibration frequencies, %d term points", vna.ErrBadCal, n, terms.Len())
	}
	for _, f := range calFreqs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return out, fmt.Errorf("%w: calibration frequency %v", vna.ErrBadCal, f)
		}
	}

	if slices.Equal(calFreqs, freqs) {
		return terms.Clone(), nil
	}

	// order the calibration points by frequency, dropping duplicates
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return calFreqs[idx[a]] < calFreqs[idx[b]] })

	xs := make([]float64, 0, n)
	keep := make([]int, 0, n)
	for _, i := range idx {
		if len(xs) > 0 && calFreqs[i] == xs[len(xs)-1] {
			continue
		}
		xs = append(xs, calFreqs[i])
		keep = append(keep, i)
	}

	for t := range out {
		out[t] = make([]complex128, len(freqs))
		src := terms[t]

		if len(keep) == 1 {
			for j := range freqs {
				out[t][j] = src[keep[0]]
			}
			continue
		}

		re := make([]float64, len(keep))
		im := make([]float64, len(keep))
		for j, i := range keep {
			re[j] = real(src[i])
			im[j] = imag(src[i])
		}

		var reFit, imFit interp.PiecewiseLinear
		if err := reFit.Fit(xs, re); err != nil {
			return vna.ErrorTerms{}, fmt.Errorf("%w: %w", vna.ErrBadCal, err)
		}
		if err := imFit.Fit(xs, im); err != nil {
			return vna.ErrorTerms{}, fmt.Errorf("%w: %w", vna.ErrBadCal, err)
		}

		for j, f := range freqs {
			out[t][j] = complex(reFit.Predict(f), imFit.Predict(f))
		}
	}

	return out, nil
}
