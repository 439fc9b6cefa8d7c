package cal

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/vna"
)

// testTerms returns a smoothly varying, well conditioned error model.
func testTerms(n int) vna.ErrorTerms {
	var terms vna.ErrorTerms
	for t := range terms {
		terms[t] = make([]complex128, n)
		for i := range terms[t] {
			phase := float64(i)*0.05 + float64(t)*0.3
			switch vna.Term(t) {
			case vna.TermERF, vna.TermETF, vna.TermERR, vna.TermETR:
				terms[t][i] = cmplx.Rect(0.8+0.01*float64(t), phase)
			case vna.TermEXF, vna.TermEXR:
				terms[t][i] = cmplx.Rect(0.001, phase)
			default:
				terms[t][i] = cmplx.Rect(0.05+0.01*float64(t), phase)
			}
		}
	}

	return terms
}

var standards = map[vna.CalStep]Matrix{
	vna.CalP1Open:  {S11: 1},
	vna.CalP1Short: {S11: -1},
	vna.CalP1Load:  {},
	vna.CalP2Open:  {S22: 1},
	vna.CalP2Short: {S22: -1},
	vna.CalP2Load:  {},
	vna.CalThru:    {S21: 1, S12: 1},
}

func measureSteps(terms *vna.ErrorTerms, n int) Steps {
	var steps Steps
	for _, step := range vna.CalSteps {
		data := StepData{}
		for _, p := range vna.OrderedPaths {
			if step.Paths().Has(p) && p != vna.PathRef {
				data[p] = make([]complex128, n)
			}
		}
		for i := 0; i < n; i++ {
			e := At(terms, i)
			m := Distort(&e, standards[step])
			for p, arr := range data {
				switch p {
				case vna.PathT1R1:
					arr[i] = m.S11
				case vna.PathT1R2:
					arr[i] = m.S21
				case vna.PathT2R1:
					arr[i] = m.S12
				case vna.PathT2R2:
					arr[i] = m.S22
				}
			}
		}
		steps[step] = data
	}

	return steps
}

func requireTermsEqual(t *testing.T, want, got *vna.ErrorTerms, tol float64) {
	t.Helper()
	for term := range want {
		require.Len(t, got[term], len(want[term]))
		for i := range want[term] {
			require.InDelta(t, 0, cmplx.Abs(want[term][i]-got[term][i]), tol, "term %s point %d", vna.Term(term), i)
		}
	}
}

func TestSolve(t *testing.T) {
	require := require.New(t)
	const n = 21

	terms := testTerms(n)
	steps := measureSteps(&terms, n)

	t.Run("Recovers Model", func(t *testing.T) {
		got, err := Solve(&steps, nil)
		require.NoError(err)
		requireTermsEqual(t, &terms, &got, 1e-9)
	})

	t.Run("Corrects Device", func(t *testing.T) {
		got, err := Solve(&steps, nil)
		require.NoError(err)

		dut := Matrix{S11: 0.2 - 0.1i, S21: 0.7i, S12: 0.7i, S22: -0.3 + 0.05i}
		for i := 0; i < n; i++ {
			actual := At(&terms, i)
			solved := At(&got, i)
			raw := Distort(&actual, dut)
			corrected := Correct(&solved, raw)
			require.InDelta(0, cmplx.Abs(corrected.S11-dut.S11), 1e-9)
			require.InDelta(0, cmplx.Abs(corrected.S21-dut.S21), 1e-9)
			require.InDelta(0, cmplx.Abs(corrected.S12-dut.S12), 1e-9)
			require.InDelta(0, cmplx.Abs(corrected.S22-dut.S22), 1e-9)
		}
	})

	t.Run("Open Phase Correction", func(t *testing.T) {
		phase := make([]float64, n)
		rotated := steps
		rotated[vna.CalP1Open] = StepData{vna.PathT1R1: make([]complex128, n)}
		rotated[vna.CalP2Open] = StepData{vna.PathT2R2: make([]complex128, n)}
		for i := range phase {
			phase[i] = 0.01 * float64(i)
			back := cmplx.Rect(1, -phase[i])
			rotated[vna.CalP1Open][vna.PathT1R1][i] = steps[vna.CalP1Open][vna.PathT1R1][i] * back
			rotated[vna.CalP2Open][vna.PathT2R2][i] = steps[vna.CalP2Open][vna.PathT2R2][i] * back
		}

		got, err := Solve(&rotated, phase)
		require.NoError(err)
		requireTermsEqual(t, &terms, &got, 1e-9)

		_, err = Solve(&rotated, phase[:3])
		require.ErrorIs(err, vna.ErrBadCal)
	})

	t.Run("Incomplete", func(t *testing.T) {
		partial := steps
		partial[vna.CalThru] = nil
		require.False(partial.Complete())
		_, err := Solve(&partial, nil)
		require.ErrorIs(err, vna.ErrBadCal)
	})

	t.Run("Length Mismatch", func(t *testing.T) {
		short := steps
		short[vna.CalP2Short] = StepData{vna.PathT2R2: make([]complex128, n-1)}
		_, err := Solve(&short, nil)
		require.ErrorIs(err, vna.ErrBadCal)
	})

	t.Run("Degenerate Standards", func(t *testing.T) {
		bad := steps
		bad[vna.CalP1Short] = StepData{vna.PathT1R1: steps[vna.CalP1Open][vna.PathT1R1]}
		_, err := Solve(&bad, nil)
		require.ErrorIs(err, vna.ErrBadCal)
	})
}

func TestInterpolate(t *testing.T) {
	require := require.New(t)

	calFreqs := []float64{1000, 1100, 1200}
	var terms vna.ErrorTerms
	for i := range terms {
		terms[i] = []complex128{complex(0, 1), complex(1, 3), complex(3, 5)}
	}

	t.Run("Identity", func(t *testing.T) {
		got, err := Interpolate(calFreqs, &terms, []float64{1000, 1100, 1200})
		require.NoError(err)
		requireTermsEqual(t, &terms, &got, 0)
		got[0][0] = 99
		require.Equal(complex(0, 1), terms[0][0])
	})

	t.Run("Linear And Clamped", func(t *testing.T) {
		got, err := Interpolate(calFreqs, &terms, []float64{900, 1050, 1150, 1200, 1300})
		require.NoError(err)
		want := []complex128{complex(0, 1), complex(0.5, 2), complex(2, 4), complex(3, 5), complex(3, 5)}
		for term := range got {
			for i, w := range want {
				require.InDelta(0, cmplx.Abs(got[term][i]-w), 1e-12)
			}
		}
	})

	t.Run("Unordered With Duplicates", func(t *testing.T) {
		freqs := []float64{1200, 1000, 1000, 1100}
		var dup vna.ErrorTerms
		for i := range dup {
			dup[i] = []complex128{complex(3, 5), complex(0, 1), complex(7, 7), complex(1, 3)}
		}
		got, err := Interpolate(freqs, &dup, []float64{1050})
		require.NoError(err)
		require.InDelta(0, cmplx.Abs(got[vna.TermEDF][0]-complex(0.5, 2)), 1e-12)
	})

	t.Run("Single Point", func(t *testing.T) {
		var one vna.ErrorTerms
		for i := range one {
			one[i] = []complex128{complex(2, -2)}
		}
		got, err := Interpolate([]float64{1500}, &one, []float64{1000, 2000})
		require.NoError(err)
		require.Equal([]complex128{complex(2, -2), complex(2, -2)}, got[vna.TermETR])
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := Interpolate(nil, &vna.ErrorTerms{}, []float64{1})
		require.ErrorIs(err, vna.ErrBadCal)
		_, err = Interpolate([]float64{1, 2}, &terms, []float64{1})
		require.ErrorIs(err, vna.ErrBadCal)
		_, err = Interpolate([]float64{1, math.NaN(), 3}, &terms, []float64{1})
		require.ErrorIs(err, vna.ErrBadCal)
	})
}
