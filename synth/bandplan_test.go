package synth

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/arloliu/go-vna/vna"
)

func akelaDetails() vna.HardwareDetails {
	return vna.HardwareDetails{
		MinimumFrequency:       375,
		MaximumFrequency:       6050,
		MaximumPoints:          4001,
		SerialNumber:           401,
		BandBoundaries:         [vna.MaxBandBoundaries]int{3000, 1500, 750},
		NumberOfBandBoundaries: 3,
	}
}

func flatDetails() vna.HardwareDetails {
	return vna.HardwareDetails{MinimumFrequency: 1000, MaximumFrequency: 2000, MaximumPoints: 1001}
}

func TestBandPlanConstruction(t *testing.T) {
	require := require.New(t)

	plan, err := NewBandPlan(akelaDetails())
	require.NoError(err)
	require.Len(plan.bands, 4)
	require.InDelta(VCOResolution, plan.Step(4000), 0)
	require.InDelta(VCOResolution/2, plan.Step(2000), 0)
	require.InDelta(VCOResolution/4, plan.Step(1000), 0)
	require.InDelta(VCOResolution/8, plan.Step(400), 0)
	require.InDelta(VCOResolution/2, plan.Step(1500), 0)

	plan, err = NewBandPlan(flatDetails())
	require.NoError(err)
	require.Len(plan.bands, 1)

	_, err = NewBandPlan(vna.HardwareDetails{})
	require.ErrorIs(err, vna.ErrBadProm)
}

func TestNearest(t *testing.T) {
	require := require.New(t)

	plan, err := NewBandPlan(akelaDetails())
	require.NoError(err)

	t.Run("Out Of Bounds", func(t *testing.T) {
		for _, f := range []float64{374.9, 6050.01, math.NaN(), -1} {
			_, err := plan.Nearest(f)
			require.ErrorIs(err, vna.ErrFreqOutOfBounds)
		}
	})

	t.Run("Bounds Are Achievable", func(t *testing.T) {
		lo, err := plan.Nearest(375)
		require.NoError(err)
		require.InDelta(375, lo, 0)
		hi, err := plan.Nearest(6050)
		require.NoError(err)
		require.InDelta(6050, hi, 0)
	})

	t.Run("Idempotent", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(1)) //nolint:gosec
		for i := 0; i < 20000; i++ {
			f := 375 + rnd.Float64()*(6050-375)
			once, err := plan.Nearest(f)
			require.NoError(err)
			twice, err := plan.Nearest(once)
			require.NoError(err)
			require.Equal(once, twice, "f=%v", f)
			require.LessOrEqual(math.Abs(once-f), 0.01)
			require.GreaterOrEqual(once, plan.Min())
			require.LessOrEqual(once, plan.Max())
		}
	})

	t.Run("Band Edges", func(t *testing.T) {
		for _, edge := range []float64{750, 1500, 3000} {
			for _, f := range []float64{edge - 1e-6, edge, edge + 1e-6} {
				once, err := plan.Nearest(f)
				require.NoError(err)
				twice, err := plan.Nearest(once)
				require.NoError(err)
				require.Equal(once, twice, "f=%v", f)
			}
		}
	})
}

func TestLinearSweep(t *testing.T) {
	require := require.New(t)

	plan, err := NewBandPlan(akelaDetails())
	require.NoError(err)

	checkUniform := func(freqs []float64) {
		require.NotEmpty(freqs)
		if len(freqs) < 2 {
			return
		}
		diffs := make([]float64, len(freqs)-1)
		for i := range diffs {
			diffs[i] = freqs[i+1] - freqs[i]
		}
		for _, d := range diffs {
			require.True(scalar.EqualWithinAbs(d, diffs[0], 1e-9), "spacing %v vs %v", d, diffs[0])
		}
		for _, f := range freqs {
			require.GreaterOrEqual(f, plan.Min())
			require.LessOrEqual(f, plan.Max())
			snapped, err := plan.Nearest(f)
			require.NoError(err)
			require.Equal(f, snapped)
		}
	}

	t.Run("Across Bands", func(t *testing.T) {
		freqs, err := plan.LinearSweep(400, 1500, 8)
		require.NoError(err)
		require.Len(freqs, 8)
		checkUniform(freqs)
		require.InDelta(400, freqs[0], 0.25)
		require.InDelta(1500, freqs[7], 0.25)

		start, end, err := plan.FixLinearSweepLimits(400, 1500, 8)
		require.NoError(err)
		require.Equal(freqs[0], start)
		require.Equal(freqs[7], end)
	})

	t.Run("Random Sweeps", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(7)) //nolint:gosec
		for i := 0; i < 300; i++ {
			a := 375 + rnd.Float64()*(6050-375)
			b := 375 + rnd.Float64()*(6050-375)
			n := 2 + rnd.Intn(4000)
			freqs, err := plan.LinearSweep(a, b, n)
			require.NoError(err)
			require.Len(freqs, n)
			checkUniform(freqs)
			if a > b {
				require.Greater(freqs[0], freqs[n-1])
			}
		}
	})

	t.Run("Full Range", func(t *testing.T) {
		freqs, err := plan.LinearSweep(375, 6050, 4001)
		require.NoError(err)
		checkUniform(freqs)
	})

	t.Run("Zero Span", func(t *testing.T) {
		flat, err := NewBandPlan(flatDetails())
		require.NoError(err)
		freqs, err := flat.LinearSweep(1500, 1500, 512)
		require.NoError(err)
		require.Len(freqs, 512)
		for _, f := range freqs {
			require.Equal(freqs[0], f)
		}
		require.InDelta(1500, freqs[0], 0.01)
	})

	t.Run("Single Point", func(t *testing.T) {
		start, end, err := plan.FixLinearSweepLimits(1000.0001, 2000.0001, 1)
		require.NoError(err)
		require.InDelta(1000.0001, start, 0.01)
		require.InDelta(2000.0001, end, 0.01)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := plan.LinearSweep(400, 1500, 4002)
		require.ErrorIs(err, vna.ErrTooManyPoints)
		_, _, err = plan.FixLinearSweepLimits(300, 1500, 10)
		require.ErrorIs(err, vna.ErrFreqOutOfBounds)
		_, err = plan.LinearSweep(400, 7000, 10)
		require.ErrorIs(err, vna.ErrFreqOutOfBounds)
		_, err = plan.LinearSweep(400, 1500, 0)
		require.ErrorIs(err, vna.ErrMissingFreqs)
	})
}

func TestQuantize(t *testing.T) {
	require := require.New(t)

	plan, err := NewBandPlan(flatDetails())
	require.NoError(err)

	req := []float64{1000, 1234.56789, 1999.9999}
	got, err := plan.Quantize(req)
	require.NoError(err)
	for i, f := range req {
		want, err := plan.Nearest(f)
		require.NoError(err)
		require.Equal(want, got[i])
	}

	_, err = plan.Quantize([]float64{1500, 2500})
	require.ErrorIs(err, vna.ErrFreqOutOfBounds)
	_, err = plan.Quantize(make([]float64, 1002))
	require.ErrorIs(err, vna.ErrTooManyPoints)
}
