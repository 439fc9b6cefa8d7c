package vna

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHopRate(t *testing.T) {
	require := require.New(t)

	h, err := ParseHopRate(" 45K ")
	require.NoError(err)
	require.Equal(Hop45K, h)
	require.Equal(45000.0, h.PointsPerSecond())

	h, err = ParseHopRate("550")
	require.NoError(err)
	require.Equal(Hop550, h)

	_, err = ParseHopRate("undefined")
	require.ErrorIs(err, ErrBadHop)
	require.Zero(HopUndefined.PointsPerSecond())
}

func TestParseCalStep(t *testing.T) {
	require := require.New(t)

	for _, step := range CalSteps {
		got, err := ParseCalStep(step.String())
		require.NoError(err)
		require.Equal(step, got)
	}

	_, err := ParseCalStep("p3_open")
	require.ErrorIs(err, ErrBadCal)
}

func TestParseSParameter(t *testing.T) {
	tests := []struct {
		in   string
		want SParameter
		err  error
	}{
		{in: "s11", want: S11},
		{in: "s11|s21", want: S11 | S21},
		{in: "S22, s12", want: S12 | S22},
		{in: "all", want: SAll},
		{in: "", err: ErrBadPath},
		{in: "s33", err: ErrBadPath},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSParameter(tt.in)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.want, must(ParseSParameter(got.String())))
		})
	}
}

func TestPath(t *testing.T) {
	require := require.New(t)

	require.Equal(1, PathRef.Sweeps())
	require.Equal(1, (PathT1R1 | PathT1R2).Sweeps())
	require.Equal(2, (PathT1R1 | PathT2R2).Sweeps())
	require.Equal(5, PathAll.Count())
	require.Equal("ref|t1r1|t2r2", (PathT2R2 | PathT1R1 | PathRef).String())
	require.False(Path(0x40).Valid())
	require.Equal(PathT1R1|PathT1R2, CalP1Load.Paths())
	require.True(CalP2Open.IsOpen())
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}
