package avmu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/vna"
)

func TestWriteTouchstone(t *testing.T) {
	require := require.New(t)

	freqs := []float64{1000, 1500}
	s := SParamBuffers{
		S11: vna.IQ{I: []float64{0.5, 0.25}, Q: []float64{-0.5, 0}},
		S21: vna.IQ{I: []float64{1, 0.5}, Q: []float64{0, 0.5}},
	}

	var buf bytes.Buffer
	require.NoError(WriteTouchstone(&buf, freqs, s))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(lines, 5)
	require.True(strings.HasPrefix(lines[0], "! go-vna "+VersionString()))
	require.Equal("# MHz S RI R 50", lines[2])
	require.Equal("1000.000000 0.500000000 -0.500000000 1.000000000 0.000000000 0.000000000 0.000000000 0.000000000 0.000000000", lines[3])
	require.Len(strings.Fields(lines[4]), 9)

	s.S12 = vna.NewIQ(1)
	require.ErrorIs(WriteTouchstone(&buf, freqs, s), vna.ErrBufferSize)
}

func TestVSWR(t *testing.T) {
	require := require.New(t)

	b := vna.IQ{I: []float64{0, 0.5, 1, 0}, Q: []float64{0, 0, 0, -2}}
	vswr := VSWR(b, 10)
	require.Len(vswr, 4)
	require.Equal(1.0, vswr[0])
	require.InDelta(3.0, vswr[1], 1e-12)
	require.Equal(MaxVSWR, vswr[2])
	require.Equal(MaxVSWR, vswr[3])

	require.Len(VSWR(b, 2), 2)
}

func TestVersionString(t *testing.T) {
	require.Equal(t, "2.3.0", VersionString())
}
