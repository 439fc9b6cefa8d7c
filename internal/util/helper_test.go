package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneSlice(t *testing.T) {
	require := require.New(t)

	src := []float64{1, 2, 3}
	clone := CloneSlice(src, 0)
	require.Equal(src, clone)
	clone[0] = 9
	require.InDelta(1, src[0], 0)

	require.Equal([]float64{1, 2, 3, 0}, CloneSlice(src, 4))
	require.Equal([]float64{1}, CloneSlice(src, 1))
}

func TestDivideComplex(t *testing.T) {
	require := require.New(t)

	got := DivideComplex([]complex128{2, 1i, 5}, []complex128{2, 1i, 0})
	require.Equal([]complex128{1, 1, 0}, got)
}
