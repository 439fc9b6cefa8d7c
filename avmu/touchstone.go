package avmu

import (
	"bufio"
	"fmt"
	"io"
	"math/cmplx"
	"time"

	"github.com/arloliu/go-vna/vna"
)

// MaxVSWR is reported for reflections with magnitude 1 or more.
const MaxVSWR = 9999.0

// WriteTouchstone writes a two-port Touchstone (.s2p) file of the first len(freqs) points
// of s, with frequencies in MHz and real/imaginary data. Parameters with nil buffers are
// written as zero.
func WriteTouchstone(w io.Writer, freqs []float64, s SParamBuffers) error {
	n := len(freqs)
	for _, p := range []vna.SParameter{vna.S11, vna.S21, vna.S12, vna.S22} {
		if err := checkBuffer(p, s.get(p), n); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "! go-vna %s\n", VersionString())
	fmt.Fprintf(bw, "! Date: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintln(bw, "# MHz S RI R 50")

	at := func(b vna.IQ, i int) complex128 {
		if b.IsNil() {
			return 0
		}
		return b.At(i)
	}

	// two-port data order is S11 S21 S12 S22
	for i, f := range freqs {
		s11, s21, s12, s22 := at(s.S11, i), at(s.S21, i), at(s.S12, i), at(s.S22, i)
		fmt.Fprintf(bw, "%.6f %.9f %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n", f,
			real(s11), imag(s11), real(s21), imag(s21),
			real(s12), imag(s12), real(s22), imag(s22))
	}

	return bw.Flush()
}

// VSWR returns the voltage standing wave ratio of the first n reflection samples of b.
func VSWR(b vna.IQ, n int) []float64 {
	n = min(n, b.Len())
	out := make([]float64, n)
	for i := range out {
		gamma := cmplx.Abs(b.At(i))
		if gamma >= 1 {
			out[i] = MaxVSWR
		} else {
			out[i] = (1 + gamma) / (1 - gamma)
		}
	}

	return out
}
