package simulator

import (
	"math"
	"math/cmplx"

	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/vna"
)

// DUT returns the S-parameters of the connected device at freq MHz.
type DUT func(freq float64) cal.Matrix

// DefaultErrorModel is a smooth, well conditioned error model resembling a coaxial test set
// with a few centimetres of cable on each port.
func DefaultErrorModel(freq float64) cal.Point {
	ghz := freq / 1000
	delay := -2 * math.Pi * ghz * 0.4

	var p cal.Point
	for t := range p {
		phase := delay + 0.3*float64(t)
		switch vna.Term(t) {
		case vna.TermERF, vna.TermETF, vna.TermERR, vna.TermETR:
			p[t] = cmplx.Rect(0.85-0.03*ghz, 2*phase)
		case vna.TermEXF, vna.TermEXR:
			p[t] = cmplx.Rect(0.0005+0.0001*ghz, phase)
		default:
			p[t] = cmplx.Rect(0.04+0.01*ghz, phase)
		}
	}

	return p
}

// Reference returns the reference receiver sample at freq MHz.
func Reference(freq float64) complex128 {
	return cmplx.Rect(0.5-0.02*freq/1000, -2*math.Pi*freq/1000*0.1)
}

// Reflect is a pair of one-port terminations with reflection s11 on port 1 and s22 on port 2.
func Reflect(s11, s22 complex128) DUT {
	return func(float64) cal.Matrix {
		return cal.Matrix{S11: s11, S22: s22}
	}
}

// Thru is an ideal zero-length thru.
func Thru() DUT {
	return func(float64) cal.Matrix {
		return cal.Matrix{S21: 1, S12: 1}
	}
}

// Line is a matched transmission line with the given loss in dB and delay in nanoseconds.
func Line(lossDB, delayNs float64) DUT {
	mag := math.Pow(10, -lossDB/20)
	return func(freq float64) cal.Matrix {
		s21 := cmplx.Rect(mag, -2*math.Pi*freq*1e-3*delayNs)
		return cal.Matrix{S21: s21, S12: s21}
	}
}

// Standard returns the ideal standard of a calibration step. The port that is not
// under test is terminated with a load.
func Standard(step vna.CalStep) DUT {
	switch step {
	case vna.CalP1Open:
		return Reflect(1, 0)
	case vna.CalP1Short:
		return Reflect(-1, 0)
	case vna.CalP2Open:
		return Reflect(0, 1)
	case vna.CalP2Short:
		return Reflect(0, -1)
	case vna.CalThru:
		return Thru()
	default:
		return Reflect(0, 0)
	}
}

// sweep computes the receiver samples of paths for the device dut.
func sweep(model ErrorModel, dut DUT, freqs []float64, paths vna.Path) *vna.SweepData {
	data := vna.NewSweepData(paths, len(freqs))
	ref := data.Path(vna.PathRef)
	t1r1, t1r2 := data.Path(vna.PathT1R1), data.Path(vna.PathT1R2)
	t2r1, t2r2 := data.Path(vna.PathT2R1), data.Path(vna.PathT2R2)

	for i, f := range freqs {
		e := model(f)
		m := cal.Distort(&e, dut(f))
		a := Reference(f)

		if ref != nil {
			ref[i] = a
		}
		if t1r1 != nil {
			t1r1[i] = m.S11 * a
		}
		if t1r2 != nil {
			t1r2[i] = m.S21 * a
		}
		if t2r1 != nil {
			t2r1[i] = m.S12 * a
		}
		if t2r2 != nil {
			t2r2[i] = m.S22 * a
		}
	}

	return data
}

// factoryTerms evaluates model at freqs.
func factoryTerms(model ErrorModel, freqs []float64) vna.ErrorTerms {
	var terms vna.ErrorTerms
	for t := range terms {
		terms[t] = make([]complex128, len(freqs))
	}
	for i, f := range freqs {
		p := model(f)
		for t := range terms {
			terms[t][i] = p[t]
		}
	}

	return terms
}
