package cal

import (
	"fmt"
	"math/cmplx"

	"github.com/arloliu/go-vna/vna"
)

// StepData holds the ratioed measurements of one calibration step by path.
type StepData map[vna.Path][]complex128

// Steps holds the raw data of every calibration step. A nil entry has not been measured.
type Steps [vna.NumCalSteps]StepData

// Complete reports whether all seven steps are present.
func (s *Steps) Complete() bool {
	for _, d := range s {
		if d == nil {
			return false
		}
	}

	return true
}

// Matrix is a two-port S-parameter matrix at one frequency.
type Matrix struct {
	S11, S21, S12, S22 complex128
}

// Point holds the twelve error terms at one frequency, indexed by vna.Term.
type Point [vna.NumTerms]complex128

// At returns the error terms of point i.
func At(terms *vna.ErrorTerms, i int) Point {
	var p Point
	for t := range p {
		p[t] = terms[t][i]
	}

	return p
}

// rawArrays are the eleven measurement arrays the solver consumes.
type rawArrays struct {
	p1Open, p1Short, p1Load []complex128
	p2Open, p2Short, p2Load []complex128
	iso21, iso12            []complex128
	thru11, thru21          []complex128
	thru12, thru22          []complex128
}

func (s *Steps) arrays() (*rawArrays, int, error) {
	n := len(s[vna.CalThru][vna.PathT1R1])
	var err error
	get := func(step vna.CalStep, p vna.Path) []complex128 {
		data := s[step][p]
		if len(data) != n && err == nil {
			err = fmt.Errorf("%w: step %s path %s has %d points, want %d", vna.ErrBadCal, step, p, len(data), n)
		}
		return data
	}

	r := &rawArrays{
		p1Open:  get(vna.CalP1Open, vna.PathT1R1),
		p1Short: get(vna.CalP1Short, vna.PathT1R1),
		p1Load:  get(vna.CalP1Load, vna.PathT1R1),
		p2Open:  get(vna.CalP2Open, vna.PathT2R2),
		p2Short: get(vna.CalP2Short, vna.PathT2R2),
		p2Load:  get(vna.CalP2Load, vna.PathT2R2),
		iso21:   get(vna.CalP1Load, vna.PathT1R2),
		iso12:   get(vna.CalP2Load, vna.PathT2R1),
		thru11:  get(vna.CalThru, vna.PathT1R1),
		thru21:  get(vna.CalThru, vna.PathT1R2),
		thru12:  get(vna.CalThru, vna.PathT2R1),
		thru22:  get(vna.CalThru, vna.PathT2R2),
	}

	return r, n, err
}

// Solve computes the error terms from complete raw steps.
//
// phase, if not nil, holds per point radians added to the phase of both open measurements
// before solving. Solve fails with vna.ErrBadCal if a step is missing, the steps disagree in
// length or the standards are degenerate.
func Solve(steps *Steps, phase []float64) (vna.ErrorTerms, error) {
	var terms vna.ErrorTerms
	if !steps.Complete() {
		return terms, fmt.Errorf("%w: calibration steps incomplete", vna.ErrBadCal)
	}

	raw, n, err := steps.arrays()
	if err != nil {
		return terms, err
	}
	if phase != nil && len(phase) != n {
		return terms, fmt.Errorf("%w: phase correction has %d points, want %d", vna.ErrBadCal, len(phase), n)
	}

	for t := range terms {
		terms[t] = make([]complex128, n)
	}

	for i := 0; i < n; i++ {
		rot := complex(1, 0)
		if phase != nil {
			rot = cmplx.Rect(1, phase[i])
		}

		edf, esf, erf, ok := onePort(raw.p1Open[i]*rot, raw.p1Short[i], raw.p1Load[i])
		if !ok {
			return vna.ErrorTerms{}, fmt.Errorf("%w: port 1 standards degenerate at point %d", vna.ErrBadCal, i)
		}
		edr, esr, ert, ok := onePort(raw.p2Open[i]*rot, raw.p2Short[i], raw.p2Load[i])
		if !ok {
			return vna.ErrorTerms{}, fmt.Errorf("%w: port 2 standards degenerate at point %d", vna.ErrBadCal, i)
		}

		elf := loadMatch(raw.thru11[i], edf, esf, erf)
		elr := loadMatch(raw.thru22[i], edr, esr, ert)

		p := Point{
			vna.TermEDF: edf,
			vna.TermESF: esf,
			vna.TermERF: erf,
			vna.TermEXF: raw.iso21[i],
			vna.TermELF: elf,
			vna.TermETF: (raw.thru21[i] - raw.iso21[i]) * (1 - esf*elf),
			vna.TermEDR: edr,
			vna.TermESR: esr,
			vna.TermERR: ert,
			vna.TermEXR: raw.iso12[i],
			vna.TermELR: elr,
			vna.TermETR: (raw.thru12[i] - raw.iso12[i]) * (1 - esr*elr),
		}
		for t, v := range p {
			if cmplx.IsNaN(v) || cmplx.IsInf(v) {
				return vna.ErrorTerms{}, fmt.Errorf("%w: term %s not finite at point %d", vna.ErrBadCal, vna.Term(t), i)
			}
			terms[t][i] = v
		}
	}

	return terms, nil
}

// onePort solves directivity, source match and reflection tracking from the measured
// open, short and load reflections.
func onePort(open, short, load complex128) (ed, es, er complex128, ok bool) {
	a := open - load
	b := short - load
	d := a - b
	if d == 0 {
		return 0, 0, 0, false
	}

	return load, (a + b) / d, -2 * a * b / d, true
}

func loadMatch(m, ed, es, er complex128) complex128 {
	x := m - ed
	return x / (er + es*x)
}

// Correct removes the error terms e from the raw ratios m.
func Correct(e *Point, m Matrix) Matrix {
	n11 := (m.S11 - e[vna.TermEDF]) / e[vna.TermERF]
	n21 := (m.S21 - e[vna.TermEXF]) / e[vna.TermETF]
	n12 := (m.S12 - e[vna.TermEXR]) / e[vna.TermETR]
	n22 := (m.S22 - e[vna.TermEDR]) / e[vna.TermERR]

	esf, elf := e[vna.TermESF], e[vna.TermELF]
	esr, elr := e[vna.TermESR], e[vna.TermELR]

	d := (1+n11*esf)*(1+n22*esr) - n21*n12*elf*elr

	return Matrix{
		S11: (n11*(1+n22*esr) - elf*n21*n12) / d,
		S21: n21 * (1 + n22*(esr-elf)) / d,
		S12: n12 * (1 + n11*(esf-elr)) / d,
		S22: (n22*(1+n11*esf) - elr*n21*n12) / d,
	}
}

// Distort applies the error terms e to the actual S-parameters s of a device and returns
// the ratios a receiver would measure.
func Distort(e *Point, s Matrix) Matrix {
	ds := s.S11*s.S22 - s.S21*s.S12

	esf, elf := e[vna.TermESF], e[vna.TermELF]
	df := 1 - esf*s.S11 - elf*s.S22 + esf*elf*ds

	esr, elr := e[vna.TermESR], e[vna.TermELR]
	dr := 1 - esr*s.S22 - elr*s.S11 + esr*elr*ds

	return Matrix{
		S11: e[vna.TermEDF] + e[vna.TermERF]*(s.S11-elf*ds)/df,
		S21: e[vna.TermEXF] + e[vna.TermETF]*s.S21/df,
		S12: e[vna.TermEXR] + e[vna.TermETR]*s.S12/dr,
		S22: e[vna.TermEDR] + e[vna.TermERR]*(s.S22-elr*ds)/dr,
	}
}
