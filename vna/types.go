package vna

import (
	"fmt"
	"strings"
)

// HopRate is the instrument's per-point sampling speed setting.
// Faster hop rates shorten the sweep at the cost of dynamic range.
type HopRate uint8

// Hop rates supported by the instrument, in points per second.
const (
	HopUndefined HopRate = iota
	Hop45K
	Hop30K
	Hop15K
	Hop7K
	Hop3K
	Hop2K
	Hop1K
	Hop550
	Hop312
	Hop156
	Hop78
	Hop39
	Hop20
)

var hopRatePoints = [...]float64{0, 45000, 30000, 15000, 7000, 3000, 2000, 1000, 550, 312, 156, 78, 39, 20}

var hopRateNames = [...]string{"undefined", "45k", "30k", "15k", "7k", "3k", "2k", "1k", "550", "312", "156", "78", "39", "20"}

// Valid reports whether h is a defined hop rate.
func (h HopRate) Valid() bool { return h > HopUndefined && h <= Hop20 }

// PointsPerSecond returns the sampling speed of h, or 0 if h is not valid.
func (h HopRate) PointsPerSecond() float64 {
	if !h.Valid() {
		return 0
	}

	return hopRatePoints[h]
}

// String returns string representation of the hop rate.
func (h HopRate) String() string {
	if int(h) < len(hopRateNames) {
		return hopRateNames[h]
	}

	return "unknown"
}

// ParseHopRate parses a hop rate name such as "45k" or "550".
func ParseHopRate(s string) (HopRate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := Hop45K; i <= Hop20; i++ {
		if hopRateNames[i] == s {
			return i, nil
		}
	}

	return HopUndefined, fmt.Errorf("%w: %q", ErrBadHop, s)
}

// Attenuation is the RF attenuator setting in dB.
type Attenuation int8

const (
	// AttenUndefined is the attenuation of a task before it is explicitly set.
	AttenUndefined Attenuation = -1
	// MinAttenuation is the smallest attenuator setting.
	MinAttenuation Attenuation = 0
	// MaxAttenuation is the largest attenuator setting.
	MaxAttenuation Attenuation = 31
)

// Valid reports whether a is within [0, 31] dB.
func (a Attenuation) Valid() bool { return a >= MinAttenuation && a <= MaxAttenuation }

// String returns string representation of the attenuation.
func (a Attenuation) String() string {
	if !a.Valid() {
		return "undefined"
	}

	return fmt.Sprintf("%ddB", int8(a))
}

// AcquisitionMode selects between triggered and free-running sweeps.
type AcquisitionMode uint8

const (
	// Synchronous tasks trigger one sweep per measurement call.
	Synchronous AcquisitionMode = iota
	// Asynchronous tasks can be armed into free-running acquisition with BeginAsync.
	Asynchronous
)

// Valid reports whether m is a defined acquisition mode.
func (m AcquisitionMode) Valid() bool { return m <= Asynchronous }

// String returns string representation of the acquisition mode.
func (m AcquisitionMode) String() string {
	switch m {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	default:
		return "unknown"
	}
}

// Path is a bit set of receiver paths. TxRy is the signal transmitted from
// port x as received on port y; PathRef is the reference receiver.
type Path uint8

const (
	PathT1R1 Path = 1 << iota
	PathT1R2
	PathT2R1
	PathT2R2
	PathRef

	// PathSignals is the set of the four signal paths.
	PathSignals = PathT1R1 | PathT1R2 | PathT2R1 | PathT2R2
	// PathAll is every path including the reference.
	PathAll = PathSignals | PathRef
)

// OrderedPaths lists single paths in their wire order.
var OrderedPaths = [...]Path{PathRef, PathT1R1, PathT1R2, PathT2R1, PathT2R2}

// Valid reports whether p contains only known path bits.
func (p Path) Valid() bool { return p&^PathAll == 0 }

// Has reports whether all bits of q are set in p.
func (p Path) Has(q Path) bool { return p&q == q }

// Count returns the number of paths in p.
func (p Path) Count() int {
	n := 0
	for _, q := range OrderedPaths {
		if p.Has(q) {
			n++
		}
	}

	return n
}

// Sweeps returns the number of transmitter sweeps needed to measure p.
func (p Path) Sweeps() int {
	n := 0
	if p&(PathT1R1|PathT1R2) != 0 {
		n++
	}
	if p&(PathT2R1|PathT2R2) != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}

	return n
}

// String returns string representation of the path set, e.g. "ref|t1r1".
func (p Path) String() string {
	names := map[Path]string{PathRef: "ref", PathT1R1: "t1r1", PathT1R2: "t1r2", PathT2R1: "t2r1", PathT2R2: "t2r2"}
	parts := make([]string, 0, len(OrderedPaths))
	for _, q := range OrderedPaths {
		if p.Has(q) {
			parts = append(parts, names[q])
		}
	}
	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// SParameter is a bit set of calibrated scattering parameters.
type SParameter uint8

const (
	S11 SParameter = 1 << iota
	S21
	S12
	S22

	// SAll selects all four S-parameters.
	SAll = S11 | S21 | S12 | S22
)

// Valid reports whether s is a non-empty set of known S-parameters.
func (s SParameter) Valid() bool { return s != 0 && s&^SAll == 0 }

// Has reports whether all bits of q are set in s.
func (s SParameter) Has(q SParameter) bool { return s&q == q }

// String returns string representation of the parameter set, e.g. "s11|s21".
func (s SParameter) String() string {
	parts := make([]string, 0, 4)
	for i, name := range []string{"s11", "s21", "s12", "s22"} {
		if s.Has(SParameter(1 << i)) {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// ParseSParameter parses a parameter set such as "s11|s21" or "s11,s22".
func ParseSParameter(s string) (SParameter, error) {
	var out SParameter
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		switch field {
		case "s11":
			out |= S11
		case "s21":
			out |= S21
		case "s12":
			out |= S12
		case "s22":
			out |= S22
		case "all":
			out |= SAll
		default:
			return 0, fmt.Errorf("%w: unknown S-parameter %q", ErrBadPath, field)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("%w: empty S-parameter set", ErrBadPath)
	}

	return out, nil
}

// CalStep is one of the seven standard connections of a SOLT calibration.
type CalStep uint8

const (
	CalP1Open CalStep = iota
	CalP1Short
	CalP1Load
	CalP2Open
	CalP2Short
	CalP2Load
	CalThru

	// NumCalSteps is the number of distinct calibration steps.
	NumCalSteps = 7
)

// CalSteps lists all calibration steps in measurement order.
var CalSteps = [NumCalSteps]CalStep{CalP1Open, CalP1Short, CalP1Load, CalP2Open, CalP2Short, CalP2Load, CalThru}

var calStepNames = [NumCalSteps]string{"p1_open", "p1_short", "p1_load", "p2_open", "p2_short", "p2_load", "thru"}

// Valid reports whether c is a known calibration step.
func (c CalStep) Valid() bool { return c < NumCalSteps }

// String returns string representation of the calibration step.
func (c CalStep) String() string {
	if c.Valid() {
		return calStepNames[c]
	}

	return "unknown"
}

// ParseCalStep parses a calibration step name such as "p1_open" or "thru".
func ParseCalStep(s string) (CalStep, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range calStepNames {
		if name == s {
			return CalStep(i), nil
		}
	}

	return 0, fmt.Errorf("%w: unknown calibration step %q", ErrBadCal, s)
}

// Paths returns the signal paths measured for the step. Load steps also sample the
// opposite receiver to capture isolation.
func (c CalStep) Paths() Path {
	switch c {
	case CalP1Open, CalP1Short:
		return PathT1R1
	case CalP1Load:
		return PathT1R1 | PathT1R2
	case CalP2Open, CalP2Short:
		return PathT2R2
	case CalP2Load:
		return PathT2R2 | PathT2R1
	case CalThru:
		return PathSignals
	default:
		return 0
	}
}

// IsOpen reports whether c is an open standard on either port.
func (c CalStep) IsOpen() bool { return c == CalP1Open || c == CalP2Open }

// IQ is a caller owned pair of in-phase and quadrature buffers.
// A zero IQ opts out of the corresponding output.
type IQ struct {
	I []float64
	Q []float64
}

// NewIQ allocates an IQ with n points.
func NewIQ(n int) IQ {
	return IQ{I: make([]float64, n), Q: make([]float64, n)}
}

// IsNil reports whether both buffers are nil.
func (b IQ) IsNil() bool { return b.I == nil && b.Q == nil }

// Len returns the number of points both buffers can hold.
func (b IQ) Len() int { return min(len(b.I), len(b.Q)) }

// At returns point i as a complex number.
func (b IQ) At(i int) complex128 { return complex(b.I[i], b.Q[i]) }

// Fill writes src into the buffers starting at index 0.
func (b IQ) Fill(src []complex128) {
	for i, v := range src {
		b.I[i] = real(v)
		b.Q[i] = imag(v)
	}
}

// Complex returns the first n points as a new complex slice.
func (b IQ) Complex(n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = b.At(i)
	}

	return out
}

// Term identifies one of the twelve error terms of a two-port calibration.
type Term uint8

// The forward terms are measured with port 1 driving, the reverse terms with port 2 driving.
const (
	TermEDF Term = iota // e00, forward directivity
	TermESF             // e11, forward source match
	TermERF             // e10e01, forward reflection tracking
	TermEXF             // e30, forward isolation
	TermELF             // e22, forward load match
	TermETF             // e10e32, forward transmission tracking
	TermEDR             // e'33, reverse directivity
	TermESR             // e'22, reverse source match
	TermERR             // e'23e'32, reverse reflection tracking
	TermEXR             // e'03, reverse isolation
	TermELR             // e'11, reverse load match
	TermETR             // e'23e'01, reverse transmission tracking

	// NumTerms is the number of error terms.
	NumTerms = 12
)

var termNames = [NumTerms]string{"EDF", "ESF", "ERF", "EXF", "ELF", "ETF", "EDR", "ESR", "ERR", "EXR", "ELR", "ETR"}

// String returns the short name of the term, e.g. "EDF".
func (t Term) String() string {
	if t < NumTerms {
		return termNames[t]
	}

	return "unknown"
}

// ErrorTerms holds the twelve error term arrays, each indexed like a frequency list.
type ErrorTerms [NumTerms][]complex128

// Len returns the common length of the term arrays, or -1 if they differ.
func (e *ErrorTerms) Len() int {
	n := len(e[0])
	for _, arr := range e[1:] {
		if len(arr) != n {
			return -1
		}
	}

	return n
}

// Clone returns a deep copy of e.
func (e *ErrorTerms) Clone() ErrorTerms {
	var out ErrorTerms
	for i, arr := range e {
		if arr != nil {
			out[i] = append([]complex128(nil), arr...)
		}
	}

	return out
}
