package avmu

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/internal/util"
	"github.com/arloliu/go-vna/vna"
)

// PathBuffers receives uncalibrated receiver samples. A zero IQ opts out of its path.
type PathBuffers struct {
	T1R1 vna.IQ
	T1R2 vna.IQ
	T2R1 vna.IQ
	T2R2 vna.IQ
	Ref  vna.IQ
}

func (b *PathBuffers) get(p vna.Path) vna.IQ {
	switch p {
	case vna.PathT1R1:
		return b.T1R1
	case vna.PathT1R2:
		return b.T1R2
	case vna.PathT2R1:
		return b.T2R1
	case vna.PathT2R2:
		return b.T2R2
	case vna.PathRef:
		return b.Ref
	default:
		return vna.IQ{}
	}
}

// SParamBuffers receives calibrated S-parameters. A zero IQ opts out of its parameter.
type SParamBuffers struct {
	S11 vna.IQ
	S21 vna.IQ
	S12 vna.IQ
	S22 vna.IQ
}

func (b *SParamBuffers) get(s vna.SParameter) vna.IQ {
	switch s {
	case vna.S11:
		return b.S11
	case vna.S21:
		return b.S21
	case vna.S12:
		return b.S12
	case vna.S22:
		return b.S22
	default:
		return vna.IQ{}
	}
}

func checkBuffer(name fmt.Stringer, b vna.IQ, n int) error {
	if b.IsNil() {
		return nil
	}
	if len(b.I) < n || len(b.Q) < n {
		return fmt.Errorf("%w: %s buffer holds %d points, sweep has %d", vna.ErrBufferSize, name, b.Len(), n)
	}

	return nil
}

// sweepDuration estimates how long the instrument takes to sweep paths.
func (t *Task) sweepDuration(paths vna.Path) time.Duration {
	pps := t.hopRate.PointsPerSecond()
	if pps == 0 {
		return 0
	}
	seconds := float64(len(t.achieved)*paths.Sweeps()) / pps

	return time.Duration(seconds * float64(time.Second))
}

// sweepOnce triggers a sweep, or fetches the latest free-running one in RunningState, and
// returns the samples of paths. It must be called with opMu held.
func (t *Task) sweepOnce(ctx context.Context, paths vna.Path) (data *vna.SweepData, err error) {
	t.metrics.incMeasureCount()
	defer func() {
		if err != nil {
			t.metrics.incMeasureErrCount()
		}
	}()

	op := vna.OpMeasure
	if t.state.State() == vna.RunningState {
		op = vna.OpFetch
	}

	rsp, err := t.exchange(ctx, op, []byte{byte(paths)}, t.sweepDuration(paths))
	if err != nil {
		return nil, err
	}

	return vna.DecodeSweepData(rsp.Payload, paths, len(t.achieved))
}

// MeasureUncalibrated measures the reference receiver and the signal paths selected by
// paths, and copies the samples of every path with a non-nil buffer into buf. Buffers of
// unselected paths are left untouched.
func (t *Task) MeasureUncalibrated(ctx context.Context, paths vna.Path, buf PathBuffers) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StartedState, vna.RunningState); err != nil {
		return err
	}
	if !paths.Valid() {
		return fmt.Errorf("%w: %#x", vna.ErrBadPath, uint8(paths))
	}

	paths |= vna.PathRef
	n := len(t.achieved)
	for _, p := range vna.OrderedPaths {
		if paths.Has(p) {
			if err := checkBuffer(p, buf.get(p), n); err != nil {
				return err
			}
		}
	}

	data, err := t.sweepOnce(ctx, paths)
	if err != nil {
		return err
	}

	for _, p := range vna.OrderedPaths {
		if b := buf.get(p); paths.Has(p) && !b.IsNil() {
			b.Fill(data.Path(p))
		}
	}

	return nil
}

// Measure2PortCalibrated measures all paths and writes the error corrected S-parameters
// selected by params into out. It fails with vna.ErrBadCal if no calibration is complete.
func (t *Task) Measure2PortCalibrated(ctx context.Context, params vna.SParameter, out SParamBuffers) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StartedState, vna.RunningState); err != nil {
		return err
	}
	if !params.Valid() {
		return fmt.Errorf("%w: s-parameter selector %#x", vna.ErrBadPath, uint8(params))
	}

	n := len(t.achieved)
	for _, s := range []vna.SParameter{vna.S11, vna.S21, vna.S12, vna.S22} {
		if params.Has(s) {
			if err := checkBuffer(s, out.get(s), n); err != nil {
				return err
			}
		}
	}

	t.mu.Lock()
	terms, err := t.cal.interpolated(t.achieved)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := t.sweepOnce(ctx, vna.PathAll)
	if err != nil {
		return err
	}

	ref := data.Path(vna.PathRef)
	m11 := util.DivideComplex(data.Path(vna.PathT1R1), ref)
	m21 := util.DivideComplex(data.Path(vna.PathT1R2), ref)
	m12 := util.DivideComplex(data.Path(vna.PathT2R1), ref)
	m22 := util.DivideComplex(data.Path(vna.PathT2R2), ref)

	for i := 0; i < n; i++ {
		e := cal.At(terms, i)
		s := cal.Correct(&e, cal.Matrix{S11: m11[i], S21: m21[i], S12: m12[i], S22: m22[i]})

		if b := out.get(vna.S11); params.Has(vna.S11) && !b.IsNil() {
			b.I[i], b.Q[i] = real(s.S11), imag(s.S11)
		}
		if b := out.get(vna.S21); params.Has(vna.S21) && !b.IsNil() {
			b.I[i], b.Q[i] = real(s.S21), imag(s.S21)
		}
		if b := out.get(vna.S12); params.Has(vna.S12) && !b.IsNil() {
			b.I[i], b.Q[i] = real(s.S12), imag(s.S12)
		}
		if b := out.get(vna.S22); params.Has(vna.S22) && !b.IsNil() {
			b.I[i], b.Q[i] = real(s.S22), imag(s.S22)
		}
	}

	return nil
}
