package avmu

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/internal/util"
	"github.com/arloliu/go-vna/vna"
)

// calibrationSet is the calibration state of a task.
//
// Raw steps are tied to the sweep they were measured with. The error terms are tied to
// freqs, which is either that sweep or the frequency list of an imported calibration, and
// view holds the terms resampled onto the current sweep.
type calibrationSet struct {
	steps cal.Steps
	sweep []float64
	phase []float64

	freqs   []float64
	terms   vna.ErrorTerms
	present bool

	view      vna.ErrorTerms
	viewFreqs []float64
}

func (c *calibrationSet) clear() {
	*c = calibrationSet{}
}

func (c *calibrationSet) hasRaw() bool {
	for _, d := range c.steps {
		if d != nil {
			return true
		}
	}

	return false
}

func (c *calibrationSet) hasOpen() bool {
	return c.steps[vna.CalP1Open] != nil || c.steps[vna.CalP2Open] != nil
}

// regenerate solves the error terms if every raw step is present.
func (c *calibrationSet) regenerate() error {
	if !c.steps.Complete() {
		return nil
	}

	terms, err := cal.Solve(&c.steps, c.phase)
	if err != nil {
		return err
	}
	c.install(c.sweep, terms)

	return nil
}

func (c *calibrationSet) install(freqs []float64, terms vna.ErrorTerms) {
	c.freqs = util.CloneSlice(freqs, 0)
	c.terms = terms
	c.present = true
	c.view = vna.ErrorTerms{}
	c.viewFreqs = nil
}

// interpolated returns the error terms on freqs, resampling when the sweep changed.
func (c *calibrationSet) interpolated(freqs []float64) (*vna.ErrorTerms, error) {
	if !c.present {
		return nil, fmt.Errorf("%w: calibration not complete", vna.ErrBadCal)
	}
	if c.viewFreqs != nil && slices.Equal(c.viewFreqs, freqs) {
		return &c.view, nil
	}

	view, err := cal.Interpolate(c.freqs, &c.terms, freqs)
	if err != nil {
		return nil, err
	}
	c.view = view
	c.viewFreqs = util.CloneSlice(freqs, 0)

	return &c.view, nil
}

// MeasureCalibrationStep measures the standard of step, which the caller must have
// connected, and stores the ratioed data. Once all seven steps are present the error terms
// are solved, and re-solved whenever a step is measured again.
//
// It fails with vna.ErrBadCal if stored steps were measured with a different sweep; call
// ClearCalibration before calibrating a new sweep.
func (t *Task) MeasureCalibrationStep(ctx context.Context, step vna.CalStep) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StartedState, vna.RunningState); err != nil {
		return err
	}
	if !step.Valid() {
		return fmt.Errorf("%w: calibration step %d", vna.ErrBadPath, step)
	}
	if t.cal.hasRaw() && !slices.Equal(t.cal.sweep, t.achieved) {
		return fmt.Errorf("%w: stored calibration steps belong to a different sweep", vna.ErrBadCal)
	}

	data, err := t.sweepOnce(ctx, step.Paths()|vna.PathRef)
	if err != nil {
		return err
	}

	ref := data.Path(vna.PathRef)
	ratios := cal.StepData{}
	for _, p := range vna.OrderedPaths {
		if p != vna.PathRef && step.Paths().Has(p) {
			ratios[p] = util.DivideComplex(data.Path(p), ref)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.cal
	t.cal.steps[step] = ratios
	if t.cal.sweep == nil {
		t.cal.sweep = util.CloneSlice(t.achieved, 0)
	}
	if err := t.cal.regenerate(); err != nil {
		t.cal = prev
		return err
	}
	t.metrics.incCalStepCount()
	t.logger.Info("calibration step measured", "step", step, "complete", t.cal.steps.Complete())

	return nil
}

// HaveCalibrationStep reports whether raw data of step is stored.
func (t *Task) HaveCalibrationStep(step vna.CalStep) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return step.Valid() && t.cal.steps[step] != nil
}

// IsCalibrationComplete reports whether error terms are available, either solved from the
// seven steps or imported.
func (t *Task) IsCalibrationComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cal.present
}

// HasFactoryCalibration reports whether the instrument PROM announces a factory calibration.
func (t *Task) HasFactoryCalibration() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.factoryCal
}

// ClearCalibration discards the raw steps, the error terms and the phase correction.
func (t *Task) ClearCalibration() {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	t.cal.clear()
	t.mu.Unlock()

	t.logger.Debug("calibration cleared")
}

// CalibrationFrequencies returns a copy of the frequencies of the error terms, or nil if no
// calibration is complete.
func (t *Task) CalibrationFrequencies() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.cal.present {
		return nil
	}

	return util.CloneSlice(t.cal.freqs, 0)
}

// NumberOfCalibrationFrequencies returns the number of calibration frequencies.
func (t *Task) NumberOfCalibrationFrequencies() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.cal.present {
		return 0
	}

	return len(t.cal.freqs)
}

// ExportCalibration returns copies of the calibration frequencies and error terms.
func (t *Task) ExportCalibration() ([]float64, vna.ErrorTerms, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.cal.present {
		return nil, vna.ErrorTerms{}, fmt.Errorf("%w: calibration not complete", vna.ErrBadCal)
	}

	return util.CloneSlice(t.cal.freqs, 0), t.cal.terms.Clone(), nil
}

// ExportCalibrationFile returns the calibration as a file tagged with the instrument serial number.
func (t *Task) ExportCalibrationFile() (*cal.File, error) {
	freqs, terms, err := t.ExportCalibration()
	if err != nil {
		return nil, err
	}

	return cal.NewFile(t.HardwareDetails().SerialNumber, freqs, &terms)
}

// ImportCalibration installs error terms measured at freqs, which need not be achievable
// frequencies. Stored raw steps and the phase correction are discarded. It is legal in
// StoppedState and StartedState.
func (t *Task) ImportCalibration(freqs []float64, terms *vna.ErrorTerms) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	return t.importCalibration(freqs, terms)
}

// ImportCalibrationFile installs the calibration stored in f.
func (t *Task) ImportCalibrationFile(f *cal.File) error {
	if f == nil {
		return fmt.Errorf("%w: nil calibration file", vna.ErrBadCal)
	}
	terms, err := f.ErrorTerms()
	if err != nil {
		return err
	}

	return t.ImportCalibration(f.Frequencies, &terms)
}

func (t *Task) importCalibration(freqs []float64, terms *vna.ErrorTerms) error {
	if err := t.state.Require(vna.StoppedState, vna.StartedState); err != nil {
		return err
	}
	if terms == nil || len(freqs) == 0 {
		return fmt.Errorf("%w: empty calibration", vna.ErrBadCal)
	}
	if terms.Len() != len(freqs) {
		return fmt.Errorf("%w: %d frequencies, %d term points", vna.ErrBadCal, len(freqs), terms.Len())
	}
	for _, f := range freqs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: calibration frequency %v", vna.ErrBadCal, f)
		}
	}

	// resample once now so that a broken calibration is rejected at import
	var view vna.ErrorTerms
	if len(t.achieved) > 0 {
		v, err := cal.Interpolate(freqs, terms, t.achieved)
		if err != nil {
			return err
		}
		view = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cal.clear()
	t.cal.install(freqs, terms.Clone())
	if len(t.achieved) > 0 {
		t.cal.view = view
		t.cal.viewFreqs = util.CloneSlice(t.achieved, 0)
	}
	t.logger.Info("calibration imported", "points", len(freqs))

	return nil
}

// ImportFactoryCalibration downloads the factory calibration stored on the instrument and
// installs it like ImportCalibration. It fails with vna.ErrBadCal if the instrument has none.
func (t *Task) ImportFactoryCalibration(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StoppedState, vna.StartedState); err != nil {
		return err
	}
	if !t.factoryCal {
		return fmt.Errorf("%w: instrument has no factory calibration", vna.ErrBadCal)
	}

	rsp, err := t.exchange(ctx, vna.OpFactoryCal, nil, 0)
	if err != nil {
		return err
	}

	var data vna.CalibrationData
	if err := data.UnmarshalBinary(rsp.Payload); err != nil {
		return err
	}

	return t.importCalibration(data.Frequencies, &data.Terms)
}

// SetOpenPhaseCorrection sets the phase in radians added to the open standard measurements
// at each calibration step frequency. It replaces any previous correction; nil removes it.
// The error terms are re-solved if all steps are present.
//
// It is legal in StoppedState and StartedState, and fails with vna.ErrBadCal if no open
// standard has been measured.
func (t *Task) SetOpenPhaseCorrection(phase []float64) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StoppedState, vna.StartedState); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cal.hasOpen() {
		return fmt.Errorf("%w: no open standard measured", vna.ErrBadCal)
	}
	if phase != nil && len(phase) != len(t.cal.sweep) {
		return fmt.Errorf("%w: phase correction has %d points, calibration has %d", vna.ErrBadCal, len(phase), len(t.cal.sweep))
	}

	prev := t.cal
	if phase == nil {
		t.cal.phase = nil
	} else {
		t.cal.phase = util.CloneSlice(phase, 0)
	}
	if err := t.cal.regenerate(); err != nil {
		t.cal = prev
		return err
	}

	return nil
}
