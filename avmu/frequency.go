package avmu

import (
	"fmt"

	"github.com/arloliu/go-vna/internal/util"
	"github.com/arloliu/go-vna/synth"
	"github.com/arloliu/go-vna/vna"
)

// bandPlan returns the synthesizer model, or ErrWrongState before Initialize.
func (t *Task) bandPlan() (*synth.BandPlan, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.plan == nil {
		return nil, fmt.Errorf("%w: hardware details not loaded", vna.ErrWrongState)
	}

	return t.plan, nil
}

// NearestLegalFrequency returns the frequency closest to freq that the instrument can
// generate. It fails with vna.ErrFreqOutOfBounds outside the instrument range and with
// vna.ErrWrongState before Initialize.
func (t *Task) NearestLegalFrequency(freq float64) (float64, error) {
	plan, err := t.bandPlan()
	if err != nil {
		return 0, err
	}

	return plan.Nearest(freq)
}

// FixLinearSweepLimits returns start and end adjusted so that n equally spaced points between
// them are all achievable. The task is not modified.
func (t *Task) FixLinearSweepLimits(start, end float64, n int) (float64, float64, error) {
	plan, err := t.bandPlan()
	if err != nil {
		return 0, 0, err
	}

	return plan.FixLinearSweepLimits(start, end, n)
}

// GenerateLinearSweep sets the sweep to n equally spaced achievable points between start
// and end, adjusted as FixLinearSweepLimits does. The adjusted points are installed
// as the requested sweep. It is legal in StoppedState only.
func (t *Task) GenerateLinearSweep(start, end float64, n int) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StoppedState); err != nil {
		return err
	}

	requested, err := t.plan.LinearSweep(start, end, n)
	if err != nil {
		return err
	}
	achieved, err := t.plan.Quantize(requested)
	if err != nil {
		return err
	}

	t.setSweep(requested, achieved)

	return nil
}

// SetFrequencies sets an arbitrary sweep. Each frequency is replaced by the nearest
// achievable one. It is legal in StoppedState only.
func (t *Task) SetFrequencies(freqs []float64) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.StoppedState); err != nil {
		return err
	}
	if len(freqs) == 0 {
		return vna.ErrMissingFreqs
	}

	achieved, err := t.plan.Quantize(freqs)
	if err != nil {
		return err
	}

	t.setSweep(util.CloneSlice(freqs, 0), achieved)

	return nil
}

func (t *Task) setSweep(requested, achieved []float64) {
	t.mu.Lock()
	t.requested = requested
	t.achieved = achieved
	t.mu.Unlock()

	t.logger.Debug("sweep set", "points", len(achieved), "first", achieved[0], "last", achieved[len(achieved)-1])
}
