package avmu

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-vna/synth"
	"github.com/arloliu/go-vna/transport"
	"github.com/arloliu/go-vna/vna"
)

// ProgressFunc receives the progress of Initialize in percent together with the user data
// passed to Initialize. Returning false cancels Initialize with vna.ErrInterrupted.
type ProgressFunc func(percent int, userData any) bool

// connection returns the socket of the task, dialing it on first use.
// It must be called with opMu held.
func (t *Task) connection() (*transport.Conn, error) {
	if c := t.conn.Load(); c != nil {
		return c, nil
	}
	if t.address == "" {
		return nil, vna.ErrMissingIP
	}
	if t.port == 0 {
		return nil, vna.ErrMissingPort
	}

	c, err := transport.Dial(t.address, t.port,
		transport.WithTimeout(0),
		transport.WithPollInterval(t.pollInterval),
		transport.WithLogger(t.logger),
		transport.WithMetrics(&t.metrics.Transport),
	)
	if err != nil {
		return nil, err
	}
	t.conn.Store(c)

	return c, nil
}

// exchange performs one request/response with the instrument and converts a non-OK status
// into an error. It must be called with opMu held.
func (t *Task) exchange(ctx context.Context, op vna.Opcode, payload []byte, extraWait time.Duration) (*vna.Message, error) {
	c, err := t.connection()
	if err != nil {
		return nil, err
	}

	rsp, err := c.Exchange(ctx, vna.NewRequest(op, payload), t.timeout+extraWait)
	if err != nil {
		return nil, err
	}
	if err := rsp.Err(); err != nil {
		return nil, err
	}

	return rsp, nil
}

// Ping checks that the instrument answers. It is legal in every state once the address and
// port are set, and does not change the state.
func (t *Task) Ping(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	_, err := t.exchange(ctx, vna.OpPing, nil, 0)

	return err
}

// Initialize downloads the hardware details from the instrument PROM and moves the task
// from UninitializedState to StoppedState.
//
// progress, if not nil, is called after every PROM chunk with the completion percentage and
// userData. Initialize fails with vna.ErrInterrupted when progress returns false or ctx is
// done. On failure the task stays Uninitialized.
func (t *Task) Initialize(ctx context.Context, progress ProgressFunc, userData any) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionInitialize); err != nil {
		return err
	}

	img, err := t.readProm(ctx, progress, userData)
	if err != nil {
		t.logger.Warn("initialize failed", "error", err)
		return err
	}

	hw, factoryCal, err := vna.DecodeProm(img)
	if err != nil {
		return err
	}
	plan, err := synth.NewBandPlan(hw)
	if err != nil {
		return fmt.Errorf("%w: %w", vna.ErrBadProm, err)
	}

	t.mu.Lock()
	t.hw = hw
	t.factoryCal = factoryCal
	t.plan = plan
	t.mu.Unlock()

	if err := t.state.Transition(vna.ActionInitialize); err != nil {
		return err
	}
	t.logger.Info("task initialized",
		"serial", hw.SerialNumber,
		"min_freq", hw.MinimumFrequency,
		"max_freq", hw.MaximumFrequency,
		"max_points", hw.MaximumPoints,
		"factory_cal", factoryCal,
	)

	return nil
}

func (t *Task) readProm(ctx context.Context, progress ProgressFunc, userData any) ([]byte, error) {
	var img []byte
	for chunk, total := 0, 1; chunk < total; chunk++ {
		rsp, err := t.exchange(ctx, vna.OpReadProm, vna.EncodePromRequest(chunk), 0)
		if err != nil {
			return nil, err
		}

		n, data, err := vna.DecodePromChunk(rsp.Payload)
		if err != nil {
			return nil, err
		}
		if chunk > 0 && n != total {
			return nil, fmt.Errorf("%w: prom chunk count changed from %d to %d", vna.ErrBadProm, total, n)
		}
		total = n
		img = append(img, data...)

		if progress != nil && !progress((chunk+1)*100/total, userData) {
			return nil, fmt.Errorf("%w: initialize cancelled at %d%%", vna.ErrInterrupted, (chunk+1)*100/total)
		}
	}

	return img, nil
}

// Start loads the sweep program into the instrument and moves the task from StoppedState
// to StartedState. The hop rate, attenuation and frequencies must be set.
func (t *Task) Start(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionStart); err != nil {
		return err
	}
	if !t.hopRate.Valid() {
		return vna.ErrMissingHop
	}
	if !t.atten.Valid() {
		return vna.ErrMissingAtten
	}
	if len(t.achieved) == 0 {
		return vna.ErrMissingFreqs
	}

	prog := vna.Program{HopRate: t.hopRate, Attenuation: t.atten, Mode: t.mode, Frequencies: t.achieved}
	payload, err := prog.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := t.exchange(ctx, vna.OpProgram, payload, 0); err != nil {
		return err
	}

	if err := t.state.Transition(vna.ActionStart); err != nil {
		return err
	}
	t.logger.Info("task started", "points", len(t.achieved), "hop_rate", t.hopRate, "attenuation", t.atten, "mode", t.mode)

	return nil
}

// BeginAsync arms free-running acquisition and moves the task from StartedState to
// RunningState. The task must be in vna.Asynchronous acquisition mode.
func (t *Task) BeginAsync(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionBeginAsync); err != nil {
		return err
	}
	if t.mode != vna.Asynchronous {
		return fmt.Errorf("%w: task is %s", vna.ErrBadAcquisitionMode, t.mode)
	}

	if _, err := t.exchange(ctx, vna.OpArm, nil, 0); err != nil {
		return err
	}

	return t.state.Transition(vna.ActionBeginAsync)
}

// HaltAsync stops free-running acquisition and moves the task from RunningState back to
// StartedState.
func (t *Task) HaltAsync(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionHaltAsync); err != nil {
		return err
	}

	if _, err := t.exchange(ctx, vna.OpDisarm, nil, 0); err != nil {
		return err
	}

	return t.state.Transition(vna.ActionHaltAsync)
}

// Stop idles the instrument and moves the task to StoppedState. The idle command is not
// acknowledged, so Stop succeeds even if the instrument is unreachable.
func (t *Task) Stop() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionStop); err != nil {
		return err
	}

	if c := t.conn.Load(); c != nil {
		if err := c.Send(vna.NewRequest(vna.OpIdle, nil)); err != nil {
			t.logger.Warn("failed to send idle command", "error", err)
		}
	}

	if err := t.state.Transition(vna.ActionStop); err != nil {
		return err
	}
	t.logger.Info("task stopped")

	return nil
}

// Interrupt cancels the measurement currently blocked in another goroutine, which then
// fails with vna.ErrInterrupted. It is legal in StartedState and RunningState and never blocks.
func (t *Task) Interrupt() error {
	if err := t.state.Require(vna.StartedState, vna.RunningState); err != nil {
		return err
	}
	if c := t.conn.Load(); c != nil {
		c.Interrupt()
	}

	return nil
}
