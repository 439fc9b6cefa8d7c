package avmu

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-vna/internal/util"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/synth"
	"github.com/arloliu/go-vna/transport"
	"github.com/arloliu/go-vna/vna"
)

const (
	// DefaultTimeout is the response timeout of a new task.
	DefaultTimeout = 150 * time.Millisecond
	// ReservedPort is the instrument broadcast port, which a task cannot address.
	ReservedPort = 1024
)

// Task controls one instrument.
//
// Locking: opMu serializes operations for their whole duration. Fields below it are only
// written while holding both opMu and mu, so operations read them freely and getters
// only take mu.
type Task struct {
	opMu sync.Mutex

	id       string
	state    *vna.StateMgr
	logger   logger.Logger
	metrics  *Metrics
	handlers []vna.StateChangeHandler
	conn     atomic.Pointer[transport.Conn]

	mu           sync.RWMutex
	address      string
	port         int
	timeout      time.Duration
	pollInterval time.Duration
	hopRate      vna.HopRate
	atten        vna.Attenuation
	mode         vna.AcquisitionMode
	hw           vna.HardwareDetails
	factoryCal   bool
	plan         *synth.BandPlan
	requested    []float64
	achieved     []float64
	cal          calibrationSet
}

// NewTask creates a task in UninitializedState.
func NewTask(opts ...Option) (*Task, error) {
	t := &Task{
		id:           uuid.NewString(),
		logger:       logger.GetLogger(),
		timeout:      DefaultTimeout,
		pollInterval: transport.DefaultPollInterval,
		atten:        vna.AttenUndefined,
		mode:         vna.Synchronous,
	}

	for _, opt := range opts {
		if err := opt.apply(t); err != nil {
			return nil, err
		}
	}
	if t.metrics == nil {
		t.metrics = &Metrics{}
	}

	t.logger = t.logger.With("task", t.id)
	t.state = vna.NewStateMgr(t.logger, t.handlers...)

	return t, nil
}

// ID returns the unique identifier of the task, used in its log entries.
func (t *Task) ID() string { return t.id }

// State returns the current run state. It never blocks.
func (t *Task) State() vna.TaskState { return t.state.State() }

// AddStateHandler registers handlers invoked after every state change.
func (t *Task) AddStateHandler(handlers ...vna.StateChangeHandler) {
	t.state.AddHandler(handlers...)
}

// Metrics returns the counters of the task.
func (t *Task) Metrics() *Metrics { return t.metrics }

// Close releases the socket of the task. The task returns to UninitializedState as if its
// address had changed, unless it is Started or Running, in which case Close fails.
func (t *Task) Close() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionReset); err != nil {
		return err
	}
	t.reset()

	return nil
}

// setConfig runs f on the task under both locks, after checking that configuration changes
// are legal.
func (t *Task) setConfig(f func() error) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Require(vna.UninitializedState, vna.StoppedState); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return f()
}

// SetAddress sets the instrument IP address or host name.
//
// A successful change returns the task to UninitializedState and discards the hardware
// details, the sweep, and the calibration.
func (t *Task) SetAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return vna.ErrMissingIP
	}
	if net.ParseIP(address) == nil && !isHostName(address) {
		return fmt.Errorf("%w: %q", vna.ErrBadAddress, address)
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionReset); err != nil {
		return err
	}

	t.mu.Lock()
	t.address = address
	t.mu.Unlock()

	t.reset()

	return nil
}

// SetPort sets the instrument UDP port. Port 1024 is reserved for broadcast.
//
// A successful change resets the task like SetAddress.
func (t *Task) SetPort(port int) error {
	if port < 1 || port > 65535 || port == ReservedPort {
		return fmt.Errorf("%w: %d", vna.ErrBadPort, port)
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.state.Can(vna.ActionReset); err != nil {
		return err
	}

	t.mu.Lock()
	t.port = port
	t.mu.Unlock()

	t.reset()

	return nil
}

// reset returns the task to UninitializedState. It must be called with opMu held.
func (t *Task) reset() {
	if c := t.conn.Swap(nil); c != nil {
		if err := c.Close(); err != nil {
			t.logger.Warn("failed to close transport", "error", err)
		}
	}

	t.mu.Lock()
	t.hw = vna.HardwareDetails{}
	t.factoryCal = false
	t.plan = nil
	t.requested = nil
	t.achieved = nil
	t.cal.clear()
	t.mu.Unlock()

	if err := t.state.Transition(vna.ActionReset); err != nil {
		t.logger.Error("failed to reset task state", "error", err)
	}
}

// SetTimeout sets the base response timeout. Measurements wait longer by the expected
// sweep duration.
func (t *Task) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %v", vna.ErrBadTimeout, d)
	}

	return t.setConfig(func() error {
		t.timeout = d
		return nil
	})
}

// SetHopRate sets the sampling speed.
func (t *Task) SetHopRate(rate vna.HopRate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: %d", vna.ErrBadHop, rate)
	}

	return t.setConfig(func() error {
		t.hopRate = rate
		return nil
	})
}

// SetAttenuation sets the attenuator in dB, between 0 and 31.
func (t *Task) SetAttenuation(atten vna.Attenuation) error {
	if !atten.Valid() {
		return fmt.Errorf("%w: %d", vna.ErrBadAtten, atten)
	}

	return t.setConfig(func() error {
		t.atten = atten
		return nil
	})
}

// SetAcquisitionMode selects triggered or free-running acquisition.
func (t *Task) SetAcquisitionMode(mode vna.AcquisitionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", vna.ErrBadAcquisitionMode, mode)
	}

	return t.setConfig(func() error {
		t.mode = mode
		return nil
	})
}

// Address returns the instrument address, or "" if unset.
func (t *Task) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.address
}

// Port returns the instrument port, or 0 if unset.
func (t *Task) Port() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.port
}

// Timeout returns the base response timeout.
func (t *Task) Timeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.timeout
}

// HopRate returns the hop rate, or vna.HopUndefined if unset.
func (t *Task) HopRate() vna.HopRate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.hopRate
}

// Attenuation returns the attenuation, or vna.AttenUndefined if unset.
func (t *Task) Attenuation() vna.Attenuation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.atten
}

// AcquisitionMode returns the acquisition mode.
func (t *Task) AcquisitionMode() vna.AcquisitionMode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.mode
}

// HardwareDetails returns the details read by Initialize, or the zero value before that.
func (t *Task) HardwareDetails() vna.HardwareDetails {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.hw
}

// NumberOfFrequencies returns the number of sweep points.
func (t *Task) NumberOfFrequencies() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.achieved)
}

// RequestedFrequencies returns a copy of the frequencies as requested, in MHz.
func (t *Task) RequestedFrequencies() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return util.CloneSlice(t.requested, 0)
}

// AchievedFrequencies returns a copy of the frequencies the instrument sweeps, in MHz.
func (t *Task) AchievedFrequencies() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return util.CloneSlice(t.achieved, 0)
}

// isHostName reports whether s is a syntactically valid DNS host name.
func isHostName(s string) bool {
	if len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if strings.Trim(labels[len(labels)-1], "0123456789") == "" {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			ok := c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !ok {
				return false
			}
		}
	}

	return true
}
