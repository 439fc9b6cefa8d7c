package avmu

import (
	"fmt"
	"time"

	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

// Option represents a functional option for configuring a Task.
type Option interface {
	apply(*Task) error
}

type taskOptFunc struct {
	name      string
	applyFunc func(*Task) error
}

func (o *taskOptFunc) apply(t *Task) error {
	if err := o.applyFunc(t); err != nil {
		return fmt.Errorf("option %s: %w", o.name, err)
	}

	return nil
}

func newTaskOptFunc(name string, f func(*Task) error) *taskOptFunc {
	return &taskOptFunc{name: name, applyFunc: f}
}

// WithLogger sets the logger of the task. Defaults to logger.GetLogger().
func WithLogger(l logger.Logger) Option {
	return newTaskOptFunc("logger", func(t *Task) error {
		if l != nil {
			t.logger = l
		}

		return nil
	})
}

// WithTimeout sets the response timeout. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return newTaskOptFunc("timeout", func(t *Task) error {
		if d < 0 {
			return fmt.Errorf("%w: %v", vna.ErrBadTimeout, d)
		}
		t.timeout = d

		return nil
	})
}

// WithPollInterval sets how often a blocked exchange checks for Interrupt.
// Defaults to transport.DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return newTaskOptFunc("poll-interval", func(t *Task) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval %v", vna.ErrBadTimeout, d)
		}
		t.pollInterval = d

		return nil
	})
}

// WithAcquisitionMode sets the initial acquisition mode. Defaults to vna.Synchronous.
func WithAcquisitionMode(mode vna.AcquisitionMode) Option {
	return newTaskOptFunc("acquisition-mode", func(t *Task) error {
		if !mode.Valid() {
			return fmt.Errorf("%w: %d", vna.ErrBadAcquisitionMode, mode)
		}
		t.mode = mode

		return nil
	})
}

// WithMetrics makes the task count into m. Tasks may share one Metrics.
func WithMetrics(m *Metrics) Option {
	return newTaskOptFunc("metrics", func(t *Task) error {
		if m != nil {
			t.metrics = m
		}

		return nil
	})
}

// WithStateHandler registers handlers invoked after every state change.
func WithStateHandler(handlers ...vna.StateChangeHandler) Option {
	return newTaskOptFunc("state-handler", func(t *Task) error {
		t.handlers = append(t.handlers, handlers...)
		return nil
	})
}
