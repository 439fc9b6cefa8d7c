package avmu

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-vna/vna"
)

// Handle identifies a task of a Registry. Handles are never reused, so a deleted handle
// stays invalid.
type Handle uint64

// String returns string representation of the handle.
func (h Handle) String() string { return strconv.FormatUint(uint64(h), 10) }

// Registry owns tasks addressed by handle, for callers that pass tasks across an API
// boundary by value.
type Registry struct {
	tasks *xsync.MapOf[Handle, *Task]
	next  atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: xsync.NewMapOf[Handle, *Task]()}
}

// CreateTask creates a task with opts and returns its handle.
func (r *Registry) CreateTask(opts ...Option) (Handle, error) {
	t, err := NewTask(opts...)
	if err != nil {
		return 0, err
	}

	h := Handle(r.next.Add(1))
	r.tasks.Store(h, t)
	t.logger.Debug("task created", "handle", h)

	return h, nil
}

// Task returns the task of h, or an error wrapping vna.ErrBadHandle.
func (r *Registry) Task(h Handle) (*Task, error) {
	t, ok := r.tasks.Load(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", vna.ErrBadHandle, h)
	}

	return t, nil
}

// DeleteTask stops the task of h, releases its socket, and invalidates h.
// If teardown fails, h stays valid so the call can be retried.
func (r *Registry) DeleteTask(h Handle) error {
	t, ok := r.tasks.Load(h)
	if !ok {
		return fmt.Errorf("%w: %s", vna.ErrBadHandle, h)
	}

	var stopErr error
	if t.State().In(vna.StartedState, vna.RunningState) {
		stopErr = t.Stop()
	}
	if err := t.Close(); err != nil {
		return errors.Join(stopErr, err)
	}
	if stopErr != nil {
		t.logger.Warn("task stop failed during delete", "handle", h, "error", stopErr)
	}

	if _, ok := r.tasks.LoadAndDelete(h); !ok {
		return fmt.Errorf("%w: %s", vna.ErrBadHandle, h)
	}
	t.logger.Debug("task deleted", "handle", h)

	return nil
}

// Len returns the number of live tasks.
func (r *Registry) Len() int { return r.tasks.Size() }

// Range calls f for every live task until f returns false.
func (r *Registry) Range(f func(h Handle, t *Task) bool) {
	r.tasks.Range(f)
}
