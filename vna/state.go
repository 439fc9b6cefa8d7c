package vna

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-vna/logger"
)

// TaskState represents the run state of a task.
type TaskState uint32

// Task states. RunningState is only reachable by tasks in Asynchronous acquisition mode.
const (
	// UninitializedState is the state of a new task, or one whose address changed.
	UninitializedState TaskState = iota
	// StoppedState indicates that hardware details are loaded and the instrument is idle.
	StoppedState
	// StartedState indicates that the sweep program is loaded and measurements are allowed.
	StartedState
	// RunningState indicates free-running asynchronous acquisition.
	RunningState
)

// String returns string representation of the state.
func (s TaskState) String() string {
	switch s {
	case UninitializedState:
		return "uninitialized"
	case StoppedState:
		return "stopped"
	case StartedState:
		return "started"
	case RunningState:
		return "running"
	default:
		return "unknown"
	}
}

// In reports whether s is one of states.
func (s TaskState) In(states ...TaskState) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}

	return false
}

// Action is a state changing task operation.
type Action uint8

const (
	ActionInitialize Action = iota
	ActionStart
	ActionBeginAsync
	ActionHaltAsync
	ActionStop
	// ActionReset is performed by address and port changes.
	ActionReset
)

// String returns string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionInitialize:
		return "initialize"
	case ActionStart:
		return "start"
	case ActionBeginAsync:
		return "begin-async"
	case ActionHaltAsync:
		return "halt-async"
	case ActionStop:
		return "stop"
	case ActionReset:
		return "reset"
	default:
		return "unknown"
	}
}

type transition struct {
	from []TaskState
	to   TaskState
}

var transitions = map[Action]transition{
	ActionInitialize: {from: []TaskState{UninitializedState}, to: StoppedState},
	ActionStart:      {from: []TaskState{StoppedState}, to: StartedState},
	ActionBeginAsync: {from: []TaskState{StartedState}, to: RunningState},
	ActionHaltAsync:  {from: []TaskState{RunningState}, to: StartedState},
	ActionStop:       {from: []TaskState{StartedState, RunningState}, to: StoppedState},
	ActionReset:      {from: []TaskState{UninitializedState, StoppedState}, to: UninitializedState},
}

// StateChangeHandler is invoked after the task state changed.
//
// Note: the handler will be invoked in a blocking mode. Take care with long-running implementations.
type StateChangeHandler func(prevState TaskState, newState TaskState)

// StateMgr is the authoritative gate of a task: it decides which actions are legal in the
// current state and performs the transitions.
//
// State reads are lock free, so State can be called while another goroutine is blocked
// inside a task operation.
type StateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr in UninitializedState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &StateMgr{logger: l}
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current task state.
func (m *StateMgr) State() TaskState {
	return TaskState(m.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on state changes.
func (m *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, handlers...)
}

// Require returns nil if the current state is one of states, or an error wrapping ErrWrongState.
func (m *StateMgr) Require(states ...TaskState) error {
	cur := m.State()
	if cur.In(states...) {
		return nil
	}

	return fmt.Errorf("%w: state is %s", ErrWrongState, cur)
}

// Can returns nil if action is legal in the current state, or an error wrapping ErrWrongState.
func (m *StateMgr) Can(action Action) error {
	t, ok := transitions[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %d", ErrWrongState, action)
	}
	cur := m.State()
	if !cur.In(t.from...) {
		return fmt.Errorf("%w: cannot %s in %s state", ErrWrongState, action, cur)
	}

	return nil
}

// Transition performs action, invoking the registered handlers if the state changed.
// It returns an error wrapping ErrWrongState and leaves the state unchanged if the action is not legal.
func (m *StateMgr) Transition(action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Can(action); err != nil {
		return err
	}

	prev := m.State()
	next := transitions[action].to
	m.state.Store(uint32(next))

	if prev != next {
		m.logger.Debug("task state changed", "action", action, "prev_state", prev, "new_state", next)
		for _, handler := range m.handlers {
			handler(prev, next)
		}
	}

	return nil
}
