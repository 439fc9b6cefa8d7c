package vna

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	require := require.New(t)

	t.Run("Initial State", func(t *testing.T) {
		mgr := NewStateMgr(nil)
		require.Equal(UninitializedState, mgr.State())
	})

	t.Run("Full Cycle", func(t *testing.T) {
		changes := 0
		mgr := NewStateMgr(nil, func(prev, next TaskState) { changes++ })

		require.NoError(mgr.Transition(ActionInitialize))
		require.Equal(StoppedState, mgr.State())
		require.NoError(mgr.Transition(ActionStart))
		require.Equal(StartedState, mgr.State())
		require.NoError(mgr.Transition(ActionBeginAsync))
		require.Equal(RunningState, mgr.State())
		require.NoError(mgr.Transition(ActionHaltAsync))
		require.Equal(StartedState, mgr.State())
		require.NoError(mgr.Transition(ActionBeginAsync))
		require.NoError(mgr.Transition(ActionStop))
		require.Equal(StoppedState, mgr.State())
		require.NoError(mgr.Transition(ActionReset))
		require.Equal(UninitializedState, mgr.State())
		require.Equal(7, changes)
	})

	t.Run("Reset In Uninitialized Is No-op", func(t *testing.T) {
		changes := 0
		mgr := NewStateMgr(nil, func(prev, next TaskState) { changes++ })
		require.NoError(mgr.Transition(ActionReset))
		require.Equal(0, changes)
	})

	t.Run("Rejected Transitions", func(t *testing.T) {
		tests := []struct {
			setup  []Action
			action Action
		}{
			{nil, ActionStart},
			{nil, ActionStop},
			{nil, ActionBeginAsync},
			{[]Action{ActionInitialize}, ActionInitialize},
			{[]Action{ActionInitialize}, ActionStop},
			{[]Action{ActionInitialize}, ActionHaltAsync},
			{[]Action{ActionInitialize, ActionStart}, ActionReset},
			{[]Action{ActionInitialize, ActionStart}, ActionStart},
			{[]Action{ActionInitialize, ActionStart}, ActionHaltAsync},
			{[]Action{ActionInitialize, ActionStart, ActionBeginAsync}, ActionReset},
			{[]Action{ActionInitialize, ActionStart, ActionBeginAsync}, ActionBeginAsync},
		}

		for _, tt := range tests {
			mgr := NewStateMgr(nil)
			for _, a := range tt.setup {
				require.NoError(mgr.Transition(a))
			}
			before := mgr.State()
			require.ErrorIs(mgr.Transition(tt.action), ErrWrongState, "%s from %s", tt.action, before)
			require.Equal(before, mgr.State())
		}
	})

	t.Run("Require", func(t *testing.T) {
		mgr := NewStateMgr(nil)
		require.NoError(mgr.Require(UninitializedState, StoppedState))
		require.ErrorIs(mgr.Require(StartedState, RunningState), ErrWrongState)
		require.Equal(KindState, KindOf(mgr.Require(StartedState)))
	})
}
