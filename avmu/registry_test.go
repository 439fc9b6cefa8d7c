package avmu

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/vna"
)

func TestRegistry(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	h1, err := r.CreateTask()
	require.NoError(err)
	h2, err := r.CreateTask(WithAcquisitionMode(vna.Asynchronous))
	require.NoError(err)
	require.NotEqual(h1, h2)
	require.Equal(2, r.Len())

	_, err = r.CreateTask(WithTimeout(-1))
	require.ErrorIs(err, vna.ErrBadTimeout)
	require.Equal(2, r.Len())

	task, err := r.Task(h2)
	require.NoError(err)
	require.Equal(vna.Asynchronous, task.AcquisitionMode())

	require.NoError(r.DeleteTask(h1))
	_, err = r.Task(h1)
	require.ErrorIs(err, vna.ErrBadHandle)
	require.Equal(vna.KindHandle, vna.KindOf(err))
	require.ErrorIs(r.DeleteTask(h1), vna.ErrBadHandle)

	_, err = r.Task(Handle(12345))
	require.ErrorIs(err, vna.ErrBadHandle)

	// handles are not reused
	h3, err := r.CreateTask()
	require.NoError(err)
	require.NotEqual(h1, h3)

	seen := map[Handle]bool{}
	r.Range(func(h Handle, _ *Task) bool {
		seen[h] = true
		return true
	})
	require.Equal(map[Handle]bool{h2: true, h3: true}, seen)
}

func TestRegistryDeleteStartedTask(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := startSimulator(t)

	r := NewRegistry()
	h, err := r.CreateTask()
	require.NoError(err)
	task, err := r.Task(h)
	require.NoError(err)

	require.NoError(task.SetAddress(sim.Host()))
	require.NoError(task.SetPort(sim.Port()))
	require.NoError(task.SetHopRate(vna.Hop45K))
	require.NoError(task.SetAttenuation(0))
	require.NoError(task.Initialize(ctx, nil, nil))
	require.NoError(task.GenerateLinearSweep(1000, 2000, 11))
	require.NoError(task.Start(ctx))

	// the handle must stay resolvable until teardown is done
	var liveDuringStop, liveDuringClose bool
	task.AddStateHandler(func(_, next vna.TaskState) {
		_, err := r.Task(h)
		switch next {
		case vna.StoppedState:
			liveDuringStop = err == nil
		case vna.UninitializedState:
			liveDuringClose = err == nil
		}
	})

	require.NoError(r.DeleteTask(h))
	require.True(liveDuringStop)
	require.True(liveDuringClose)
	require.Equal(vna.UninitializedState, task.State())
	require.Zero(r.Len())
	require.Eventually(func() bool { return sim.Count(vna.OpIdle) == 1 }, time.Second, time.Millisecond)
}

func TestCollector(t *testing.T) {
	require := require.New(t)

	sim := startSimulator(t)

	r := NewRegistry()
	h, err := r.CreateTask()
	require.NoError(err)
	task, err := r.Task(h)
	require.NoError(err)
	require.NoError(task.SetAddress(sim.Host()))
	require.NoError(task.SetPort(sim.Port()))
	require.NoError(task.Ping(context.Background()))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(reg.Register(NewCollector(r)))

	families, err := reg.Gather()
	require.NoError(err)

	values := map[string]float64{}
	for _, mf := range families {
		require.Len(mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	require.Len(values, 11)
	require.Equal(float64(vna.UninitializedState), values["vna_task_state"])
	require.Equal(1.0, values["vna_task_exchanges_total"])
	require.Zero(values["vna_task_exchange_errors_total"])
	require.Positive(values["vna_task_sent_bytes_total"])
}
