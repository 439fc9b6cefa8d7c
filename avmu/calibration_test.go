package avmu

import (
	"context"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/internal/simulator"
	"github.com/arloliu/go-vna/vna"
)

func calibrate(t *testing.T, sim *simulator.Simulator, task *Task) {
	t.Helper()

	for _, step := range vna.CalSteps {
		sim.Connect(simulator.Standard(step))
		require.NoError(t, task.MeasureCalibrationStep(context.Background(), step), "step %s", step)
	}
}

// requireLine checks calibrated data of a 3 dB, 0.5 ns line connected to sim.
func requireLine(t *testing.T, task *Task, tol float64) {
	t.Helper()
	require := require.New(t)

	n := task.NumberOfFrequencies()
	out := SParamBuffers{S11: vna.NewIQ(n), S21: vna.NewIQ(n), S12: vna.NewIQ(n), S22: vna.NewIQ(n)}
	require.NoError(task.Measure2PortCalibrated(context.Background(), vna.SAll, out))

	line := simulator.Line(3, 0.5)
	for i, f := range task.AchievedFrequencies() {
		want := line(f)
		require.InDelta(0, cmplx.Abs(out.S11.At(i)-want.S11), tol, "S11 at %v", f)
		require.InDelta(0, cmplx.Abs(out.S21.At(i)-want.S21), tol, "S21 at %v", f)
		require.InDelta(0, cmplx.Abs(out.S12.At(i)-want.S12), tol, "S12 at %v", f)
		require.InDelta(0, cmplx.Abs(out.S22.At(i)-want.S22), tol, "S22 at %v", f)
	}
}

func TestCalibration(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 101)

	require.ErrorIs(task.MeasureCalibrationStep(ctx, vna.CalStep(7)), vna.ErrBadPath)

	for i, step := range vna.CalSteps {
		require.False(task.HaveCalibrationStep(step))
		sim.Connect(simulator.Standard(step))
		require.NoError(task.MeasureCalibrationStep(ctx, step))
		require.True(task.HaveCalibrationStep(step))
		require.Equal(i == len(vna.CalSteps)-1, task.IsCalibrationComplete())
	}
	require.EqualValues(vna.NumCalSteps, task.Metrics().CalStepCount.Load())
	require.Equal(task.AchievedFrequencies(), task.CalibrationFrequencies())
	require.Equal(101, task.NumberOfCalibrationFrequencies())

	sim.Connect(simulator.Line(3, 0.5))
	requireLine(t, task, 1e-9)

	t.Run("Selected Parameters Only", func(t *testing.T) {
		s11 := vna.NewIQ(101)
		s21 := vna.NewIQ(101)
		require.NoError(task.Measure2PortCalibrated(ctx, vna.S21, SParamBuffers{S11: s11, S21: s21}))
		require.Zero(s11.I[50])
		require.InDelta(cmplx.Abs(simulator.Line(3, 0.5)(1500).S21), cmplx.Abs(s21.At(50)), 1e-9)
	})

	t.Run("Degenerate Step Rejected", func(t *testing.T) {
		_, before, err := task.ExportCalibration()
		require.NoError(err)

		// a short measured as the open makes the port 1 standards indistinguishable
		sim.Connect(simulator.Standard(vna.CalP1Short))
		err = task.MeasureCalibrationStep(ctx, vna.CalP1Open)
		require.ErrorIs(err, vna.ErrBadCal)
		require.True(task.IsCalibrationComplete())

		sim.Connect(simulator.Standard(vna.CalP1Open))
		require.NoError(task.MeasureCalibrationStep(ctx, vna.CalP1Open))

		_, after, err := task.ExportCalibration()
		require.NoError(err)
		for term := range before {
			for i := range before[term] {
				require.InDelta(0, cmplx.Abs(before[term][i]-after[term][i]), 1e-12)
			}
		}
	})

	t.Run("Clear", func(t *testing.T) {
		task.ClearCalibration()
		require.False(task.IsCalibrationComplete())
		require.False(task.HaveCalibrationStep(vna.CalThru))
		require.Nil(task.CalibrationFrequencies())
		_, _, err := task.ExportCalibration()
		require.ErrorIs(err, vna.ErrBadCal)
	})
}

func TestCalibrationSweepMismatch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 51)

	sim.Connect(simulator.Standard(vna.CalP1Open))
	require.NoError(task.MeasureCalibrationStep(ctx, vna.CalP1Open))

	require.NoError(task.Stop())
	require.NoError(task.GenerateLinearSweep(1000, 1500, 51))
	require.NoError(task.Start(ctx))

	err := task.MeasureCalibrationStep(ctx, vna.CalP1Short)
	require.ErrorIs(err, vna.ErrBadCal)
	require.False(task.HaveCalibrationStep(vna.CalP1Short))
	require.True(task.HaveCalibrationStep(vna.CalP1Open))

	task.ClearCalibration()
	calibrate(t, sim, task)
	require.True(task.IsCalibrationComplete())
}

func TestCalibrationInterpolation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 201)
	calibrate(t, sim, task)

	// a narrower sweep between the calibration points uses interpolated terms
	require.NoError(task.Stop())
	require.NoError(task.GenerateLinearSweep(1203, 1797, 77))
	require.NoError(task.Start(ctx))
	require.True(task.IsCalibrationComplete())
	require.Equal(201, task.NumberOfCalibrationFrequencies())

	sim.Connect(simulator.Line(3, 0.5))
	requireLine(t, task, 1e-2)
}

func TestCalibrationExportImport(t *testing.T) {
	require := require.New(t)

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 101)
	calibrate(t, sim, task)

	freqs, terms, err := task.ExportCalibration()
	require.NoError(err)
	require.Len(freqs, 101)
	require.Equal(101, terms.Len())

	// exported data are copies
	terms[vna.TermEDF][0] = 99
	_, again, err := task.ExportCalibration()
	require.NoError(err)
	require.NotEqual(complex(99, 0), again[vna.TermEDF][0])
	terms = again

	fresh := newTask(t, sim)
	require.ErrorIs(fresh.ImportCalibration(freqs, nil), vna.ErrBadCal)
	require.ErrorIs(fresh.ImportCalibration(nil, &terms), vna.ErrBadCal)
	require.ErrorIs(fresh.ImportCalibration(freqs[:10], &terms), vna.ErrBadCal)

	require.NoError(fresh.ImportCalibration(freqs, &terms))
	require.True(fresh.IsCalibrationComplete())
	require.Equal(freqs, fresh.CalibrationFrequencies())
	for _, step := range vna.CalSteps {
		require.False(fresh.HaveCalibrationStep(step))
	}

	require.NoError(fresh.GenerateLinearSweep(1000, 2000, 101))
	require.NoError(fresh.Start(context.Background()))
	sim.Connect(simulator.Line(3, 0.5))
	requireLine(t, fresh, 1e-9)

	t.Run("File", func(t *testing.T) {
		f, err := task.ExportCalibrationFile()
		require.NoError(err)
		require.Equal(flatHardware.SerialNumber, f.SerialNumber)

		require.NoError(fresh.Stop())
		fresh.ClearCalibration()
		require.NoError(fresh.ImportCalibrationFile(f))
		require.NoError(fresh.Start(context.Background()))
		requireLine(t, fresh, 1e-9)

		require.ErrorIs(fresh.ImportCalibrationFile(nil), vna.ErrBadCal)
	})

	t.Run("Wrong State", func(t *testing.T) {
		other, err := NewTask()
		require.NoError(err)
		require.ErrorIs(other.ImportCalibration(freqs, &terms), vna.ErrWrongState)
	})
}

func TestFactoryCalibration(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	t.Run("Not Present", func(t *testing.T) {
		task := newTask(t, startSimulator(t))
		require.False(task.HasFactoryCalibration())
		require.ErrorIs(task.ImportFactoryCalibration(ctx), vna.ErrBadCal)
	})

	t.Run("Import", func(t *testing.T) {
		calFreqs := make([]float64, 201)
		for i := range calFreqs {
			calFreqs[i] = 1000 + 5*float64(i)
		}
		sim := startSimulator(t, simulator.WithFactoryCalibration(calFreqs))

		task := newTask(t, sim)
		require.True(task.HasFactoryCalibration())
		require.NoError(task.GenerateLinearSweep(1100, 1900, 61))
		require.NoError(task.ImportFactoryCalibration(ctx))
		require.True(task.IsCalibrationComplete())
		require.Equal(calFreqs, task.CalibrationFrequencies())
		require.EqualValues(1, sim.Count(vna.OpFactoryCal))

		require.NoError(task.Start(ctx))
		sim.Connect(simulator.Line(3, 0.5))
		requireLine(t, task, 1e-2)
	})
}

func TestOpenPhaseCorrection(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 21)

	require.ErrorIs(task.SetOpenPhaseCorrection(make([]float64, 21)), vna.ErrBadCal)
	require.ErrorIs(task.SetOpenPhaseCorrection(nil), vna.ErrBadCal)

	sim.Connect(simulator.Standard(vna.CalP2Open))
	require.NoError(task.MeasureCalibrationStep(ctx, vna.CalP2Open))
	require.ErrorIs(task.SetOpenPhaseCorrection(make([]float64, 20)), vna.ErrBadCal)
	require.NoError(task.SetOpenPhaseCorrection(make([]float64, 21)))
	require.NoError(task.SetOpenPhaseCorrection(nil))

	calibrate(t, sim, task)
	_, base, err := task.ExportCalibration()
	require.NoError(err)

	phase := make([]float64, 21)
	for i := range phase {
		phase[i] = 0.1
	}
	require.NoError(task.SetOpenPhaseCorrection(phase))
	_, rotated, err := task.ExportCalibration()
	require.NoError(err)
	require.NotEqual(base[vna.TermESF][0], rotated[vna.TermESF][0])
	require.Equal(base[vna.TermEDF], rotated[vna.TermEDF])

	// corrections replace each other rather than accumulate
	require.NoError(task.SetOpenPhaseCorrection(phase))
	_, again, err := task.ExportCalibration()
	require.NoError(err)
	require.Equal(rotated, again)

	require.NoError(task.SetOpenPhaseCorrection(nil))
	_, reset, err := task.ExportCalibration()
	require.NoError(err)
	require.Equal(base, reset)
}

func TestOpenPhaseCorrectionWrongState(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	idle, err := NewTask()
	require.NoError(err)
	t.Cleanup(func() { _ = idle.Close() })
	require.ErrorIs(idle.SetOpenPhaseCorrection(nil), vna.ErrWrongState)

	sim := startSimulator(t)
	task := newTask(t, sim, WithAcquisitionMode(vna.Asynchronous))
	require.NoError(task.GenerateLinearSweep(1000, 2000, 21))
	require.NoError(task.Start(ctx))
	calibrate(t, sim, task)
	_, base, err := task.ExportCalibration()
	require.NoError(err)

	require.NoError(task.BeginAsync(ctx))
	phase := make([]float64, 21)
	for i := range phase {
		phase[i] = 0.1
	}
	require.ErrorIs(task.SetOpenPhaseCorrection(phase), vna.ErrWrongState)
	require.NoError(task.HaltAsync(ctx))

	_, after, err := task.ExportCalibration()
	require.NoError(err)
	require.Equal(base, after)
}

func TestAddressChangeClearsCalibration(t *testing.T) {
	require := require.New(t)

	sim := startSimulator(t)
	task := startTask(t, sim, 1000, 2000, 11)
	calibrate(t, sim, task)
	require.True(task.IsCalibrationComplete())

	require.NoError(task.Stop())
	require.NoError(task.SetPort(sim.Port()))
	require.Equal(vna.UninitializedState, task.State())
	require.False(task.IsCalibrationComplete())
	require.False(task.HaveCalibrationStep(vna.CalP1Open))
}
