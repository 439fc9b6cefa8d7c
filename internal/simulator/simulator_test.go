package simulator

import (
	"context"
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/transport"
	"github.com/arloliu/go-vna/vna"
)

func startSimulator(t *testing.T, opts ...Option) (*Simulator, *transport.Conn) {
	t.Helper()

	sim, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, sim.Start(context.Background()))
	t.Cleanup(func() { _ = sim.Close() })

	conn, err := transport.Dial(sim.Host(), sim.Port(), transport.WithTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return sim, conn
}

func exchange(t *testing.T, conn *transport.Conn, op vna.Opcode, payload []byte) *vna.Message {
	t.Helper()

	rsp, err := conn.Exchange(context.Background(), vna.NewRequest(op, payload), 0)
	require.NoError(t, err)

	return rsp
}

func program(t *testing.T, conn *transport.Conn, mode vna.AcquisitionMode, freqs []float64) {
	t.Helper()

	prog := vna.Program{HopRate: vna.Hop45K, Attenuation: 0, Mode: mode, Frequencies: freqs}
	payload, err := prog.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, exchange(t, conn, vna.OpProgram, payload).Err())
}

func TestSimulatorProm(t *testing.T) {
	require := require.New(t)

	sim, conn := startSimulator(t, WithFactoryCalibration([]float64{1000, 2000}))

	var img []byte
	for chunk := 0; ; chunk++ {
		rsp := exchange(t, conn, vna.OpReadProm, vna.EncodePromRequest(chunk))
		require.NoError(rsp.Err())
		total, data, err := vna.DecodePromChunk(rsp.Payload)
		require.NoError(err)
		img = append(img, data...)
		if chunk+1 == total {
			break
		}
	}

	hw, factory, err := vna.DecodeProm(img)
	require.NoError(err)
	require.Equal(sim.Hardware(), hw)
	require.True(factory)

	rsp := exchange(t, conn, vna.OpReadProm, vna.EncodePromRequest(100))
	require.Equal(vna.StatusRejected, rsp.Status)
}

func TestSimulatorMeasure(t *testing.T) {
	require := require.New(t)

	sim, conn := startSimulator(t)

	rsp := exchange(t, conn, vna.OpMeasure, []byte{byte(vna.PathT1R1)})
	require.ErrorIs(rsp.Err(), vna.ErrWrongState)

	freqs := []float64{1000, 1500, 2000}
	program(t, conn, vna.Synchronous, freqs)

	sim.Connect(Standard(vna.CalP1Short))
	paths := vna.PathT1R1 | vna.PathRef
	rsp = exchange(t, conn, vna.OpMeasure, []byte{byte(paths)})
	require.NoError(rsp.Err())

	data, err := vna.DecodeSweepData(rsp.Payload, paths, len(freqs))
	require.NoError(err)
	for i, f := range freqs {
		e := sim.Model()(f)
		want := cal.Distort(&e, cal.Matrix{S11: -1})
		got := data.Path(vna.PathT1R1)[i] / data.Path(vna.PathRef)[i]
		require.InDelta(0, cmplx.Abs(want.S11-got), 1e-12)
	}

	sim.SetCorrupt(true)
	rsp = exchange(t, conn, vna.OpMeasure, []byte{byte(paths)})
	_, err = vna.DecodeSweepData(rsp.Payload, paths, len(freqs))
	require.ErrorIs(err, vna.ErrBytes)
	require.EqualValues(3, sim.Count(vna.OpMeasure))
}

func TestSimulatorLargeProgram(t *testing.T) {
	require := require.New(t)

	_, conn := startSimulator(t, WithProgramMemory(1000*vna.ProgramBytesPerPoint))

	freqs := make([]float64, 1001)
	for i := range freqs {
		freqs[i] = 1000 + float64(i)
	}
	prog := vna.Program{HopRate: vna.Hop45K, Mode: vna.Synchronous, Frequencies: freqs}
	payload, err := prog.MarshalBinary()
	require.NoError(err)
	require.Greater(len(payload), vna.MaxFragmentPayload)

	rsp := exchange(t, conn, vna.OpProgram, payload)
	require.ErrorIs(rsp.Err(), vna.ErrProgOverflow)

	program(t, conn, vna.Synchronous, freqs[:1000])
	rsp = exchange(t, conn, vna.OpMeasure, []byte{byte(vna.PathAll)})
	require.NoError(rsp.Err())
	_, err = vna.DecodeSweepData(rsp.Payload, vna.PathAll, 1000)
	require.NoError(err)
}

func TestSimulatorAsync(t *testing.T) {
	require := require.New(t)

	_, conn := startSimulator(t)

	program(t, conn, vna.Synchronous, []float64{1000})
	require.ErrorIs(exchange(t, conn, vna.OpArm, nil).Err(), vna.ErrWrongState)

	program(t, conn, vna.Asynchronous, []float64{1000, 1001})
	require.ErrorIs(exchange(t, conn, vna.OpFetch, []byte{byte(vna.PathT1R1)}).Err(), vna.ErrWrongState)
	require.NoError(exchange(t, conn, vna.OpArm, nil).Err())

	rsp := exchange(t, conn, vna.OpFetch, []byte{byte(vna.PathT1R1)})
	require.NoError(rsp.Err())
	_, err := vna.DecodeSweepData(rsp.Payload, vna.PathT1R1, 2)
	require.NoError(err)

	require.ErrorIs(exchange(t, conn, vna.OpMeasure, []byte{byte(vna.PathT1R1)}).Err(), vna.ErrWrongState)
	require.NoError(exchange(t, conn, vna.OpDisarm, nil).Err())
	require.NoError(exchange(t, conn, vna.OpMeasure, []byte{byte(vna.PathT1R1)}).Err())
}

func TestSimulatorFactoryCalibration(t *testing.T) {
	require := require.New(t)

	_, conn := startSimulator(t)
	require.ErrorIs(exchange(t, conn, vna.OpFactoryCal, nil).Err(), vna.ErrBadCal)

	freqs := []float64{1000, 3000, 5000}
	sim, conn := startSimulator(t, WithFactoryCalibration(freqs))
	rsp := exchange(t, conn, vna.OpFactoryCal, nil)
	require.NoError(rsp.Err())

	var data vna.CalibrationData
	require.NoError(data.UnmarshalBinary(rsp.Payload))
	require.Equal(freqs, data.Frequencies)
	want := sim.Model()(3000)
	require.Equal(want[vna.TermETF], data.Terms[vna.TermETF][1])
}

func TestSimulatorSilent(t *testing.T) {
	require := require.New(t)

	sim, err := New()
	require.NoError(err)
	require.NoError(sim.Start(context.Background()))
	defer sim.Close()

	conn, err := transport.Dial(sim.Host(), sim.Port(), transport.WithTimeout(30*time.Millisecond))
	require.NoError(err)
	defer conn.Close()

	sim.SetSilent(true)
	_, err = conn.Exchange(context.Background(), vna.NewRequest(vna.OpPing, nil), 0)
	require.ErrorIs(err, vna.ErrNoResponse)
	require.EqualValues(1, sim.Count(vna.OpPing))

	sim.SetSilent(false)
	_, err = conn.Exchange(context.Background(), vna.NewRequest(vna.OpPing, nil), 0)
	require.NoError(err)
}

func TestStandards(t *testing.T) {
	require := require.New(t)

	require.Equal(cal.Matrix{S11: 1}, Standard(vna.CalP1Open)(1000))
	require.Equal(cal.Matrix{S22: -1}, Standard(vna.CalP2Short)(1000))
	require.Equal(cal.Matrix{}, Standard(vna.CalP2Load)(1000))
	require.Equal(cal.Matrix{S21: 1, S12: 1}, Standard(vna.CalThru)(1000))

	line := Line(6, 1)(250)
	require.InDelta(0.501, cmplx.Abs(line.S21), 1e-3)
	require.InDelta(-math.Pi/2, cmplx.Phase(line.S21), 1e-12)
}
