// Package simulator implements a simulated two-port instrument answering the datagram
// protocol on a local UDP socket. It is used by tests, the sweep example and "vnad sim".
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-vna/internal/pool"
	"github.com/arloliu/go-vna/internal/worker"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

const readPollInterval = 50 * time.Millisecond

// DefaultHardware is the PROM content of a simulator created without WithHardware.
var DefaultHardware = vna.HardwareDetails{
	MinimumFrequency:       375,
	MaximumFrequency:       6050,
	MaximumPoints:          4001,
	SerialNumber:           1001,
	BandBoundaries:         [vna.MaxBandBoundaries]int{3000, 1500, 750},
	NumberOfBandBoundaries: 3,
}

// session is the per client state of the simulator.
type session struct {
	asm     *vna.Assembler
	program *vna.Program
	armed   bool
}

// Simulator is a simulated instrument.
type Simulator struct {
	listenAddr    string
	hw            vna.HardwareDetails
	factoryFreqs  []float64
	model         ErrorModel
	sweepDelay    time.Duration
	programMemory int
	logger        logger.Logger

	prom     []byte
	conn     *net.UDPConn
	mgr      *worker.Manager
	sessions *xsync.MapOf[string, *session]
	counts   *xsync.MapOf[vna.Opcode, *atomic.Uint64]

	dutMu   sync.RWMutex
	dut     DUT
	silent  atomic.Bool
	corrupt atomic.Bool
}

// New creates a simulator. Call Start to begin serving.
func New(opts ...Option) (*Simulator, error) {
	s := &Simulator{
		listenAddr: "127.0.0.1:0",
		hw:         DefaultHardware,
		model:      DefaultErrorModel,
		logger:     logger.GetLogger(),
		sessions:   xsync.NewMapOf[string, *session](),
		counts:     xsync.NewMapOf[vna.Opcode, *atomic.Uint64](),
		dut:        Reflect(0, 0),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	if s.programMemory == 0 {
		s.programMemory = s.hw.MaximumPoints * vna.ProgramBytesPerPoint
	}

	promSize := 2 * vna.PromChunkSize
	s.prom = vna.EncodeProm(s.hw, len(s.factoryFreqs) > 0, promSize)
	s.logger = s.logger.With("component", "simulator", "serial", s.hw.SerialNumber)

	return s, nil
}

// Start binds the socket and serves requests until ctx is done or Close is called.
func (s *Simulator) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve simulator address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen simulator: %w", err)
	}
	_ = conn.SetReadBuffer(4 << 20)
	s.conn = conn

	s.mgr = worker.NewManager(ctx, s.logger)
	if err := s.mgr.Start("simulator-receiver", s.receive, nil); err != nil {
		_ = conn.Close()
		return err
	}
	s.logger.Info("simulator started", "addr", conn.LocalAddr().String())

	return nil
}

// Close stops serving and closes the socket.
func (s *Simulator) Close() error {
	if s.mgr == nil {
		return nil
	}
	s.mgr.Stop()
	s.mgr.Wait()

	err := s.conn.Close()
	s.logger.Info("simulator stopped")

	return err
}

// Addr returns the bound address.
func (s *Simulator) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr) //nolint:forcetypeassert
}

// Host returns the bound IP address as a string.
func (s *Simulator) Host() string { return s.Addr().IP.String() }

// Port returns the bound port.
func (s *Simulator) Port() int { return s.Addr().Port }

// Hardware returns the hardware details stored in the simulated PROM.
func (s *Simulator) Hardware() vna.HardwareDetails { return s.hw }

// Model returns the error model of the simulator.
func (s *Simulator) Model() ErrorModel { return s.model }

// Connect attaches dut to the test ports.
func (s *Simulator) Connect(dut DUT) {
	s.dutMu.Lock()
	defer s.dutMu.Unlock()

	s.dut = dut
}

// SetSilent makes the simulator drop every request without answering.
func (s *Simulator) SetSilent(silent bool) { s.silent.Store(silent) }

// SetCorrupt makes measurement responses carry one point less than programmed.
func (s *Simulator) SetCorrupt(corrupt bool) { s.corrupt.Store(corrupt) }

// Count returns the number of requests received with opcode op.
func (s *Simulator) Count(op vna.Opcode) uint64 {
	if c, ok := s.counts.Load(op); ok {
		return c.Load()
	}

	return 0
}

func (s *Simulator) connected() DUT {
	s.dutMu.RLock()
	defer s.dutMu.RUnlock()

	return s.dut
}

func (s *Simulator) receive(ctx context.Context) bool {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	_ = s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
	n, remote, err := s.conn.ReadFromUDP(*buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return true
		}
		if errors.Is(err, net.ErrClosed) {
			return false
		}
		s.logger.Warn("simulator read failed", "error", err)

		return true
	}

	frag, err := vna.DecodeFragment((*buf)[:n])
	if err != nil {
		s.logger.Warn("simulator dropped malformed datagram", "remote", remote.String(), "error", err)
		return true
	}

	key := remote.String()
	sess, _ := s.sessions.LoadOrCompute(key, func() *session { return &session{} })
	if sess.asm == nil || sess.asm.Seq() != frag.Seq {
		sess.asm = vna.NewAssembler(frag.Seq)
	}
	req, err := sess.asm.Add(frag)
	if err != nil {
		s.logger.Warn("simulator dropped inconsistent fragment", "remote", key, "error", err)
		sess.asm = nil

		return true
	}
	if req == nil {
		return true
	}
	sess.asm = nil

	counter, _ := s.counts.LoadOrCompute(req.Opcode, func() *atomic.Uint64 { return &atomic.Uint64{} })
	counter.Add(1)

	if s.silent.Load() {
		return true
	}

	rsp := s.handle(ctx, sess, req)
	if rsp == nil {
		return true
	}

	dgrams, err := rsp.Datagrams()
	if err != nil {
		s.logger.Error("simulator failed to encode response", "opcode", rsp.Opcode, "error", err)
		return true
	}
	for _, d := range dgrams {
		if _, err := s.conn.WriteToUDP(d, remote); err != nil {
			s.logger.Warn("simulator write failed", "remote", key, "error", err)
			return !errors.Is(err, net.ErrClosed)
		}
	}

	return true
}

func (s *Simulator) handle(ctx context.Context, sess *session, req *vna.Message) *vna.Message {
	s.logger.Debug("simulator request", "opcode", req.Opcode, "seq", req.Seq, "length", len(req.Payload))

	switch req.Opcode {
	case vna.OpPing:
		return req.Reply(vna.StatusOK, nil)

	case vna.OpReadProm:
		chunk, err := vna.DecodePromRequest(req.Payload)
		total := len(s.prom) / vna.PromChunkSize
		if err != nil || chunk >= total {
			return req.Reply(vna.StatusRejected, nil)
		}
		data := s.prom[chunk*vna.PromChunkSize : (chunk+1)*vna.PromChunkSize]

		return req.Reply(vna.StatusOK, vna.EncodePromChunk(total, data))

	case vna.OpProgram:
		return s.handleProgram(sess, req)

	case vna.OpIdle:
		sess.program = nil
		sess.armed = false

		return nil

	case vna.OpMeasure:
		if sess.program == nil || sess.armed {
			return req.Reply(vna.StatusNotReady, nil)
		}

		return s.handleMeasure(ctx, sess, req)

	case vna.OpArm:
		if sess.program == nil || sess.program.Mode != vna.Asynchronous {
			return req.Reply(vna.StatusNotReady, nil)
		}
		sess.armed = true

		return req.Reply(vna.StatusOK, nil)

	case vna.OpDisarm:
		sess.armed = false
		return req.Reply(vna.StatusOK, nil)

	case vna.OpFetch:
		if sess.program == nil || !sess.armed {
			return req.Reply(vna.StatusNotReady, nil)
		}

		return s.handleMeasure(ctx, sess, req)

	case vna.OpFactoryCal:
		if len(s.factoryFreqs) == 0 {
			return req.Reply(vna.StatusNotPresent, nil)
		}
		data := vna.CalibrationData{Frequencies: s.factoryFreqs, Terms: factoryTerms(s.model, s.factoryFreqs)}
		payload, err := data.MarshalBinary()
		if err != nil {
			return req.Reply(vna.StatusRejected, nil)
		}

		return req.Reply(vna.StatusOK, payload)

	default:
		return req.Reply(vna.StatusRejected, nil)
	}
}

func (s *Simulator) handleProgram(sess *session, req *vna.Message) *vna.Message {
	var prog vna.Program
	if err := prog.UnmarshalBinary(req.Payload); err != nil {
		return req.Reply(vna.StatusRejected, nil)
	}
	if len(prog.Frequencies)*vna.ProgramBytesPerPoint > s.programMemory {
		return req.Reply(vna.StatusProgOverflow, nil)
	}
	if !prog.HopRate.Valid() || !prog.Attenuation.Valid() || !prog.Mode.Valid() || len(prog.Frequencies) == 0 {
		return req.Reply(vna.StatusRejected, nil)
	}
	for _, f := range prog.Frequencies {
		if f < float64(s.hw.MinimumFrequency) || f > float64(s.hw.MaximumFrequency) {
			return req.Reply(vna.StatusRejected, nil)
		}
	}

	sess.program = &prog
	sess.armed = false
	s.logger.Debug("simulator programmed", "points", len(prog.Frequencies), "hop_rate", prog.HopRate, "mode", prog.Mode)

	return req.Reply(vna.StatusOK, nil)
}

func (s *Simulator) handleMeasure(ctx context.Context, sess *session, req *vna.Message) *vna.Message {
	if len(req.Payload) != 1 {
		return req.Reply(vna.StatusRejected, nil)
	}
	paths := vna.Path(req.Payload[0])
	if !paths.Valid() || paths == 0 {
		return req.Reply(vna.StatusRejected, nil)
	}

	if !pool.Sleep(s.sweepDelay, ctx.Done()) {
		return nil
	}

	freqs := sess.program.Frequencies
	if s.corrupt.Load() && len(freqs) > 1 {
		freqs = freqs[:len(freqs)-1]
	}

	payload, err := sweep(s.model, s.connected(), freqs, paths).MarshalBinary()
	if err != nil {
		return req.Reply(vna.StatusRejected, nil)
	}

	return req.Reply(vna.StatusOK, payload)
}
