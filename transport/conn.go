package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arloliu/go-vna/internal/pool"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

// Conn is a connected UDP socket to one instrument.
//
// Exchange, Send and Close are serialized. Interrupt may be called from any goroutine.
type Conn struct {
	cfg     Config
	remote  *net.UDPAddr
	conn    *net.UDPConn
	logger  logger.Logger
	metrics *Metrics

	mu          sync.Mutex
	closed      bool
	interrupted atomic.Bool
}

// Dial opens a UDP socket connected to address:port.
//
// The address must be an IP address or a resolvable host name. Failures wrap
// ErrBadAddress for unresolvable addresses and ErrSocket for socket errors.
func Dial(address string, port int, opts ...Option) (*Conn, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vna.ErrBadAddress, err)
	}

	udpConn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", vna.ErrSocket, remote, err)
	}

	c := &Conn{
		cfg:     cfg,
		remote:  remote,
		conn:    udpConn,
		logger:  cfg.logger.With("remote", remote.String()),
		metrics: cfg.metrics,
	}
	if c.metrics == nil {
		c.metrics = &Metrics{}
	}

	if cfg.readBuffer > 0 {
		if err := udpConn.SetReadBuffer(cfg.readBuffer); err != nil {
			c.logger.Warn("failed to set socket read buffer", "size", cfg.readBuffer, "error", err)
		}
	}

	c.logger.Debug("transport connected", "local", udpConn.LocalAddr().String())

	return c, nil
}

// RemoteAddr returns the instrument address.
func (c *Conn) RemoteAddr() *net.UDPAddr { return c.remote }

// Metrics returns the counters of the connection.
func (c *Conn) Metrics() *Metrics { return c.metrics }

// Config returns the connection settings.
func (c *Conn) Config() *Config { return &c.cfg }

// Interrupt cancels the exchange currently waiting for a response, which then fails
// with ErrInterrupted. It has no effect on exchanges started afterwards.
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
}

// Send transmits req without waiting for a response.
func (c *Conn) Send(req *vna.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: connection closed", vna.ErrSocket)
	}

	return c.send(req)
}

// Exchange sends req and waits for the response with the same sequence number.
//
// The wait lasts the configured timeout plus extraWait. The response status is not
// interpreted; use Message.Err for that. Errors wrap ErrNoResponse, ErrSocket, ErrBytes
// or ErrInterrupted.
func (c *Conn) Exchange(ctx context.Context, req *vna.Message, extraWait time.Duration) (rsp *vna.Message, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: connection closed", vna.ErrSocket)
	}

	c.interrupted.Store(false)
	c.metrics.incExchangeCount()
	defer func() { c.metrics.doneExchange(err) }()

	if c.logger.Level() == logger.DebugLevel {
		c.logger.Debug("exchange request", "opcode", req.Opcode, "seq", req.Seq, "length", len(req.Payload))
	}

	if err := c.send(req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.timeout + extraWait)
	asm := vna.NewAssembler(req.Seq)

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	for {
		if c.interrupted.Load() {
			c.metrics.incInterruptCount()
			return nil, fmt.Errorf("%w: %s exchange", vna.ErrInterrupted, req.Opcode)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.incInterruptCount()
			return nil, fmt.Errorf("%w: %w", vna.ErrInterrupted, ctxErr)
		}

		now := time.Now()
		if !now.Before(deadline) {
			c.metrics.incTimeoutCount()
			c.logger.Warn("exchange timed out", "opcode", req.Opcode, "seq", req.Seq)

			return nil, fmt.Errorf("%w: %s after %v", vna.ErrNoResponse, req.Opcode, c.cfg.timeout+extraWait)
		}

		rd := now.Add(c.cfg.pollInterval)
		if rd.After(deadline) {
			rd = deadline
		}
		if err := c.conn.SetReadDeadline(rd); err != nil {
			return nil, fmt.Errorf("%w: %w", vna.ErrSocket, err)
		}

		n, err := c.conn.Read(*buf)
		if err != nil {
			if isRetryable(err) {
				continue
			}
			c.logger.Error("socket read failed", "opcode", req.Opcode, "error", err)

			return nil, fmt.Errorf("%w: read: %w", vna.ErrSocket, err)
		}
		c.metrics.addRecv(n)

		if n > vna.MaxDatagramSize {
			return nil, fmt.Errorf("%w: datagram of %d bytes", vna.ErrBytes, n)
		}

		frag, err := vna.DecodeFragment((*buf)[:n])
		if err != nil {
			c.logger.Error("malformed datagram", "opcode", req.Opcode, "error", err)
			return nil, err
		}

		if frag.Seq != req.Seq {
			c.metrics.incStaleCount()
			c.logger.Debug("discard stale datagram", "seq", frag.Seq, "want", req.Seq, "opcode", frag.Opcode)

			continue
		}

		msg, err := asm.Add(frag)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}

		if msg.Opcode != req.Opcode {
			return nil, fmt.Errorf("%w: response opcode %s to %s request", vna.ErrBytes, msg.Opcode, req.Opcode)
		}

		if c.logger.Level() == logger.DebugLevel {
			c.logger.Debug("exchange response", "opcode", msg.Opcode, "seq", msg.Seq, "status", msg.Status, "length", len(msg.Payload))
		}

		return msg, nil
	}
}

func (c *Conn) send(req *vna.Message) error {
	dgrams, err := req.Datagrams()
	if err != nil {
		return fmt.Errorf("%w: %w", vna.ErrBytes, err)
	}

	for _, d := range dgrams {
		n, err := c.conn.Write(d)
		if err != nil {
			c.logger.Error("socket write failed", "opcode", req.Opcode, "error", err)
			return fmt.Errorf("%w: write: %w", vna.ErrSocket, err)
		}
		c.metrics.addSent(n)
	}

	return nil
}

// isRetryable reports whether a read error only means that nothing arrived yet.
// A connected UDP socket reports ICMP port unreachable as ECONNREFUSED, which happens
// while the instrument is still booting.
func isRetryable(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// Close closes the socket. Close is idempotent.
func (c *Conn) Close() error {
	c.Interrupt()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", vna.ErrSocket, err)
	}
	c.logger.Debug("transport closed")

	return nil
}
