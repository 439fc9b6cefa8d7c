package transport

import (
	"fmt"
	"time"

	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

const (
	// DefaultTimeout is the base response timeout of an exchange.
	DefaultTimeout = 150 * time.Millisecond
	// DefaultPollInterval is the interval at which a waiting exchange checks for interruption.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultReadBuffer is the requested socket receive buffer size. A 4001 point,
	// five path sweep is about 320 KiB of fragments.
	DefaultReadBuffer = 4 << 20
)

// Config holds the settings of a Conn.
type Config struct {
	// timeout is the base wait for a response; Exchange adds its extra wait to it.
	timeout time.Duration
	// pollInterval bounds the latency of Interrupt and context cancellation.
	pollInterval time.Duration
	// readBuffer is the requested SO_RCVBUF size; 0 keeps the system default.
	readBuffer int

	logger  logger.Logger
	metrics *Metrics
}

func defaultConfig() Config {
	return Config{
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		readBuffer:   DefaultReadBuffer,
		logger:       logger.GetLogger(),
	}
}

// Timeout returns the base response timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// PollInterval returns the interrupt poll interval.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// Option represents a functional option for configuring a Conn.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error {
	if err := o.applyFunc(cfg); err != nil {
		return fmt.Errorf("transport option %s: %w", o.name, err)
	}

	return nil
}

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithTimeout sets the base response timeout. A zero timeout only waits for the extra
// wait passed to Exchange.
func WithTimeout(d time.Duration) Option {
	return newOptFunc("timeout", func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: %v", vna.ErrBadTimeout, d)
		}
		cfg.timeout = d

		return nil
	})
}

// WithPollInterval sets the interval at which a waiting exchange checks for interruption.
func WithPollInterval(d time.Duration) Option {
	return newOptFunc("poll-interval", func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval %v", vna.ErrBadTimeout, d)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithReadBuffer sets the requested socket receive buffer size in bytes.
func WithReadBuffer(size int) Option {
	return newOptFunc("read-buffer", func(cfg *Config) error {
		if size < 0 {
			return fmt.Errorf("invalid read buffer size %d", size)
		}
		cfg.readBuffer = size

		return nil
	})
}

// WithLogger sets the logger of the connection.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("logger", func(cfg *Config) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}

// WithMetrics makes the connection count into m instead of a private Metrics.
// Several connections may share one Metrics.
func WithMetrics(m *Metrics) Option {
	return newOptFunc("metrics", func(cfg *Config) error {
		cfg.metrics = m
		return nil
	})
}
