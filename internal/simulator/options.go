package simulator

import (
	"fmt"
	"time"

	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

// ErrorModel returns the error terms of the simulated instrument at freq MHz.
type ErrorModel func(freq float64) cal.Point

// Option represents a functional option for configuring a Simulator.
type Option interface {
	apply(*Simulator) error
}

type optFunc func(*Simulator) error

func (f optFunc) apply(s *Simulator) error { return f(s) }

// WithAddress sets the listen address, e.g. "127.0.0.1:0" or ":1026".
func WithAddress(addr string) Option {
	return optFunc(func(s *Simulator) error {
		s.listenAddr = addr
		return nil
	})
}

// WithHardware sets the hardware details written into the simulated PROM.
func WithHardware(hw vna.HardwareDetails) Option {
	return optFunc(func(s *Simulator) error {
		if err := hw.Validate(); err != nil {
			return err
		}
		s.hw = hw

		return nil
	})
}

// WithFactoryCalibration stores a factory calibration at freqs, computed from the error model.
func WithFactoryCalibration(freqs []float64) Option {
	return optFunc(func(s *Simulator) error {
		if len(freqs) == 0 {
			return fmt.Errorf("%w: empty factory calibration", vna.ErrBadCal)
		}
		s.factoryFreqs = append([]float64(nil), freqs...)

		return nil
	})
}

// WithErrorModel replaces DefaultErrorModel.
func WithErrorModel(m ErrorModel) Option {
	return optFunc(func(s *Simulator) error {
		if m != nil {
			s.model = m
		}

		return nil
	})
}

// WithSweepDelay delays every measurement response by d.
func WithSweepDelay(d time.Duration) Option {
	return optFunc(func(s *Simulator) error {
		s.sweepDelay = d
		return nil
	})
}

// WithProgramMemory sets the sweep program memory in bytes.
func WithProgramMemory(size int) Option {
	return optFunc(func(s *Simulator) error {
		if size <= 0 {
			return fmt.Errorf("invalid program memory size %d", size)
		}
		s.programMemory = size

		return nil
	})
}

// WithLogger sets the logger of the simulator.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Simulator) error {
		if l != nil {
			s.logger = l
		}

		return nil
	})
}
