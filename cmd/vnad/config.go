package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

// Config is the vnad configuration file.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Server      ServerConfig      `yaml:"server"`
	Stream      StreamConfig      `yaml:"stream"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InstrumentConfig addresses the instrument and holds its acquisition settings.
type InstrumentConfig struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	Timeout         time.Duration `yaml:"timeout"`
	HopRate         string        `yaml:"hop_rate"`
	Attenuation     int           `yaml:"attenuation"`
	AcquisitionMode string        `yaml:"acquisition_mode"` // synchronous or asynchronous
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds the exponential backoff used while the instrument is unreachable.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"` // 0 retries forever
}

// SweepConfig is the linear sweep programmed at startup.
type SweepConfig struct {
	StartMHz float64 `yaml:"start_mhz"`
	EndMHz   float64 `yaml:"end_mhz"`
	Points   int     `yaml:"points"`
}

// CalibrationConfig selects the calibration loaded at startup.
type CalibrationConfig struct {
	File    string `yaml:"file"`    // gzip calibration file, also the target of the save endpoint
	Factory bool   `yaml:"factory"` // import the factory calibration when no file is loaded
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StreamConfig configures the periodic sweep loop feeding websocket and MQTT subscribers.
type StreamConfig struct {
	Interval   time.Duration `yaml:"interval"` // 0 disables the loop
	Parameters string        `yaml:"parameters"`
}

// MQTTConfig configures the sweep summary publisher.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

// DefaultConfig returns the configuration used for settings absent from the file.
func DefaultConfig() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			Timeout:         avmu.DefaultTimeout,
			HopRate:         "45k",
			AcquisitionMode: vna.Synchronous.String(),
			Retry: RetryConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
		},
		Sweep: SweepConfig{
			StartMHz: 375,
			EndMHz:   6050,
			Points:   1024,
		},
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Stream: StreamConfig{
			Interval:   time.Second,
			Parameters: "s11,s21",
		},
		MQTT: MQTTConfig{
			Topic: "vna/sweep",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration file at path over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings vnad cannot run without. Instrument settings are checked
// again by the task when they are applied.
func (c *Config) Validate() error {
	var errs []error

	if _, err := vna.ParseHopRate(c.Instrument.HopRate); err != nil {
		errs = append(errs, fmt.Errorf("instrument.hop_rate: %w", err))
	}
	if !vna.Attenuation(c.Instrument.Attenuation).Valid() {
		errs = append(errs, fmt.Errorf("instrument.attenuation: %w: %d", vna.ErrBadAtten, c.Instrument.Attenuation))
	}
	if _, err := c.acquisitionMode(); err != nil {
		errs = append(errs, fmt.Errorf("instrument.acquisition_mode: %w", err))
	}
	if c.Instrument.Timeout < 0 {
		errs = append(errs, fmt.Errorf("instrument.timeout: %w: %v", vna.ErrBadTimeout, c.Instrument.Timeout))
	}
	if c.Instrument.Retry.InitialInterval <= 0 || c.Instrument.Retry.MaxInterval < c.Instrument.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("instrument.retry: invalid intervals %v-%v", c.Instrument.Retry.InitialInterval, c.Instrument.Retry.MaxInterval))
	}
	if c.Sweep.Points <= 0 || c.Sweep.StartMHz <= 0 || c.Sweep.EndMHz < c.Sweep.StartMHz {
		errs = append(errs, fmt.Errorf("sweep: invalid linear sweep %v-%v MHz, %d points", c.Sweep.StartMHz, c.Sweep.EndMHz, c.Sweep.Points))
	}
	if c.Stream.Interval < 0 {
		errs = append(errs, fmt.Errorf("stream.interval: negative interval %v", c.Stream.Interval))
	}
	if _, err := vna.ParseSParameter(c.Stream.Parameters); err != nil {
		errs = append(errs, fmt.Errorf("stream.parameters: %w", err))
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker: required when mqtt is enabled"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic: required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos: %d out of range [0, 2]", c.MQTT.QoS))
		}
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) acquisitionMode() (vna.AcquisitionMode, error) {
	switch c.Instrument.AcquisitionMode {
	case "", vna.Synchronous.String():
		return vna.Synchronous, nil
	case vna.Asynchronous.String():
		return vna.Asynchronous, nil
	default:
		return vna.Synchronous, fmt.Errorf("%w: %q", vna.ErrBadAcquisitionMode, c.Instrument.AcquisitionMode)
	}
}
