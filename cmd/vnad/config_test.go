package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/vna"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vnad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
instrument:
  address: 10.0.0.5
  port: 1026
  timeout: 250ms
  hop_rate: 7k
  attenuation: 10
  acquisition_mode: asynchronous
  retry:
    max_elapsed_time: 1m
sweep:
  start_mhz: 1000
  end_mhz: 2000
  points: 201
calibration:
  file: /var/lib/vnad/cal.gz
stream:
  interval: 0s
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  qos: 1
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(err)

	require.Equal("10.0.0.5", cfg.Instrument.Address)
	require.Equal(1026, cfg.Instrument.Port)
	require.Equal(250*time.Millisecond, cfg.Instrument.Timeout)
	require.Equal("7k", cfg.Instrument.HopRate)
	require.Equal(10, cfg.Instrument.Attenuation)
	require.Equal(time.Minute, cfg.Instrument.Retry.MaxElapsedTime)
	require.Equal(500*time.Millisecond, cfg.Instrument.Retry.InitialInterval, "default kept")
	require.Equal(SweepConfig{StartMHz: 1000, EndMHz: 2000, Points: 201}, cfg.Sweep)
	require.Equal("/var/lib/vnad/cal.gz", cfg.Calibration.File)
	require.Zero(cfg.Stream.Interval)
	require.Equal("s11,s21", cfg.Stream.Parameters)
	require.Equal("vna/sweep", cfg.MQTT.Topic)
	require.Equal(byte(1), cfg.MQTT.QoS)
	require.Equal(":8080", cfg.Server.Listen)

	mode, err := cfg.acquisitionMode()
	require.NoError(err)
	require.Equal(vna.Asynchronous, mode)
}

func TestDefaultConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadConfig("")
	require.NoError(err)
	require.Equal(avmu.DefaultTimeout, cfg.Instrument.Timeout)
	require.Equal(DefaultConfig(), cfg)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "instrument: [1, 2"))
	require.Error(err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errIs  error
		errMsg string
	}{
		{name: "Hop Rate", modify: func(c *Config) { c.Instrument.HopRate = "1m" }, errIs: vna.ErrBadHop},
		{name: "Attenuation", modify: func(c *Config) { c.Instrument.Attenuation = 32 }, errIs: vna.ErrBadAtten},
		{name: "Acquisition Mode", modify: func(c *Config) { c.Instrument.AcquisitionMode = "burst" }, errIs: vna.ErrBadAcquisitionMode},
		{name: "Timeout", modify: func(c *Config) { c.Instrument.Timeout = -time.Second }, errIs: vna.ErrBadTimeout},
		{name: "Retry", modify: func(c *Config) { c.Instrument.Retry.InitialInterval = 0 }, errMsg: "instrument.retry"},
		{name: "Sweep", modify: func(c *Config) { c.Sweep.EndMHz = 100 }, errMsg: "sweep"},
		{name: "Stream Interval", modify: func(c *Config) { c.Stream.Interval = -1 }, errMsg: "stream.interval"},
		{name: "Stream Parameters", modify: func(c *Config) { c.Stream.Parameters = "s13" }, errIs: vna.ErrBadPath},
		{name: "Listen", modify: func(c *Config) { c.Server.Listen = "8080" }, errMsg: "server.listen"},
		{name: "MQTT Broker", modify: func(c *Config) { c.MQTT.Enabled = true }, errMsg: "mqtt.broker"},
		{name: "MQTT QoS", modify: func(c *Config) { c.MQTT.Enabled, c.MQTT.Broker, c.MQTT.QoS = true, "tcp://b:1883", 3 }, errMsg: "mqtt.qos"},
		{name: "Log Level", modify: func(c *Config) { c.Logging.Level = "verbose" }, errMsg: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
			}
			if tt.errMsg != "" {
				require.ErrorContains(t, err, tt.errMsg)
			}
		})
	}
}
