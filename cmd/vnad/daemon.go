package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/internal/worker"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

// Daemon serves one instrument task over HTTP, websocket and MQTT.
type Daemon struct {
	cfg      *Config
	logger   logger.Logger
	registry *avmu.Registry
	handle   avmu.Handle
	task     *avmu.Task
	metrics  *daemonMetrics
	promReg  *prometheus.Registry
	workers  *worker.Manager
	hub      *streamHub
	pub      *mqttPublisher

	// sweepMu serializes sweep reprogramming against the stream loop.
	sweepMu sync.Mutex
	seq     atomic.Uint64
}

// NewDaemon creates the daemon's task from cfg. The instrument is not contacted until Connect.
func NewDaemon(cfg *Config, l logger.Logger) (*Daemon, error) {
	mode, err := cfg.acquisitionMode()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   l,
		registry: avmu.NewRegistry(),
		promReg:  prometheus.NewRegistry(),
	}
	d.metrics = newDaemonMetrics(d.promReg)
	d.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		avmu.NewCollector(d.registry),
	)

	d.handle, err = d.registry.CreateTask(
		avmu.WithLogger(l),
		avmu.WithTimeout(cfg.Instrument.Timeout),
		avmu.WithAcquisitionMode(mode),
		avmu.WithStateHandler(d.onStateChange),
	)
	if err != nil {
		return nil, err
	}
	if d.task, err = d.registry.Task(d.handle); err != nil {
		return nil, err
	}
	d.hub = newStreamHub(l, d.metrics)

	return d, nil
}

func (d *Daemon) onStateChange(prev, cur vna.TaskState) {
	d.logger.Info("task state changed", "from", prev, "to", cur)
	d.metrics.stateChanges.WithLabelValues(cur.String()).Inc()
}

// Connect configures the task, retries ping and initialize with exponential backoff until
// the instrument answers, starts the configured sweep and loads the startup calibration.
func (d *Daemon) Connect(ctx context.Context) error {
	inst := d.cfg.Instrument
	hop, err := vna.ParseHopRate(inst.HopRate)
	if err != nil {
		return err
	}

	for _, set := range []func() error{
		func() error { return d.task.SetAddress(inst.Address) },
		func() error { return d.task.SetPort(inst.Port) },
		func() error { return d.task.SetHopRate(hop) },
		func() error { return d.task.SetAttenuation(vna.Attenuation(inst.Attenuation)) },
	} {
		if err := set(); err != nil {
			return err
		}
	}

	if err := d.initialize(ctx); err != nil {
		return err
	}

	if err := d.task.GenerateLinearSweep(d.cfg.Sweep.StartMHz, d.cfg.Sweep.EndMHz, d.cfg.Sweep.Points); err != nil {
		return err
	}
	if err := d.startAcquisition(ctx); err != nil {
		return err
	}

	d.loadCalibration(ctx)

	return nil
}

func (d *Daemon) initialize(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Instrument.Retry.InitialInterval
	b.MaxInterval = d.cfg.Instrument.Retry.MaxInterval
	b.MaxElapsedTime = d.cfg.Instrument.Retry.MaxElapsedTime

	progress := func(percent int, _ any) bool {
		d.logger.Debug("reading instrument PROM", "percent", percent)
		return ctx.Err() == nil
	}

	op := func() error {
		if err := d.task.Ping(ctx); err != nil {
			return retryable(err)
		}

		return retryable(d.task.Initialize(ctx, progress, nil))
	}
	notify := func(err error, next time.Duration) {
		d.metrics.connectRetries.Inc()
		d.logger.Warn("instrument not ready, retrying", "address", d.task.Address(), "port", d.task.Port(), "error", err, "next", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", vna.ErrInterrupted, ctxErr)
		}
		return err
	}

	hw := d.task.HardwareDetails()
	d.logger.Info("instrument initialized",
		"serial", hw.SerialNumber,
		"min_mhz", hw.MinimumFrequency,
		"max_mhz", hw.MaximumFrequency,
		"max_points", hw.MaximumPoints,
		"factory_cal", d.task.HasFactoryCalibration(),
	)

	return nil
}

// retryable marks errors that another attempt cannot fix as permanent.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	switch vna.KindOf(err) {
	case vna.KindTransport:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func (d *Daemon) startAcquisition(ctx context.Context) error {
	if err := d.task.Start(ctx); err != nil {
		return err
	}
	if d.task.AcquisitionMode() == vna.Asynchronous {
		return d.task.BeginAsync(ctx)
	}

	return nil
}

func (d *Daemon) stopAcquisition(ctx context.Context) error {
	if d.task.State() == vna.RunningState {
		if err := d.task.HaltAsync(ctx); err != nil {
			return err
		}
	}

	return d.task.Stop()
}

// reprogram replaces the sweep of the running task.
func (d *Daemon) reprogram(ctx context.Context, start, end float64, points int) error {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	if err := d.stopAcquisition(ctx); err != nil {
		return err
	}
	if err := d.task.GenerateLinearSweep(start, end, points); err != nil {
		// keep serving the previous sweep
		if restartErr := d.startAcquisition(ctx); restartErr != nil {
			d.logger.Error("failed to restart previous sweep", "error", restartErr)
		}
		return err
	}

	return d.startAcquisition(ctx)
}

func (d *Daemon) loadCalibration(ctx context.Context) {
	path := d.cfg.Calibration.File
	if path != "" {
		f, err := cal.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			d.logger.Info("calibration file not found", "file", path)
		case err != nil:
			d.logger.Warn("failed to read calibration file", "file", path, "error", err)
		default:
			if serial := d.task.HardwareDetails().SerialNumber; f.SerialNumber != serial {
				d.logger.Warn("calibration file was made on another instrument", "file", path, "file_serial", f.SerialNumber, "serial", serial)
			}
			if err := d.task.ImportCalibrationFile(f); err != nil {
				d.logger.Warn("failed to import calibration file", "file", path, "error", err)
			} else {
				d.logger.Info("calibration loaded", "file", path, "id", f.ID, "points", len(f.Frequencies))
				return
			}
		}
	}

	if d.cfg.Calibration.Factory && d.task.HasFactoryCalibration() {
		if err := d.task.ImportFactoryCalibration(ctx); err != nil {
			d.logger.Warn("failed to import factory calibration", "error", err)
			return
		}
		d.logger.Info("factory calibration loaded", "points", d.task.NumberOfCalibrationFrequencies())
	}
}

// saveCalibration writes the task's calibration to the configured file.
func (d *Daemon) saveCalibration() (*cal.File, error) {
	if d.cfg.Calibration.File == "" {
		return nil, fmt.Errorf("%w: no calibration file configured", vna.ErrBadCal)
	}
	f, err := d.task.ExportCalibrationFile()
	if err != nil {
		return nil, err
	}
	if err := cal.WriteFile(d.cfg.Calibration.File, f); err != nil {
		return nil, err
	}
	d.logger.Info("calibration saved", "file", d.cfg.Calibration.File, "id", f.ID)

	return f, nil
}

// Run serves the HTTP API on ln and runs the stream loop until ctx is done.
func (d *Daemon) Run(ctx context.Context, ln net.Listener) error {
	if d.cfg.MQTT.Enabled {
		pub, err := newMQTTPublisher(&d.cfg.MQTT, d.logger, d.metrics)
		if err != nil {
			return err
		}
		d.pub = pub
		defer d.pub.Close()
	}

	d.workers = worker.NewManager(ctx, d.logger)
	defer d.workers.Wait()
	defer d.workers.Stop()

	if d.cfg.Stream.Interval > 0 {
		if err := d.workers.StartInterval("sweep-stream", d.streamSweep, d.cfg.Stream.Interval, false); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("vnad listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	d.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Close stops the instrument and releases the task.
func (d *Daemon) Close() error {
	return d.registry.DeleteTask(d.handle)
}

// streamSweep measures one sweep for the stream subscribers and the MQTT publisher.
func (d *Daemon) streamSweep(ctx context.Context) bool {
	if d.hub.Len() == 0 && d.pub == nil {
		return true
	}
	if !d.task.State().In(vna.StartedState, vna.RunningState) {
		return true
	}

	params, _ := vna.ParseSParameter(d.cfg.Stream.Parameters)

	d.sweepMu.Lock()
	frame, err := d.measureFrame(ctx, params)
	d.sweepMu.Unlock()
	if err != nil {
		d.metrics.streamErrors.Inc()
		d.logger.Warn("stream sweep failed", "error", err)
		return true
	}

	d.hub.broadcast(frame)
	if d.pub != nil {
		d.pub.publish(frame)
	}

	return true
}
