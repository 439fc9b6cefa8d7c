// Command vnad serves a networked two-port VNA over HTTP, websocket and MQTT, and can
// run a simulated instrument for development.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/internal/simulator"
	"github.com/arloliu/go-vna/logger"
	"github.com/arloliu/go-vna/vna"
)

var (
	configPath string
	logLevel   string
	listenAddr string

	simAddress    string
	simFactoryCal int
	simSweepDelay time.Duration
	simDUT        string
)

var rootCmd = &cobra.Command{
	Use:           "vnad",
	Short:         "Networked VNA daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the instrument and serve the HTTP API",
	Long: `Serve connects to the instrument configured in the config file, retrying with
exponential backoff until it answers, programs the configured sweep and loads the
startup calibration. It then serves:

  /api/v1/...     state, sweep, measurement and calibration endpoints
  /api/v1/stream  websocket stream of periodic sweeps
  /metrics        Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a simulated instrument on a UDP port",
	Args:  cobra.NoArgs,
	RunE:  runSim,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the library version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vnad %s\n", avmu.VersionString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error), overrides the config file")

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "vnad.yaml", "config file path")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address, overrides the config file")

	simCmd.Flags().StringVar(&simAddress, "address", "127.0.0.1:1026", "UDP listen address")
	simCmd.Flags().IntVar(&simFactoryCal, "factory-cal", 201, "number of factory calibration points, 0 for none")
	simCmd.Flags().DurationVar(&simSweepDelay, "sweep-delay", 0, "extra delay before answering a sweep")
	simCmd.Flags().StringVar(&simDUT, "dut", "line", "connected device: line, thru, or a calibration standard such as p1_open")

	rootCmd.AddCommand(serveCmd, simCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(name string) (logger.Logger, error) {
	level, err := logger.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	l := logger.NewSlog(level, false)
	logger.SetDefault(l)

	return l, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, err := setupLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := NewDaemon(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			l.Warn("failed to close task", "error", err)
		}
	}()

	if err := d.Connect(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}

	return d.Run(ctx, ln)
}

func simulatorOptions(l logger.Logger) ([]simulator.Option, error) {
	opts := []simulator.Option{
		simulator.WithAddress(simAddress),
		simulator.WithSweepDelay(simSweepDelay),
		simulator.WithLogger(l),
	}
	switch {
	case simFactoryCal == 1 || simFactoryCal < 0:
		return nil, fmt.Errorf("factory calibration needs at least 2 points, got %d", simFactoryCal)
	case simFactoryCal > 0:
		hw := simulator.DefaultHardware
		freqs := floats.Span(make([]float64, simFactoryCal), float64(hw.MinimumFrequency), float64(hw.MaximumFrequency))
		opts = append(opts, simulator.WithFactoryCalibration(freqs))
	}

	return opts, nil
}

func simulatorDUT(name string) (simulator.DUT, error) {
	switch name {
	case "line":
		return simulator.Line(3, 0.5), nil
	case "thru":
		return simulator.Thru(), nil
	}

	step, err := vna.ParseCalStep(name)
	if err != nil {
		return nil, err
	}

	return simulator.Standard(step), nil
}

func runSim(cmd *cobra.Command, _ []string) error {
	l, err := setupLogger(logLevel)
	if err != nil {
		return err
	}

	dut, err := simulatorDUT(simDUT)
	if err != nil {
		return err
	}
	opts, err := simulatorOptions(l)
	if err != nil {
		return err
	}

	sim, err := simulator.New(opts...)
	if err != nil {
		return err
	}
	sim.Connect(dut)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.Start(ctx); err != nil {
		return err
	}
	defer sim.Close()

	<-ctx.Done()

	return nil
}
