package avmu

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-vna/transport"
)

// Metrics contains atomic counters of a task.
// Metrics can be used as the value of a prometheus CounterFunc, or exported with a Collector.
type Metrics struct {
	// MeasureCount indicates the number of sweeps requested.
	MeasureCount atomic.Uint64
	// MeasureErrCount indicates the number of sweeps that failed.
	MeasureErrCount atomic.Uint64
	// CalStepCount indicates the number of calibration steps measured.
	CalStepCount atomic.Uint64

	// Transport holds the counters of the task's socket.
	Transport transport.Metrics
}

func (m *Metrics) incMeasureCount() {
	m.MeasureCount.Add(1)
}

func (m *Metrics) incMeasureErrCount() {
	m.MeasureErrCount.Add(1)
}

func (m *Metrics) incCalStepCount() {
	m.CalStepCount.Add(1)
}

// Collector exports the state and counters of every task of a Registry.
type Collector struct {
	registry *Registry

	state        *prometheus.Desc
	measure      *prometheus.Desc
	measureErr   *prometheus.Desc
	calSteps     *prometheus.Desc
	exchanges    *prometheus.Desc
	exchangeErrs *prometheus.Desc
	timeouts     *prometheus.Desc
	interrupts   *prometheus.Desc
	stale        *prometheus.Desc
	bytesSent    *prometheus.Desc
	bytesRecv    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for the tasks of r.
func NewCollector(r *Registry) *Collector {
	labels := []string{"handle", "serial"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("vna", "task", name), help, labels, nil)
	}

	return &Collector{
		registry:     r,
		state:        desc("state", "Run state of the task (0 uninitialized, 1 stopped, 2 started, 3 running)."),
		measure:      desc("sweeps_total", "Number of sweeps requested."),
		measureErr:   desc("sweep_errors_total", "Number of sweeps that failed."),
		calSteps:     desc("calibration_steps_total", "Number of calibration steps measured."),
		exchanges:    desc("exchanges_total", "Number of request/response exchanges."),
		exchangeErrs: desc("exchange_errors_total", "Number of failed exchanges."),
		timeouts:     desc("timeouts_total", "Number of exchanges without response."),
		interrupts:   desc("interrupts_total", "Number of interrupted exchanges."),
		stale:        desc("stale_datagrams_total", "Number of discarded datagrams with a foreign sequence number."),
		bytesSent:    desc("sent_bytes_total", "Number of bytes sent to the instrument."),
		bytesRecv:    desc("received_bytes_total", "Number of bytes received from the instrument."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.measure, c.measureErr, c.calSteps, c.exchanges, c.exchangeErrs,
		c.timeouts, c.interrupts, c.stale, c.bytesSent, c.bytesRecv,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Range(func(h Handle, t *Task) bool {
		labels := []string{h.String(), strconv.Itoa(t.HardwareDetails().SerialNumber)}
		m := t.Metrics()

		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
		}

		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(t.State()), labels...)
		counter(c.measure, m.MeasureCount.Load())
		counter(c.measureErr, m.MeasureErrCount.Load())
		counter(c.calSteps, m.CalStepCount.Load())
		counter(c.exchanges, m.Transport.ExchangeCount.Load())
		counter(c.exchangeErrs, m.Transport.ExchangeErrCount.Load())
		counter(c.timeouts, m.Transport.TimeoutCount.Load())
		counter(c.interrupts, m.Transport.InterruptCount.Load())
		counter(c.stale, m.Transport.StaleCount.Load())
		counter(c.bytesSent, m.Transport.BytesSent.Load())
		counter(c.bytesRecv, m.Transport.BytesRecv.Load())

		return true
	})
}
