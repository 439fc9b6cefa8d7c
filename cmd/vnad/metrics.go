package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// daemonMetrics are the vnad counters next to the per task metrics of avmu.Collector.
type daemonMetrics struct {
	stateChanges   *prometheus.CounterVec
	connectRetries prometheus.Counter
	requests       *prometheus.CounterVec
	streamSessions prometheus.Gauge
	streamFrames   prometheus.Counter
	streamDropped  prometheus.Counter
	streamErrors   prometheus.Counter
	mqttPublished  prometheus.Counter
	mqttErrors     prometheus.Counter
}

func newDaemonMetrics(reg prometheus.Registerer) *daemonMetrics {
	f := promauto.With(reg)

	return &daemonMetrics{
		stateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vnad_state_changes_total",
			Help: "Task state transitions by new state.",
		}, []string{"state"}),
		connectRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_connect_retries_total",
			Help: "Failed attempts to reach the instrument at startup.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vnad_http_requests_total",
			Help: "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
		streamSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "vnad_stream_sessions",
			Help: "Connected websocket stream sessions.",
		}),
		streamFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_stream_frames_total",
			Help: "Sweep frames queued to stream sessions.",
		}),
		streamDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_stream_dropped_frames_total",
			Help: "Sweep frames dropped for slow stream sessions.",
		}),
		streamErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_stream_sweep_errors_total",
			Help: "Failed stream loop sweeps.",
		}),
		mqttPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_mqtt_published_total",
			Help: "Sweep summaries published to MQTT.",
		}),
		mqttErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vnad_mqtt_errors_total",
			Help: "Failed MQTT publishes.",
		}),
	}
}
