// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load outcomes used as the status label.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusCancelled = "cancelled"
	statusTimeout   = "timeout"
)

// Metrics records plugin host activity.
type Metrics struct {
	CacheHits     prometheus.Counter
	Fetches       *prometheus.CounterVec
	Loads         *prometheus.CounterVec
	MountDuration prometheus.Histogram
	ActivePlugins prometheus.Gauge
}

// NewMetrics creates plugin metrics and registers them with reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "launcher_plugin_cache_hits_total",
			Help: "Total number of plugin module cache hits",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_plugin_fetches_total",
			Help: "Total number of plugin source fetches by status",
		}, []string{"status"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "launcher_plugin_loads_total",
			Help: "Total number of plugin load-and-mount tasks by status",
		}, []string{"status"}),
		MountDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "launcher_plugin_mount_duration_seconds",
			Help:    "Histogram of plugin entry invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ActivePlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "launcher_plugin_active",
			Help: "Number of currently mounted plugins",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.CacheHits, m.Fetches, m.Loads, m.MountDuration, m.ActivePlugins)
	}
	return m
}

func (m *Metrics) observeMount(start time.Time) {
	m.MountDuration.Observe(time.Since(start).Seconds())
}

// loadStatus maps a task error to its status label.
func loadStatus(err error) string {
	switch {
	case err == nil:
		return statusOK
	case IsCancelled(err):
		return statusCancelled
	case ErrorCode(err) == CodeMountTimeout:
		return statusTimeout
	default:
		return statusError
	}
}
