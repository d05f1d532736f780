// Package metrics wraps the Prometheus collectors the runtime
// publishes, grounded on the teacher's internal/metrics registry
// shape plus gopsutil process sampling for the resource gauges the
// teacher's src/resource_guard.go also exposes.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry wraps every Prometheus collector the network and session
// layers publish to.
type Registry struct {
	Channels   channelVec
	Sessions   sessionVec
	Addresses  addressVec
	Process    processVec
}

type channelVec struct {
	Active        prometheus.Gauge
	Opened        prometheus.Counter
	Stopped       *prometheus.CounterVec // labeled by result code
	BacklogBytes  prometheus.Gauge
	TotalBytes    prometheus.Counter
}

type sessionVec struct {
	OutboundActive prometheus.Gauge
	InboundActive  prometheus.Gauge
	ConnectErrors  *prometheus.CounterVec // labeled by result code
}

type addressVec struct {
	PoolSize     prometheus.Gauge
	ReservedSize prometheus.Gauge
	SaveAccepted prometheus.Counter
}

type processVec struct {
	CPUPercent prometheus.Gauge
	RSSBytes   prometheus.Gauge
}

// NewRegistry creates every collector, registered against the default
// Prometheus registry via promauto, as the teacher does.
func NewRegistry() *Registry {
	return &Registry{
		Channels: channelVec{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_channels_active",
				Help: "Number of currently live peer channels",
			}),
			Opened: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bn_channels_opened_total",
				Help: "Total number of channels constructed",
			}),
			Stopped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bn_channels_stopped_total",
				Help: "Total number of channels stopped, by terminal result code",
			}, []string{"code"}),
			BacklogBytes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_write_backlog_bytes",
				Help: "Sum of queued-but-unwritten bytes across all channels",
			}),
			TotalBytes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bn_write_bytes_total",
				Help: "Cumulative bytes ever queued for write across all channels",
			}),
		},
		Sessions: sessionVec{
			OutboundActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_session_outbound_active",
				Help: "Number of active outbound connection slots in use",
			}),
			InboundActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_session_inbound_active",
				Help: "Number of active inbound connections",
			}),
			ConnectErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bn_connect_errors_total",
				Help: "Total connect/handshake failures, by result code",
			}, []string{"code"}),
		},
		Addresses: addressVec{
			PoolSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_address_pool_size",
				Help: "Current address pool size",
			}),
			ReservedSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_address_reserved_size",
				Help: "Current reserved-authority set size",
			}),
			SaveAccepted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bn_address_save_accepted_total",
				Help: "Total addresses accepted into the pool via save",
			}),
		},
		Process: processVec{
			CPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_process_cpu_percent",
				Help: "Process CPU utilisation percentage, sampled via gopsutil",
			}),
			RSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bn_process_rss_bytes",
				Help: "Process resident set size in bytes, sampled via gopsutil",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SampleProcess reads current CPU/RSS usage via gopsutil and updates
// the process gauges. Intended to be called on a ticker by main.
func (r *Registry) SampleProcess(proc *process.Process) {
	if proc == nil {
		return
	}
	if pct, err := proc.CPUPercent(); err == nil {
		r.Process.CPUPercent.Set(pct)
	}
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		r.Process.RSSBytes.Set(float64(info.RSS))
	}
}

// SampleLoop polls gopsutil on interval until stop is closed. cpu.Percent
// is called once up front to prime its internal baseline, matching
// gopsutil's own documented usage pattern.
func SampleLoop(registry *Registry, interval time.Duration, stop <-chan struct{}) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	_, _ = cpu.Percent(0, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			registry.SampleProcess(proc)
		}
	}
}
