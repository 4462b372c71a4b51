package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stats метрики сервера приема
type stats struct {
	reg *prometheus.Registry

	submissions  *prometheus.CounterVec
	bytesStored  prometheus.Counter
	previewConns prometheus.Gauge
	previewBytes prometheus.Counter
}

func newStats() *stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &stats{
		reg: reg,

		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_submissions_total",
			Help: "Processed submissions by asset kind and outcome",
		}, []string{"kind", "outcome"}),
		bytesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_stored",
			Help: "Total bytes of stored captures",
		}),
		previewConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "capture_preview_connections",
			Help: "Active live preview connections",
		}),
		previewBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "capture_preview_bytes",
			Help: "Total bytes of received preview frames",
		}),
	}
}

func (s *stats) submission(kind, outcome string) {
	s.submissions.WithLabelValues(kind, outcome).Inc()
}
