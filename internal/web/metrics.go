package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics live on a per-server registry so several servers can coexist in tests
type metrics struct {
	registry     *prometheus.Registry
	uploads      *prometheus.CounterVec
	feedRequests *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kirk_uploads_total",
			Help: "Upload attempts by result (ok, invalid, error).",
		}, []string{"result"}),
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kirk_feed_requests_total",
			Help: "Feed renders, split by whether a search filter was applied.",
		}, []string{"filtered"}),
	}

	m.registry.MustRegister(
		m.uploads,
		m.feedRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
