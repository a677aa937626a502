package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jmeaster30/simpledns/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics type
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New return new metrics
func New() *Metrics {
	m := &Metrics{
		queries: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "rcode"},
		)),
		duration: register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dns_query_duration_seconds",
				Help:    "Time taken to answer DNS queries",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"proto"},
		)),
	}

	return m
}

// register returns the collector already registered under the same
// name, so several pipelines in one process share their series.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Name return middleware name
func (m *Metrics) Name() string {
	return name
}

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	start := time.Now()

	ch.Next(ctx)

	if !ch.Writer.Written() {
		return
	}

	m.queries.With(
		prometheus.Labels{
			"qtype": ch.Question().Type.String(),
			"rcode": ch.Writer.Rcode().String(),
		}).Inc()

	m.duration.WithLabelValues(ch.Writer.Proto()).Observe(time.Since(start).Seconds())
}

const name = "metrics"
