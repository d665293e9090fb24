package middleware

import (
	"context"
	"lite-rpc/message"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request collectors. One instance can back several middlewares.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewMetrics registers the collectors with reg, or with the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "literpc"
	}
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "RPC calls by service, method and outcome.",
		}, []string{"service", "method", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "RPC call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "RPC calls currently being handled.",
		}),
	}
}

// Middleware records one sample per call. An error response counts as "error".
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			m.inflight.Inc()
			start := time.Now()
			resp, err := next(ctx, req)
			m.inflight.Dec()

			service, method := req.ServiceKey(), req.Signature()
			outcome := "ok"
			if err != nil || (resp != nil && resp.Failed()) {
				outcome = "error"
			}
			m.requests.WithLabelValues(service, method, outcome).Inc()
			m.duration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
			return resp, err
		}
	}
}
