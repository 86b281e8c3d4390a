package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus instruments.
type Metrics struct {
	PayloadsIngested prometheus.Counter
	DeliveryAttempts *prometheus.CounterVec
	RateLimited      prometheus.Counter
	RetentionDeleted *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		PayloadsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "spigot_payloads_ingested_total",
			Help: "Webhook payloads accepted for delivery.",
		}),
		DeliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spigot_delivery_attempts_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "spigot_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		RetentionDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spigot_retention_deleted_total",
			Help: "Rows removed by the retention jobs.",
		}, []string{"kind"}),
		registry: registry,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
