package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type relayMetrics struct {
	decisions        *prometheus.CounterVec
	routeDuration    prometheus.Histogram
	crmFailures      *prometheus.CounterVec
	sessions         *prometheus.CounterVec
	staleCache       prometheus.Counter
	deliveryFailures prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *relayMetrics
)

func metrics() *relayMetrics {
	metricsOnce.Do(func() {
		metricsInst = &relayMetrics{
			decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "router",
				Name:      "decisions_total",
				Help:      "Routed inbound events, labeled by outcome",
			}, []string{"outcome"}),
			routeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "relay",
				Subsystem: "router",
				Name:      "route_duration_seconds",
				Help:      "Time spent routing one inbound event, CRM calls included",
				Buckets:   prometheus.DefBuckets,
			}),
			crmFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "crm",
				Name:      "failures_total",
				Help:      "Failed CRM calls, labeled by operation",
			}, []string{"op"}),
			sessions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "sessions",
				Name:      "initiated_total",
				Help:      "Support session initiations, labeled by result",
			}, []string{"result"}),
			staleCache: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "sessions",
				Name:      "stale_cache_discarded_total",
				Help:      "Cached sessions dropped because the CRM no longer lists them",
			}),
			deliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "chat",
				Name:      "delivery_failures_total",
				Help:      "Outbound chat messages that could not be delivered",
			}),
		}
	})
	return metricsInst
}

func crmFailure(op string) {
	metrics().crmFailures.WithLabelValues(op).Inc()
}
