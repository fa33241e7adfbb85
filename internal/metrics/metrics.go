// Package metrics holds the Prometheus collectors of the commission pipeline.
//
// Every method is safe on a nil *Pipeline so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "affilink"

// Pipeline groups the service's collectors.
type Pipeline struct {
	gatherer prometheus.Gatherer

	webhookDeliveries  *prometheus.CounterVec
	commissions        prometheus.Counter
	commissionAmount   prometheus.Counter
	provisioning       *prometheus.CounterVec
	provisioningOrphan prometheus.Counter
	oauthCallbacks     *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	platformLatency    *prometheus.HistogramVec
	wsConnections      prometheus.Gauge
	wsDropped          prometheus.Counter
	httpRequests       *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Pipeline {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Pipeline{
		gatherer: reg,

		webhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Order webhook deliveries by outcome.",
		}, []string{"outcome"}),

		commissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commissions_recorded_total",
			Help:      "Commission transactions recorded.",
		}),

		commissionAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_amount_total",
			Help:      "Sum of recorded commission amounts (float view for dashboards only).",
		}),

		provisioning: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_total",
			Help:      "Discount provisioning attempts by result.",
		}, []string{"result"}),

		provisioningOrphan: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_orphans_total",
			Help:      "Price rules left on the platform after failed compensation.",
		}),

		oauthCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks by result.",
		}, []string{"result"}),

		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partnership_decisions_total",
			Help:      "Brand decisions on partnership requests.",
		}, []string{"action", "result"}),

		platformLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "platform_request_seconds",
			Help:      "Latency of commerce platform API calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Authenticated notification stream connections.",
		}),

		wsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_dropped_total",
			Help:      "Notification pushes dropped on a full send queue.",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status class.",
		}, []string{"route", "class"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Pipeline) WebhookDelivery(outcome string) {
	if p == nil {
		return
	}
	p.webhookDeliveries.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) CommissionRecorded(amount float64) {
	if p == nil {
		return
	}
	p.commissions.Inc()
	if amount > 0 {
		p.commissionAmount.Add(amount)
	}
}

func (p *Pipeline) Provisioning(result string) {
	if p == nil {
		return
	}
	p.provisioning.WithLabelValues(result).Inc()
}

func (p *Pipeline) ProvisioningOrphan() {
	if p == nil {
		return
	}
	p.provisioningOrphan.Inc()
}

func (p *Pipeline) OAuthCallback(result string) {
	if p == nil {
		return
	}
	p.oauthCallbacks.WithLabelValues(result).Inc()
}

func (p *Pipeline) PartnershipDecision(action, result string) {
	if p == nil {
		return
	}
	p.decisions.WithLabelValues(action, result).Inc()
}

// PlatformRequest matches the shopify.WithObserver callback signature.
func (p *Pipeline) PlatformRequest(op string, d time.Duration, _ error) {
	if p == nil {
		return
	}
	p.platformLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Pipeline) RealtimeConnected(delta int) {
	if p == nil {
		return
	}
	p.wsConnections.Add(float64(delta))
}

func (p *Pipeline) RealtimeDropped() {
	if p == nil {
		return
	}
	p.wsDropped.Inc()
}

// HTTPRequest counts a served request. route is the mux pattern, never the raw path.
func (p *Pipeline) HTTPRequest(route, class string) {
	if p == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	p.httpRequests.WithLabelValues(route, class).Inc()
}
