// Package metrics exposes Prometheus counters for pins, throttling and sign-in.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricepin"

// Collector implements the recorder interfaces of the pin, identity and
// middleware packages on top of Prometheus counters.
type Collector struct {
	pinsCreated       prometheus.Counter
	pinsDeleted       prometheus.Counter
	pinDeleteDenied   prometheus.Counter
	rateLimited       *prometheus.CounterVec
	rateLimitStoreErr *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pinsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_created_total",
			Help:      "Pins stored.",
		}),
		pinsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_deleted_total",
			Help:      "Pins removed with a valid delete token.",
		}),
		pinDeleteDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_delete_denied_total",
			Help:      "Pin deletions refused for a missing or wrong token.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejected_total",
			Help:      "Requests rejected by a rate limit policy.",
		}, []string{"policy"}),
		rateLimitStoreErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_store_errors_total",
			Help:      "Rate limit decisions that could not reach the counter store.",
		}, []string{"policy"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_reconciliations_total",
			Help:      "External sign-in callbacks by outcome.",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.pinsCreated,
		c.pinsDeleted,
		c.pinDeleteDenied,
		c.rateLimited,
		c.rateLimitStoreErr,
		c.reconciliations,
		c.httpStatus,
	)
	return c
}

func (c *Collector) PinCreated()      { c.pinsCreated.Inc() }
func (c *Collector) PinDeleted()      { c.pinsDeleted.Inc() }
func (c *Collector) PinDeleteDenied() { c.pinDeleteDenied.Inc() }

// RateLimited counts a request rejected under policy.
func (c *Collector) RateLimited(policy string) {
	c.rateLimited.WithLabelValues(policy).Inc()
}

// RateLimitStoreError counts a decision made without the counter store.
func (c *Collector) RateLimitStoreError(policy string) {
	c.rateLimitStoreErr.WithLabelValues(policy).Inc()
}

// IdentityReconciled counts a reconciliation outcome.
func (c *Collector) IdentityReconciled(outcome string) {
	c.reconciliations.WithLabelValues(outcome).Inc()
}

// HTTPStatus counts a response status code.
func (c *Collector) HTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
