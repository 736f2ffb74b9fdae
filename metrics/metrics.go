// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbxark/formpilot/provider"
	"github.com/tbxark/formpilot/types"
)

const namespace = "formpilot"

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Editing sessions currently streaming.",
	})
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Finished editing sessions by stop reason.",
	}, []string{"reason"})
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Wall time of editing sessions.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Events written to session streams by type.",
	}, []string{"type"})
	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_failures_total",
		Help:      "Drafts that could not be persisted.",
	})
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Forms provider attempts by operation and outcome.",
	}, []string{"op", "outcome"})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)

func ObserveEvent(e types.Event) {
	EventsTotal.WithLabelValues(string(e.EventType())).Inc()
}

func ObserveSession(reason types.StopReason, started time.Time) {
	SessionsTotal.WithLabelValues(string(reason)).Inc()
	SessionDuration.Observe(time.Since(started).Seconds())
}

// ObserveProviderAttempt matches provider.AttemptHook.
func ObserveProviderAttempt(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(provider.Classify(op, err), provider.ErrTransient):
		outcome = "transient"
	default:
		outcome = "permanent"
	}
	ProviderCalls.WithLabelValues(op, outcome).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
