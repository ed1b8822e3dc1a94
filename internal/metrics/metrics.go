// Package metrics registers the Prometheus collectors for the service and
// the alarm loop.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyrise_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dailyrise_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ChallengeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyrise_challenge_transitions_total",
			Help: "Challenge status transitions by target status and result",
		},
		[]string{"status", "result"},
	)

	PointsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dailyrise_points_awarded_total",
			Help: "Points credited to users",
		},
	)

	AlarmFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyrise_alarm_fired_total",
			Help: "Alarms fired, labelled on_time or missed",
		},
		[]string{"kind"},
	)

	AlarmOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyrise_alarm_outcomes_total",
			Help: "Alarm session outcomes",
		},
		[]string{"outcome"},
	)

	ChallengeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dailyrise_challenge_conflicts_total",
			Help: "Challenges refused because the pair already has an open one",
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dailyrise_poll_duration_seconds",
			Help:    "Latency of challenge polls",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dailyrise_poll_errors_total",
			Help: "Failed polls against the persistence gateway",
		},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyrise_webhook_deliveries_total",
			Help: "Webhook deliveries by result",
		},
		[]string{"result"},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveTransition records an attempted status change.
func ObserveTransition(status string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	ChallengeTransitions.WithLabelValues(status, result).Inc()
}
