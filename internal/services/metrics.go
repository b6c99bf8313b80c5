// Package services – domain metrics
//
// Counters and histograms describing what the services do, as opposed to the
// HTTP-level collectors in the middleware package. Registered on the default
// Prometheus registry and exposed through /metrics.
package services

import "github.com/prometheus/client_golang/prometheus"

// Login outcomes used as the "outcome" label.
const (
	loginOK           = "ok"
	loginUnknownUser  = "unknown_user"
	loginBadPassword  = "bad_password"
	loginInternalFail = "error"
)

var (
	messagesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "threads_messages_created_total",
			Help: "Total number of messages accepted.",
		},
	)

	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threads_auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// subtreeSize observes how many rows a subtree read returned.
	subtreeSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threads_subtree_size",
			Help:    "Number of messages returned by a subtree read.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1..16384
		},
	)
)

func init() {
	prometheus.MustRegister(messagesCreated, authLogins, subtreeSize)
}
