// Package metrics exposes Prometheus counters for the auth subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logins counts login attempts by result ("ok", "invalid_credentials", "error").
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	// Refreshes counts refresh rotations by result ("ok", "grace_replay",
	// "reuse_detected", "expired", "invalid", "terminated").
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "refresh_rotations_total",
		Help:      "Refresh token rotations by result.",
	}, []string{"result"})

	// Supersessions counts sessions invalidated by a newer login.
	Supersessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "sessions_superseded_total",
		Help:      "Sessions invalidated by a newer login for the same user.",
	})

	// ReuseDetections counts refresh-token replay incidents that forced a
	// full family revocation.
	ReuseDetections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "token_reuse_detections_total",
		Help:      "Refresh token replays outside the grace window.",
	})
)
