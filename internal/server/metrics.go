package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// updateDuration measures posterior updates.
	// Labels: solver (the solver that produced the result)
	updateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "laplace",
		Subsystem: "inference",
		Name:      "update_duration_seconds",
		Help:      "Time spent updating the posterior mode",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"solver"})

	// updatesTotal counts posterior updates.
	// Labels: solver, status (termination of the first solver)
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "laplace",
		Subsystem: "inference",
		Name:      "updates_total",
		Help:      "Total posterior updates",
	}, []string{"solver", "status"})

	// updateIterations tracks the iterations of the final solver.
	updateIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "laplace",
		Subsystem: "inference",
		Name:      "update_iterations",
		Help:      "Iterations of the solver that produced the posterior mode",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
	})

	// fallbacksTotal counts L-BFGS failures handed over to Newton.
	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "laplace",
		Subsystem: "inference",
		Name:      "fallbacks_total",
		Help:      "Total L-BFGS failures resolved by the Newton solver",
	})

	// warmStartsTotal counts updates that started from the previous alpha.
	warmStartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "laplace",
		Subsystem: "inference",
		Name:      "warm_starts_total",
		Help:      "Total updates started from the previous dual variable",
	})

	// errorsTotal counts failed requests.
	// Labels: kind (invalid, not_found, conflict, unprocessable, internal)
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "laplace",
		Subsystem: "api",
		Name:      "errors_total",
		Help:      "Total failed inference requests by error kind",
	}, []string{"kind"})

	// sessionsActive is the number of cached sessions.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "laplace",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of inference sessions held in the cache",
	})

	// sessionsRemoved counts sessions leaving the cache.
	// Labels: reason (evicted, deleted)
	sessionsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "laplace",
		Subsystem: "sessions",
		Name:      "removed_total",
		Help:      "Total sessions removed from the cache",
	}, []string{"reason"})
)
