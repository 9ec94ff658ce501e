package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fogmask_engine_replays_total",
		Help: "Number of replays, by whether the surface was rewound.",
	}, []string{"mode"})

	replayedOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fogmask_engine_replayed_operations_total",
		Help: "Operations painted by replays.",
	})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fogmask_engine_commits_total",
		Help: "Commit attempts by result.",
	}, []string{"result"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fogmask_engine_commit_duration_seconds",
		Help:    "Time spent persisting a batch.",
		Buckets: prometheus.DefBuckets,
	})

	undosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fogmask_engine_undos_total",
		Help: "Undo requests persisted.",
	})
)
