package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_sessions_created_total",
		Help: "Sessions fully provisioned (room, credentials, record, pipeline)",
	})

	metricSessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_sessions_ended_total",
		Help: "Sessions torn down, by outcome",
	}, []string{"outcome"})

	metricProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_provision_failures_total",
		Help: "createSession failures, by failed step",
	}, []string{"step"})

	metricCompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_compensation_failures_total",
		Help: "Compensating room deletes that failed",
	})

	metricTeardownFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_teardown_failures_total",
		Help: "Room deletes during endSession left for the stale sweep",
	})

	metricStaleSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_stale_sessions_swept_total",
		Help: "Sessions force-ended by the stale-session sweep",
	})
)
