package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPipelinesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_running",
		Help: "Pipelines currently in the Running or Draining state",
	})

	metricTranscripts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_final_transcripts_total",
		Help: "Final transcripts forwarded to the responder stage",
	})

	metricStageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_retries_total",
		Help: "Transient stage errors retried without leaving Running",
	}, []string{"stage"})

	metricPipelineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_failures_total",
		Help: "Unrecoverable stage errors that forced a drain",
	})

	metricDrainTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_drain_timeouts_total",
		Help: "Drains that hit the timeout and forced termination",
	})

	metricBargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_barge_ins_total",
		Help: "User utterances that interrupted bot playback",
	})
)
