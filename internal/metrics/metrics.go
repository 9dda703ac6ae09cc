// Package metrics exposes Prometheus instrumentation for the decision
// pipeline and the bridge. Scraped via the status API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TicksIngested counts ticks accepted from the market feed.
var TicksIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "market",
		Name:      "ticks_ingested_total",
		Help:      "Ticks accepted from the market data feed",
	},
	[]string{"instrument"},
)

// CandidatesDetected counts raw pattern candidates per kind.
var CandidatesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "patterns",
		Name:      "candidates_total",
		Help:      "Raw pattern candidates emitted by the detector",
	},
	[]string{"instrument", "kind"},
)

// SignalsScored counts signals surviving the confluence floor.
var SignalsScored = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "confluence",
		Name:      "signals_scored_total",
		Help:      "Signals passing the confluence score floor",
	},
	[]string{"instrument"},
)

// ShieldAgreement observes consensus agreement per verdict.
var ShieldAgreement = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smcbot",
		Subsystem: "shield",
		Name:      "agreement_ratio",
		Help:      "Consensus agreement ratio per shield verdict",
		Buckets:   []float64{0.25, 0.5, 0.67, 0.75, 0.9, 1.0},
	},
	[]string{"instrument"},
)

// ShieldVerdicts counts verdicts per trust tier.
var ShieldVerdicts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "shield",
		Name:      "verdicts_total",
		Help:      "Shield verdicts by trust tier",
	},
	[]string{"tier"},
)

// ValidationRejections counts validator rejections by reason.
var ValidationRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Signals rejected by the execution safety validator",
	},
	[]string{"reason"},
)

// InstructionsIssued counts instructions handed to the bridge.
var InstructionsIssued = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "risk",
		Name:      "instructions_issued_total",
		Help:      "Trade instructions issued to the bridge",
	},
)

// ResultsReceived counts terminal results by status.
var ResultsReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "bridge",
		Name:      "results_total",
		Help:      "Instruction results received from the terminal",
	},
	[]string{"status"},
)

// HeartbeatAge tracks seconds since the last terminal Status.
var HeartbeatAge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "smcbot",
		Subsystem: "bridge",
		Name:      "heartbeat_age_seconds",
		Help:      "Seconds since the last Status heartbeat from the terminal",
	},
)

// PipelineLatency observes tick-to-instruction latency per stage.
var PipelineLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smcbot",
		Subsystem: "pipeline",
		Name:      "stage_latency_seconds",
		Help:      "Per-stage processing latency of the decision pipeline",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	},
	[]string{"stage"},
)
