package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	matchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewpipe",
			Subsystem: "engine",
			Name:      "match_duration_seconds",
			Help:      "Time to evaluate a single rule's trigger tree against one content object.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"matched"},
	)

	rulesMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewpipe",
			Subsystem: "engine",
			Name:      "rules_matched_total",
			Help:      "Count of rule evaluations, partitioned by whether the rule matched.",
		},
		[]string{"matched"},
	)
)

func init() {
	prometheus.MustRegister(matchDuration, rulesMatchedTotal)
}

func observeMatch(d time.Duration, matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	matchDuration.WithLabelValues(label).Observe(d.Seconds())
	rulesMatchedTotal.WithLabelValues(label).Inc()
}
