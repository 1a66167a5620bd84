package events

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events handed to downstream sinks, by type and outcome",
	}, []string{"type", "outcome"})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the dispatch queue was full or closed",
	}, []string{"type"})
)

// Collectors exposes the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{publishedTotal, droppedTotal}
}
