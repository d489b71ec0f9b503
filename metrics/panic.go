package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mboxarchive_panic_total",
		Help: "Number of unhandled panics while converting a message, by package.",
	},
	[]string{
		"pkg",
	},
)

// Panic is the package a panic was recovered in.
type Panic string

const (
	Convert    Panic = "convert"
	Relational Panic = "relational"
	Eaxs       Panic = "eaxs"
)

func init() {
	// Initialize, for a zero value in the metrics output.
	for _, p := range []Panic{Convert, Relational, Eaxs} {
		metricPanic.WithLabelValues(string(p)).Add(0)
	}
}

// PanicInc counts a recovered panic.
func PanicInc(p Panic) {
	metricPanic.WithLabelValues(string(p)).Inc()
}
