// Package metrics has prometheus metric variables/functions for conversions.
//
// The conversion commands are short-lived, so metrics are not served over
// HTTP, but written to a file at the end of a run, e.g. for the textfile
// collector of the node exporter.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mboxarchive_messages_total",
			Help: "Messages read from mbox files, by result.",
		},
		[]string{
			"result", // stored, duplicate, noid, error
		},
	)
	metricParts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxarchive_parts_total",
			Help: "MIME parts of converted messages, including multipart containers and child messages.",
		},
	)
	metricContent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mboxarchive_content_total",
			Help: "Content stored for parts.",
		},
		[]string{
			"location", // internal, external, wrapped
			"dedup",    // new, existing
		},
	)
	metricXMLChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxarchive_xml_chunks_total",
			Help: "XML output files started.",
		},
	)
	metricWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxarchive_warnings_total",
			Help: "Warnings about defects in messages.",
		},
	)
	metricMessageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mboxarchive_message_size_bytes",
			Help:    "Size of messages read from mbox files.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1k to 256m
		},
	)
)

// MessageInc counts a message read from an mbox file, with result one of
// stored, duplicate, noid or error.
func MessageInc(result string) {
	metricMessages.WithLabelValues(result).Inc()
}

// MessageSize observes the size of a message read from an mbox file.
func MessageSize(size int) {
	metricMessageSize.Observe(float64(size))
}

func PartsAdd(n int) {
	metricParts.Add(float64(n))
}

// ContentInc counts stored content, at location internal, external or
// wrapped, either newly stored or deduplicated against existing content.
func ContentInc(location string, existing bool) {
	dedup := "new"
	if existing {
		dedup = "existing"
	}
	metricContent.WithLabelValues(location, dedup).Inc()
}

func XMLChunkInc() {
	metricXMLChunks.Inc()
}

func WarningInc() {
	metricWarnings.Inc()
}

// WriteFile writes all registered metrics to path in the prometheus text
// format. The file is written to a temporary file and renamed.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
