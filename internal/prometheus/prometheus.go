// Package prometheus records build metrics. A build is a short lived
// process, so instead of being scraped the metrics are written to a file
// for the node exporter textfile collector.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "livecd_creator"

// WriteTextfile writes every registered metric to path in the text
// exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
