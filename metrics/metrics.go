// Package metrics is the process-wide counter/histogram surface for this
// module, exported Prometheus-style via VictoriaMetrics/metrics. It is
// the loader-level altitude: "how many entries has this process ingested
// across every Loader" - as opposed to the buffer package's per-buffer
// go-metrics histogram, which answers "how slow is submit->response for
// this one destination node".
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	entriesIngested  = metrics.NewCounter("griddata_loader_entries_ingested_total")
	batchesSubmitted = metrics.NewCounter("griddata_loader_batches_submitted_total")
	remapsTotal      = metrics.NewCounter("griddata_loader_remaps_total")
	nodeLeftTotal    = metrics.NewCounter("griddata_loader_node_left_total")
	permitWaitMillis = metrics.NewHistogram("griddata_loader_permit_wait_milliseconds")
)

// EntriesIngested records n entries accepted by AddData across every
// Loader in this process.
func EntriesIngested(n int) {
	entriesIngested.Add(n)
}

// BatchSubmitted records one Buffer.submit call, local or remote.
func BatchSubmitted() {
	batchesSubmitted.Inc()
}

// Remap records one load0 recursive re-entry.
func Remap() {
	remapsTotal.Inc()
}

// NodeLeft records one OnNodeLeft dispatch.
func NodeLeft() {
	nodeLeftTotal.Inc()
}

// PermitWaitMillis records how long a Buffer.submit call blocked
// acquiring its permit.
func PermitWaitMillis(ms float64) {
	permitWaitMillis.Update(ms)
}

// WritePrometheus writes every registered metric in Prometheus exposition
// format to w, for wiring into an HTTP /metrics handler.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
