package bridge

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide counters reported by /health and exported to Prometheus.
var (
	sessionsCreated   atomic.Uint64
	sessionsClosed    atomic.Uint64
	answersReturned   atomic.Uint64
	fallbacksReturned atomic.Uint64
	probeFailures     atomic.Uint64
	upstreamConnected atomic.Uint64
	packetsRelayed    atomic.Uint64 // written to an upstream track
	packetsDropped    atomic.Uint64 // writer queue full
	writeErrors       atomic.Uint64
)

var counterHelp = []struct {
	name string
	help string
	c    *atomic.Uint64
}{
	{"sessions_created", "Sessions opened.", &sessionsCreated},
	{"sessions_closed", "Sessions released.", &sessionsClosed},
	{"answers_returned", "CreateSession calls that returned a WebRTC answer.", &answersReturned},
	{"fallbacks_returned", "CreateSession calls that returned an RTMP fallback.", &fallbacksReturned},
	{"probe_failures", "Upstream probes where no ingest endpoint answered.", &probeFailures},
	{"upstream_connected", "Upstream connections that reached connected.", &upstreamConnected},
	{"packets_relayed", "RTP packets written to upstream tracks.", &packetsRelayed},
	{"packets_dropped", "RTP packets dropped on a full writer queue.", &packetsDropped},
	{"write_errors", "RTP packets the upstream track refused.", &writeErrors},
}

func init() {
	for _, m := range counterHelp {
		c := m.c
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "ingestbridge",
			Name:      m.name + "_total",
			Help:      m.help,
		}, func() float64 { return float64(c.Load()) })
	}
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "ingestbridge",
		Name:      "sessions_active",
		Help:      "Sessions currently open.",
	}, func() float64 { return float64(sessionsCreated.Load()) - float64(sessionsClosed.Load()) })
}

// ResetCounters resets all metrics to zero.
func ResetCounters() {
	for _, m := range counterHelp {
		m.c.Store(0)
	}
}

// Counters returns a snapshot of current metrics.
func Counters() map[string]uint64 {
	out := make(map[string]uint64, len(counterHelp))
	for _, m := range counterHelp {
		out[m.name] = m.c.Load()
	}
	return out
}

func incPacketsRelayed() { packetsRelayed.Add(1) }
func incPacketsDropped() { packetsDropped.Add(1) }
func incWriteErrors()    { writeErrors.Add(1) }
