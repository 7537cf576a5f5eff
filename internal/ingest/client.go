// Package ingest talks to the upstream media-ingest service: it probes the
// WebRTC ingest endpoints with an SDP offer and resolves the RTMP fallback
// target from stream metadata.
package ingest

import (
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

const userAgent = "ingest-bridge"

var tracer = otel.Tracer("ingestbridge/internal/ingest")

// newClient returns the resty client shared by the prober and the resolver.
// Timeouts are applied per request through the request context, so the client
// itself carries none. Retries are off: the prober moves to the next endpoint
// instead of retrying the same one.
func newClient(hc *http.Client) *resty.Client {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New()
	}
	return c.
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json, application/sdp")
}
