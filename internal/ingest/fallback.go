package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"ingestbridge/internal/config"
)

// Fallback is the RTMP target handed back when WebRTC ingest is unavailable.
// StreamKey is nil when the metadata service could not supply one.
type Fallback struct {
	RTMPIngestURL string
	StreamKey     *string
}

// Resolver looks up RTMP ingest details from the stream metadata API.
type Resolver struct {
	client  *resty.Client
	ingest  config.IngestConfig
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewResolver builds a resolver. hc may be nil.
func NewResolver(cfg config.IngestConfig, timeout time.Duration, hc *http.Client, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{
		client:  newClient(hc),
		ingest:  cfg,
		timeout: timeout,
		logger:  logger,
	}
}

// Default is the fallback used when nothing better is known.
func (r *Resolver) Default() Fallback {
	return Fallback{RTMPIngestURL: r.ingest.DefaultRTMPURL}
}

type streamMetadata struct {
	RTMPIngestURL string `json:"rtmpIngestUrl"`
	StreamKey     string `json:"streamKey"`
}

// Resolve never fails. Missing fields fall back individually: no URL gives
// the default URL, no key gives a nil key.
func (r *Resolver) Resolve(ctx context.Context, streamID, credential string) Fallback {
	ctx, span := tracer.Start(ctx, "ingest.ResolveFallback")
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := r.Default()
	url := r.ingest.MetadataURL(streamID)
	span.SetAttributes(attribute.String("ingest.metadata_url", url))

	var meta streamMetadata
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetResult(&meta).
		Get(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		r.logger.Warnw("Stream metadata lookup failed", "stream", streamID, "error", err)
		return out
	}
	if !resp.IsSuccess() {
		span.SetStatus(codes.Error, resp.Status())
		r.logger.Warnw("Stream metadata lookup rejected", "stream", streamID, "status", resp.StatusCode())
		return out
	}

	if meta.RTMPIngestURL != "" {
		out.RTMPIngestURL = meta.RTMPIngestURL
	}
	if meta.StreamKey != "" {
		key := meta.StreamKey
		out.StreamKey = &key
	}
	return out
}
