package ingest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"ingestbridge/internal/config"
)

// ErrNoAnswer is returned by Probe when every candidate endpoint declined.
var ErrNoAnswer = errors.New("ingest: no endpoint returned an answer")

// Answer is the first usable ingest answer.
type Answer struct {
	SDP      string
	URL      string
	Attempts int
}

// Prober posts an upstream offer to the configured ingest endpoints, in order,
// until one of them answers.
type Prober struct {
	client         *resty.Client
	ingest         config.IngestConfig
	attemptTimeout time.Duration
	logger         *zap.SugaredLogger
}

// NewProber builds a prober. hc may be nil.
func NewProber(cfg config.IngestConfig, attemptTimeout time.Duration, hc *http.Client, logger *zap.SugaredLogger) *Prober {
	return &Prober{
		client:         newClient(hc),
		ingest:         cfg,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

type offerBody struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type answerBody struct {
	SDP string `json:"sdp"`
}

// Probe tries each endpoint sequentially. A non-2xx status, a transport error,
// or a body without an SDP is a decline and the next endpoint is tried. ctx is
// the overall ceiling; each attempt is further bounded by the attempt timeout.
func (p *Prober) Probe(ctx context.Context, streamID, offerSDP, credential string) (Answer, error) {
	urls := p.ingest.EndpointURLs(streamID)
	attempts := 0
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return Answer{}, fmt.Errorf("%w: stopped after %d attempts: %v", ErrNoAnswer, attempts, err)
		}
		attempts++
		answer, err := p.attempt(ctx, u, offerSDP, credential)
		if err != nil {
			p.logger.Infow("Ingest endpoint declined", "stream", streamID, "url", u, "attempt", attempts, "reason", err)
			continue
		}
		p.logger.Infow("Ingest endpoint answered", "stream", streamID, "url", u, "attempt", attempts)
		return Answer{SDP: answer, URL: u, Attempts: attempts}, nil
	}
	return Answer{}, fmt.Errorf("%w: %d attempts", ErrNoAnswer, attempts)
}

func (p *Prober) attempt(ctx context.Context, url, offerSDP, credential string) (string, error) {
	ctx, span := tracer.Start(ctx, "ingest.ProbeAttempt")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.url", url))

	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}

	var body answerBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetHeader("Content-Type", "application/json").
		SetBody(offerBody{SDP: offerSDP, Type: "offer"}).
		SetResult(&body).
		Post(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if !resp.IsSuccess() {
		span.SetStatus(codes.Error, resp.Status())
		return "", fmt.Errorf("status %d", resp.StatusCode())
	}

	sdp := body.SDP
	if sdp == "" && isSDPContent(resp.Header().Get("Content-Type")) {
		sdp = string(resp.Body())
	}
	if strings.TrimSpace(sdp) == "" {
		span.SetStatus(codes.Error, "no sdp")
		return "", errors.New("response has no sdp")
	}
	return sdp, nil
}

func isSDPContent(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/sdp"
}
