// Package bridge relays a browser's WebRTC publish session to an upstream
// ingest service. The browser leg is terminated locally, a second leg is
// originated toward the ingest API with the same tracks, and when no ingest
// endpoint accepts WebRTC the caller gets an RTMP target instead.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"ingestbridge/internal/config"
	"ingestbridge/internal/ingest"
)

var tracer = otel.Tracer("ingestbridge/internal/bridge")

// Prober finds an ingest endpoint that answers the upstream offer.
type Prober interface {
	Probe(ctx context.Context, streamID, offerSDP, credential string) (ingest.Answer, error)
}

// FallbackResolver supplies the RTMP target. Resolve never fails.
type FallbackResolver interface {
	Resolve(ctx context.Context, streamID, credential string) ingest.Fallback
	Default() ingest.Fallback
}

// Request carries CreateSession inputs. A zero NegotiationTimeout selects the
// configured default.
type Request struct {
	StreamID           string
	OfferSDP           string
	Credential         string
	NegotiationTimeout time.Duration
}

func (r Request) validate() error {
	switch {
	case r.StreamID == "":
		return ErrMissingStreamID
	case r.OfferSDP == "":
		return ErrMissingOffer
	case r.Credential == "":
		return ErrMissingCredential
	}
	return nil
}

type Bridge struct {
	cfg      config.Config
	api      *webrtc.API
	sessions *registry
	prober   Prober
	fallback FallbackResolver
	logger   *zap.SugaredLogger
}

func New(cfg config.Config, prober Prober, fallback FallbackResolver, logger *zap.SugaredLogger) (*Bridge, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:      cfg,
		api:      api,
		sessions: newRegistry(),
		prober:   prober,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Sessions is the number of live sessions.
func (b *Bridge) Sessions() int { return b.sessions.Len() }

// CreateSession runs the whole negotiation for one publisher. Only input
// validation is reported as an error; every other failure degrades to an RTMP
// fallback result and leaves no session behind.
func (b *Bridge) CreateSession(ctx context.Context, req Request) (res Result, err error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	timeout := req.NegotiationTimeout
	if timeout <= 0 {
		timeout = b.cfg.Timeouts.Negotiation
	}

	ctx, span := tracer.Start(ctx, "bridge.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.String("stream.id", req.StreamID))

	s, err := b.open(req.StreamID, timeout)
	if err != nil {
		b.logger.Errorw("Unable to open session", "stream", req.StreamID, "error", err)
		span.RecordError(err)
		return b.safeFallback(), nil
	}
	span.SetAttributes(attribute.String("session.id", s.id))

	keep := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Session negotiation panicked", "panic", r, "stack", string(debug.Stack()))
			res, err, keep = b.safeFallback(), nil, false
		}
		if !keep {
			b.CloseSession(s.id)
		}
	}()

	answerSDP, err := b.negotiateClient(ctx, s, req.OfferSDP)
	if err != nil {
		s.logger.Warnw("Client negotiation failed", "error", err)
		span.RecordError(err)
		return b.safeFallback(), nil
	}
	if !s.transition(stateClientNegotiated) {
		return b.safeFallback(), nil
	}

	s.relay.prepare(answerSDP)
	if !s.transition(stateAwaitingTrack) {
		return b.safeFallback(), nil
	}
	switch outcome := await(ctx, s.relay.firstTrack(), b.cfg.Timeouts.FirstTrack, s.done); outcome {
	case waitTimedOut:
		s.logger.Warnw("No client media track", "after", b.cfg.Timeouts.FirstTrack)
		return b.safeFallback(), nil
	case waitCancelled:
		s.logger.Infow("Session abandoned while awaiting track")
		return b.safeFallback(), nil
	}

	if !s.transition(stateUpstreamNegotiating) {
		return b.safeFallback(), nil
	}
	offerSDP, err := b.negotiateUpstream(ctx, s)
	if err != nil {
		s.logger.Warnw("Upstream negotiation failed", "error", err)
		span.RecordError(err)
		return b.safeFallback(), nil
	}

	probeCtx, cancel := s.bound(ctx, timeout)
	answer, perr := b.prober.Probe(probeCtx, req.StreamID, offerSDP, req.Credential)
	cancel()
	if s.isClosed() {
		s.logger.Infow("Session closed during upstream probe")
		return b.safeFallback(), nil
	}
	if perr != nil {
		probeFailures.Add(1)
		s.logger.Warnw("WebRTC ingest unavailable, resolving RTMP fallback", "error", perr)
		s.transition(stateFallbackReturned)
		b.CloseSession(s.id)
		fb := b.fallback.Resolve(ctx, req.StreamID, req.Credential)
		fallbacksReturned.Add(1)
		span.SetAttributes(attribute.Bool("webrtc.unavailable", true))
		return unavailable(fb), nil
	}

	if err := applyUpstreamAnswer(s, answer.SDP); err != nil {
		s.logger.Warnw("Ingest answer rejected", "url", answer.URL, "error", err)
		span.RecordError(err)
		return b.safeFallback(), nil
	}
	if !s.transition(stateConnected) {
		return b.safeFallback(), nil
	}

	keep = true
	answersReturned.Add(1)
	s.logger.Infow("Session negotiated", "ingest", answer.URL, "attempts", answer.Attempts, "took", time.Since(s.createdAt))
	return Result{SessionID: s.id, AnswerSDP: answerSDP}, nil
}

// open allocates the client leg, registers the session and arms its first
// cleanup timer.
func (b *Bridge) open(streamID string, timeout time.Duration) (*session, error) {
	pc, err := b.api.NewPeerConnection(peerConfiguration(b.cfg.ICE))
	if err != nil {
		return nil, fmt.Errorf("create client connection: %w", err)
	}

	s := newSession(uuid.New().String(), streamID, pc, b.logger)
	pc.OnTrack(s.relay.onRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.onClientState(s, state)
	})

	if !b.sessions.Put(s) {
		_ = pc.Close()
		return nil, fmt.Errorf("session id %s already registered", s.id)
	}
	b.armCleanup(s, timeout+b.cfg.Timeouts.CleanupGrace)
	sessionsCreated.Add(1)
	s.logger.Infow("Session created")
	return s, nil
}

func (b *Bridge) armCleanup(s *session, d time.Duration) {
	id := s.id
	s.arm(d, func() { b.CloseSession(id) })
}

func (b *Bridge) onClientState(s *session, state webrtc.PeerConnectionState) {
	if s.isClosed() {
		return
	}
	s.logger.Infow("Client connection state", "state", state)
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		b.CloseSession(s.id)
	}
}

func (b *Bridge) onUpstreamState(s *session, state webrtc.PeerConnectionState) {
	if s.isClosed() {
		return
	}
	s.logger.Infow("Upstream connection state", "state", state)
	switch state {
	case webrtc.PeerConnectionStateConnected:
		upstreamConnected.Add(1)
		b.armCleanup(s, b.cfg.Timeouts.ConnectedLifetime)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		b.CloseSession(s.id)
	}
}

// AddCandidate applies a trickled client candidate. Only the client leg
// accepts candidates; the upstream leg is negotiated entirely by the bridge.
func (b *Bridge) AddCandidate(sessionID string, raw []byte) error {
	s := b.sessions.Get(sessionID)
	if s == nil || s.isClosed() {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	init, err := ParseCandidate(raw)
	if err != nil {
		return err
	}
	if init == nil {
		s.logger.Debugw("End of client candidates")
		return nil
	}
	if err := s.client.AddICECandidate(*init); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	return nil
}

// CloseSession releases a session. It is safe to call repeatedly, concurrently
// and with unknown ids.
func (b *Bridge) CloseSession(sessionID string) {
	s := b.sessions.Get(sessionID)
	if s == nil {
		return
	}
	client, upstream, ok := s.markClosed()
	if !ok {
		return
	}
	s.relay.stop()
	if upstream != nil {
		if err := upstream.Close(); err != nil {
			s.logger.Warnw("Closing upstream connection", "error", err)
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Warnw("Closing client connection", "error", err)
		}
	}
	b.sessions.Delete(sessionID)
	sessionsClosed.Add(1)
	s.logger.Infow("Session closed", "lived", time.Since(s.createdAt))
}

// Close releases every live session.
func (b *Bridge) Close() {
	for _, id := range b.sessions.IDs() {
		b.CloseSession(id)
	}
}

func (b *Bridge) safeFallback() Result {
	fallbacksReturned.Add(1)
	return unavailable(b.fallback.Default())
}
