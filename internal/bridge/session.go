package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type state int

const (
	stateCreated state = iota
	stateClientNegotiated
	stateAwaitingTrack
	stateUpstreamNegotiating
	stateConnected
	stateFallbackReturned
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateClientNegotiated:
		return "client-negotiated"
	case stateAwaitingTrack:
		return "awaiting-track"
	case stateUpstreamNegotiating:
		return "upstream-negotiating"
	case stateConnected:
		return "connected"
	case stateFallbackReturned:
		return "fallback-returned"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// session owns both legs of one relay. Every mutation goes through a method
// that checks closed under mu, so callbacks firing after close are no-ops.
type session struct {
	id        string
	streamID  string
	createdAt time.Time
	logger    *zap.SugaredLogger

	client *webrtc.PeerConnection
	relay  *relay

	// done is closed exactly once, when the session closes.
	done chan struct{}

	mu       sync.Mutex
	state    state
	closed   bool
	upstream *webrtc.PeerConnection
	timer    *time.Timer
	timerGen uint64
}

func newSession(id, streamID string, client *webrtc.PeerConnection, logger *zap.SugaredLogger) *session {
	s := &session{
		id:        id,
		streamID:  streamID,
		createdAt: time.Now(),
		logger:    logger.With("session", id, "stream", streamID),
		client:    client,
		done:      make(chan struct{}),
	}
	s.relay = newRelay(streamID, client, s.done, s.logger)
	return s
}

// transition moves to next unless the session is closed.
func (s *session) transition(next state) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.logger.Debugw("Session state", "from", s.state, "to", next)
	s.state = next
	return true
}

func (s *session) current() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// arm replaces the cleanup timer. The previous timer is stopped first, and a
// generation check keeps a timer that already fired from acting after rearm.
func (s *session) arm(d time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		live := !s.closed && s.timerGen == gen
		s.mu.Unlock()
		if live {
			s.logger.Infow("Cleanup timer expired", "after", d)
			expire()
		}
	})
}

// setUpstream records the upstream connection. It fails if the session closed
// in the meantime; the caller then owns pc and must close it.
func (s *session) setUpstream(pc *webrtc.PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.upstream = pc
	return true
}

func (s *session) upstreamConn() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// markClosed performs the one-way closed transition and cancels the timer. It
// returns the connections to release, and ok=false if already closed.
func (s *session) markClosed() (client, upstream *webrtc.PeerConnection, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, false
	}
	s.closed = true
	s.state = stateClosed
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	close(s.done)
	return s.client, s.upstream, true
}

// bound derives a context that ends after d, when parent ends, or when the
// session closes, whichever comes first.
func (s *session) bound(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
