package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// negotiateClient answers the browser offer and waits, bounded, for ICE
// gathering. The returned SDP is whatever local description exists when the
// wait ends, complete or not.
func (b *Bridge) negotiateClient(ctx context.Context, s *session, offer string) (string, error) {
	pc := s.client
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set client offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create client answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set client answer: %w", err)
	}
	return b.localDescriptionAfterGathering(ctx, s, pc, gathered, "client")
}

// negotiateUpstream creates the upstream connection from the relay tracks and
// returns its offer after a bounded gathering wait.
func (b *Bridge) negotiateUpstream(ctx context.Context, s *session) (string, error) {
	pc, err := b.api.NewPeerConnection(peerConfiguration(b.cfg.ICE))
	if err != nil {
		return "", fmt.Errorf("create upstream connection: %w", err)
	}
	if !s.setUpstream(pc) {
		_ = pc.Close()
		return "", errSessionClosed
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.onUpstreamState(s, state)
	})

	if s.relay.bindUpstream(pc) == 0 {
		return "", errNoRelayTracks
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create upstream offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set upstream offer: %w", err)
	}
	return b.localDescriptionAfterGathering(ctx, s, pc, gathered, "upstream")
}

// applyUpstreamAnswer sets the ingest answer as the upstream remote description.
func applyUpstreamAnswer(s *session, answer string) error {
	pc := s.upstreamConn()
	if pc == nil {
		return errors.New("no upstream connection")
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set upstream answer: %w", err)
	}
	return nil
}

func (b *Bridge) localDescriptionAfterGathering(ctx context.Context, s *session, pc *webrtc.PeerConnection, gathered <-chan struct{}, leg string) (string, error) {
	switch outcome := await(ctx, gathered, b.cfg.Timeouts.ICEGather, s.done); outcome {
	case waitCancelled:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", errSessionClosed
	case waitTimedOut:
		s.logger.Warnw("ICE gathering incomplete, using partial description", "leg", leg, "after", b.cfg.Timeouts.ICEGather)
	}
	desc := pc.LocalDescription()
	if desc == nil {
		return "", fmt.Errorf("%s leg has no local description", leg)
	}
	return desc.SDP, nil
}
