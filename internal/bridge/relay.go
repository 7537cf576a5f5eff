package bridge

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// relayTrack is the upstream-facing copy of one client media section. It is
// bound to at most one remote track.
type relayTrack struct {
	mid        string
	kind       webrtc.RTPCodecType
	local      *webrtc.TrackLocalStaticRTP
	bound      atomic.Bool
	remoteSSRC atomic.Uint32
}

// relay passes client media through to the upstream leg without touching
// payloads. Tracks are attached as soon as the client answer fixes the media
// sections and codecs; RTP starts flowing once pion reports the remote track.
type relay struct {
	streamID string
	client   *webrtc.PeerConnection
	done     <-chan struct{}
	logger   *zap.SugaredLogger

	first     chan struct{}
	firstOnce sync.Once

	mu     sync.Mutex
	tracks []*relayTrack
	byMid  map[string]*relayTrack
	stops  []func()
}

func newRelay(streamID string, client *webrtc.PeerConnection, done <-chan struct{}, logger *zap.SugaredLogger) *relay {
	return &relay{
		streamID: streamID,
		client:   client,
		done:     done,
		logger:   logger,
		first:    make(chan struct{}),
		byMid:    map[string]*relayTrack{},
	}
}

// firstTrack is closed on the first successful attach.
func (r *relay) firstTrack() <-chan struct{} { return r.first }

func (r *relay) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// prepare creates one relay track per media section the bridge receives on in
// the negotiated client answer. Sections that fail are logged and skipped.
func (r *relay) prepare(answerSDP string) int {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(answerSDP)); err != nil {
		r.logger.Warnw("Unable to parse client answer", "error", err)
		return 0
	}

	n := 0
	for i, md := range desc.MediaDescriptions {
		kind := webrtc.NewRTPCodecType(md.MediaName.Media)
		if kind == 0 || !receives(md) {
			continue
		}
		mid, ok := md.Attribute("mid")
		if !ok {
			mid = strconv.Itoa(i)
		}
		codec, err := primaryCodec(md)
		if err != nil {
			r.logger.Warnw("Skipping media section", "mid", mid, "error", err)
			continue
		}
		local, err := webrtc.NewTrackLocalStaticRTP(codec, fmt.Sprintf("%s-%s", kind, mid), r.streamID)
		if err != nil {
			r.logger.Warnw("Unable to create relay track", "mid", mid, "error", err)
			continue
		}
		if r.attach(&relayTrack{mid: mid, kind: kind, local: local}) {
			n++
		}
	}
	return n
}

// attach registers rt and resolves the first-track signal once.
func (r *relay) attach(rt *relayTrack) bool {
	if r.closed() {
		return false
	}
	r.mu.Lock()
	if _, dup := r.byMid[rt.mid]; dup {
		r.mu.Unlock()
		r.logger.Warnw("Duplicate media section ignored", "mid", rt.mid)
		return false
	}
	r.byMid[rt.mid] = rt
	r.tracks = append(r.tracks, rt)
	r.mu.Unlock()

	r.logger.Infow("Relay track attached", "mid", rt.mid, "kind", rt.kind, "codec", rt.local.Codec().MimeType)
	r.firstOnce.Do(func() { close(r.first) })
	return true
}

func (r *relay) snapshot() []*relayTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*relayTrack(nil), r.tracks...)
}

func (r *relay) lookup(mid string) *relayTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byMid[mid]
}

// bindUpstream adds every attached track to pc as a send-only transceiver and
// returns how many succeeded.
func (r *relay) bindUpstream(pc *webrtc.PeerConnection) int {
	n := 0
	for _, rt := range r.snapshot() {
		tr, err := pc.AddTransceiverFromTrack(rt.local, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			r.logger.Warnw("Unable to add relay track upstream", "mid", rt.mid, "error", err)
			continue
		}
		go r.readRTCP(tr.Sender(), rt)
		n++
	}
	return n
}

// onRemoteTrack starts the 1:1 forward for a client track.
func (r *relay) onRemoteTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if r.closed() {
		return
	}
	mid := r.midFor(receiver)
	rt := r.lookup(mid)
	if rt == nil {
		r.logger.Warnw("Client track has no relay slot", "mid", mid, "kind", remote.Kind())
		return
	}
	if !rt.bound.CompareAndSwap(false, true) {
		r.logger.Warnw("Client track already relayed", "mid", mid, "ssrc", remote.SSRC())
		return
	}
	if got, want := remote.Codec().MimeType, rt.local.Codec().MimeType; !strings.EqualFold(got, want) {
		r.logger.Warnw("Client codec differs from negotiated relay codec", "mid", mid, "got", got, "want", want)
	}
	rt.remoteSSRC.Store(uint32(remote.SSRC()))
	r.logger.Infow("Relaying client track", "mid", mid, "kind", remote.Kind(), "codec", remote.Codec().MimeType)

	enqueue, stop := newRTPWriter(rt.local)
	r.mu.Lock()
	r.stops = append(r.stops, stop)
	r.mu.Unlock()
	go r.forward(remote, enqueue, stop)
}

func (r *relay) forward(remote *webrtc.TrackRemote, enqueue func(*rtp.Packet) bool, stop func()) {
	defer stop()
	for {
		if r.closed() {
			return
		}
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debugw("Client RTP read ended", "error", err)
			}
			return
		}
		enqueue(pkt)
	}
}

func (r *relay) midFor(receiver *webrtc.RTPReceiver) string {
	if r.client == nil {
		return ""
	}
	for _, t := range r.client.GetTransceivers() {
		if t.Receiver() == receiver {
			return t.Mid()
		}
	}
	return ""
}

// readRTCP drains upstream feedback and turns keyframe requests into PLIs on
// the client leg.
func (r *relay) readRTCP(sender *webrtc.RTPSender, rt *relayTrack) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				r.requestKeyframe(rt)
			}
		}
	}
}

func (r *relay) requestKeyframe(rt *relayTrack) {
	ssrc := rt.remoteSSRC.Load()
	if ssrc == 0 || rt.kind != webrtc.RTPCodecTypeVideo || r.closed() || r.client == nil {
		return
	}
	if err := r.client.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		r.logger.Debugw("PLI to client failed", "error", err)
	}
}

// stop ends every writer goroutine.
func (r *relay) stop() {
	r.mu.Lock()
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()
	for _, s := range stops {
		s()
	}
}

// receives reports whether the answer section lets the bridge receive media.
func receives(md *sdp.MediaDescription) bool {
	if md.MediaName.Port.Value == 0 {
		return false
	}
	for _, dir := range []string{"inactive", "sendonly"} {
		if _, ok := md.Attribute(dir); ok {
			return false
		}
	}
	return true
}

// primaryCodec reads the first payload format of md into a codec capability.
func primaryCodec(md *sdp.MediaDescription) (webrtc.RTPCodecCapability, error) {
	if len(md.MediaName.Formats) == 0 {
		return webrtc.RTPCodecCapability{}, errors.New("no payload formats")
	}
	pt := md.MediaName.Formats[0]

	var rtpmap, fmtp string
	for _, a := range md.Attributes {
		switch {
		case a.Key == "rtpmap" && strings.HasPrefix(a.Value, pt+" "):
			rtpmap = strings.TrimPrefix(a.Value, pt+" ")
		case a.Key == "fmtp" && strings.HasPrefix(a.Value, pt+" "):
			fmtp = strings.TrimPrefix(a.Value, pt+" ")
		}
	}
	if rtpmap == "" {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("no rtpmap for payload type %s", pt)
	}

	parts := strings.Split(rtpmap, "/")
	if len(parts) < 2 {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("malformed rtpmap %q", rtpmap)
	}
	clock, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("malformed clock rate in %q", rtpmap)
	}
	c := webrtc.RTPCodecCapability{
		MimeType:    md.MediaName.Media + "/" + parts[0],
		ClockRate:   uint32(clock),
		SDPFmtpLine: fmtp,
	}
	if len(parts) > 2 {
		if ch, err := strconv.ParseUint(parts[2], 10, 16); err == nil {
			c.Channels = uint16(ch)
		}
	}
	return c, nil
}
