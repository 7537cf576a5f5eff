package bridge

import (
	"sync"

	"github.com/pion/rtp"
)

const rtpQueueSize = 256

// rtpSink is anything that accepts relayed packets, e.g. *webrtc.TrackLocalStaticRTP.
type rtpSink interface {
	WriteRTP(*rtp.Packet) error
}

// newRTPWriter starts a writer goroutine draining a small queue into sink so
// the read loop on the client leg never blocks on upstream backpressure.
// enqueue is non-blocking and reports false when the packet was dropped.
// stop is idempotent.
func newRTPWriter(sink rtpSink) (enqueue func(*rtp.Packet) bool, stop func()) {
	ch := make(chan *rtp.Packet, rtpQueueSize)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case p := <-ch:
				if err := sink.WriteRTP(p); err != nil {
					incWriteErrors()
					continue
				}
				incPacketsRelayed()
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func(p *rtp.Packet) bool {
			select {
			case <-quit:
				return false
			default:
			}
			select {
			case ch <- p:
				return true
			default:
				incPacketsDropped()
				return false
			}
		}, func() {
			once.Do(func() { close(quit) })
		}
}
