package bridge

import (
	"encoding/json"

	"ingestbridge/internal/ingest"
)

// Result is the outcome of CreateSession: either a WebRTC answer for the
// client, or an RTMP fallback target when WebRTC ingest is unavailable.
type Result struct {
	SessionID string
	AnswerSDP string

	WebRTCUnavailable bool
	RTMPIngestURL     string
	StreamKey         *string
}

func unavailable(fb ingest.Fallback) Result {
	return Result{WebRTCUnavailable: true, RTMPIngestURL: fb.RTMPIngestURL, StreamKey: fb.StreamKey}
}

// MarshalJSON emits only the fields of the shape in use.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.WebRTCUnavailable {
		return json.Marshal(struct {
			WebRTCUnavailable bool    `json:"webrtcUnavailable"`
			RTMPIngestURL     string  `json:"rtmpIngestUrl"`
			StreamKey         *string `json:"streamKey"`
		}{true, r.RTMPIngestURL, r.StreamKey})
	}
	return json.Marshal(struct {
		SessionID string `json:"sessionId"`
		AnswerSDP string `json:"answerSdp"`
	}{r.SessionID, r.AnswerSDP})
}
