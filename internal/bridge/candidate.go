package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
)

// ParseCandidate decodes a trickled candidate as signalling layers send it:
// a JSON object ({"candidate": "...", "sdpMid": ...}), an object wrapping one
// ({"candidate": {...}}), a JSON string holding either a candidate line or a
// serialized object, or a bare "candidate:" / "a=candidate:" line.
//
// Empty input, JSON null and an empty candidate string mean end-of-candidates
// and yield (nil, nil).
func ParseCandidate(raw []byte) (*webrtc.ICECandidateInit, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
		}
		return ParseCandidate([]byte(s))

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
		}
		if inner, ok := fields["candidate"]; ok && bytes.HasPrefix(bytes.TrimSpace(inner), []byte("{")) {
			return ParseCandidate(inner)
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
		}
		init.Candidate = strings.TrimSpace(init.Candidate)
		if init.Candidate == "" {
			return nil, nil
		}
		return &init, nil
	}

	line := strings.TrimPrefix(string(raw), "a=")
	if !strings.HasPrefix(line, "candidate:") {
		return nil, fmt.Errorf("%w: unrecognised payload", ErrInvalidCandidate)
	}
	return &webrtc.ICECandidateInit{Candidate: line}, nil
}
