package ingest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResolve_FromMetadata(t *testing.T) {
	s := newStub(t)
	s.handle("/stream/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"rtmpIngestUrl": "rtmp://ingest.example/live",
			"streamKey":     "abcd-efgh",
		})
	})

	r := NewResolver(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	fb := r.Resolve(context.Background(), "s1", "key123")

	assert.Equal(t, "rtmp://ingest.example/live", fb.RTMPIngestURL)
	require.NotNil(t, fb.StreamKey)
	assert.Equal(t, "abcd-efgh", *fb.StreamKey)

	hits := s.recorded()
	require.Len(t, hits, 1)
	assert.Equal(t, http.MethodGet, hits[0].Method)
	assert.Equal(t, "Bearer key123", hits[0].Auth)
}

func TestResolve_PartialMetadata(t *testing.T) {
	s := newStub(t)
	s.handle("/stream/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"streamKey": "only-key"})
	})

	r := NewResolver(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	fb := r.Resolve(context.Background(), "s1", "key")

	assert.Equal(t, "rtmp://default.example/live", fb.RTMPIngestURL)
	require.NotNil(t, fb.StreamKey)
	assert.Equal(t, "only-key", *fb.StreamKey)
}

func TestResolve_NeverFails(t *testing.T) {
	s := newStub(t)
	s.handle("/stream/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	})

	r := NewResolver(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())

	for _, id := range []string{"missing", "broken"} {
		fb := r.Resolve(context.Background(), id, "key")
		assert.Equal(t, "rtmp://default.example/live", fb.RTMPIngestURL, id)
		assert.Nil(t, fb.StreamKey, id)
	}

	down := NewResolver(fiveEndpoints("http://127.0.0.1:1"), 200*time.Millisecond, nil, zaptest.NewLogger(t).Sugar())
	fb := down.Resolve(context.Background(), "s1", "key")
	assert.Equal(t, "rtmp://default.example/live", fb.RTMPIngestURL)
	assert.Nil(t, fb.StreamKey)
}
