package ingest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ingestbridge/internal/config"
)

func fiveEndpoints(base string) config.IngestConfig {
	return config.IngestConfig{
		BaseURL: base,
		Endpoints: []string{
			"{base}/e1/{streamId}",
			"{base}/e2/{streamId}",
			"{base}/e3/{streamId}",
			"{base}/e4/{streamId}",
			"{base}/e5/{streamId}",
		},
		MetadataEndpoint: "{base}/stream/{streamId}",
		DefaultRTMPURL:   "rtmp://default.example/live",
	}
}

func TestProbe_FirstEndpointShortCircuits(t *testing.T) {
	s := newStub(t)
	s.handle("/e1/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sdp": "v=0 answer"})
	})
	s.handle("/e2/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sdp": "should not be used"})
	})

	p := NewProber(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	answer, err := p.Probe(context.Background(), "s1", "v=0 offer", "key123")
	require.NoError(t, err)

	assert.Equal(t, "v=0 answer", answer.SDP)
	assert.Equal(t, s.server.URL+"/e1/s1", answer.URL)
	assert.Equal(t, 1, answer.Attempts)

	hits := s.recorded()
	require.Len(t, hits, 1)
	assert.Equal(t, http.MethodPost, hits[0].Method)
	assert.Equal(t, "Bearer key123", hits[0].Auth)
	assert.Equal(t, "v=0 offer", hits[0].SDP)
}

func TestProbe_DeclinesAdvanceInOrder(t *testing.T) {
	s := newStub(t)
	s.handle("/e1/s1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s.handle("/e2/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.handle("/e4/s1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0 raw answer"))
	})

	p := NewProber(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	answer, err := p.Probe(context.Background(), "s1", "offer", "key")
	require.NoError(t, err)

	assert.Equal(t, "v=0 raw answer", answer.SDP)
	assert.Equal(t, 4, answer.Attempts)
	assert.Equal(t, []string{"/e1/s1", "/e2/s1", "/e3/s1", "/e4/s1"}, s.paths())
}

func TestProbe_AllEndpointsFail(t *testing.T) {
	s := newStub(t)

	p := NewProber(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	_, err := p.Probe(context.Background(), "s1", "offer", "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAnswer)
	assert.Len(t, s.recorded(), 5)
}

func TestProbe_SlowEndpointIsBounded(t *testing.T) {
	s := newStub(t)
	s.handle("/e1/s1", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	s.handle("/e2/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sdp": "v=0 second"})
	})

	p := NewProber(fiveEndpoints(s.server.URL), 100*time.Millisecond, nil, zaptest.NewLogger(t).Sugar())
	start := time.Now()
	answer, err := p.Probe(context.Background(), "s1", "offer", "key")
	require.NoError(t, err)
	assert.Equal(t, "v=0 second", answer.SDP)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbe_StopsWhenCeilingExpires(t *testing.T) {
	s := newStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber(fiveEndpoints(s.server.URL), time.Second, nil, zaptest.NewLogger(t).Sugar())
	_, err := p.Probe(ctx, "s1", "offer", "key")
	assert.ErrorIs(t, err, ErrNoAnswer)
	assert.Empty(t, s.recorded())
}
