package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// hit is one recorded request against the stub.
type hit struct {
	Method string
	Path   string
	Auth   string
	SDP    string
}

// stub is a fake ingest/metadata service. Handlers are keyed by path; paths
// without a handler answer 404. Every request is recorded.
type stub struct {
	server *httptest.Server

	mu       sync.Mutex
	hits     []hit
	handlers map[string]http.HandlerFunc
}

func newStub(t *testing.T) *stub {
	t.Helper()
	s := &stub{handlers: map[string]http.HandlerFunc{}}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stub) handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	s.handlers[path] = h
	s.mu.Unlock()
}

func (s *stub) serve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SDP string `json:"sdp"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	s.mu.Lock()
	s.hits = append(s.hits, hit{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), SDP: body.SDP})
	h := s.handlers[r.URL.Path]
	s.mu.Unlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (s *stub) recorded() []hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hit, len(s.hits))
	copy(out, s.hits)
	return out
}

func (s *stub) paths() []string {
	var out []string
	for _, h := range s.recorded() {
		out = append(out, h.Path)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
