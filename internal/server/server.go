// Package server exposes the bridge over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ingestbridge/internal/bridge"
	"ingestbridge/internal/version"
)

const maxBodyBytes = 1 << 20

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestbridge",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ingestbridge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency. Session creation includes the whole negotiation.",
		Buckets:   []float64{.005, .05, .25, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"method"})
)

// Bridge is the session API the HTTP layer drives.
type Bridge interface {
	CreateSession(ctx context.Context, req bridge.Request) (bridge.Result, error)
	AddCandidate(sessionID string, raw []byte) error
	CloseSession(sessionID string)
	Sessions() int
}

type Server struct {
	bridge Bridge
	logger *zap.SugaredLogger
}

func New(b Bridge, logger *zap.SugaredLogger) *Server {
	return &Server{bridge: b, logger: logger}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("POST /sessions/{id}/candidates", s.handleCandidate)
	mux.HandleFunc("PATCH /sessions/{id}", s.handleCandidate)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routes wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(allowCORS(mux))
}

type createBody struct {
	StreamID             string `json:"streamId"`
	OfferSDP             string `json:"offerSdp"`
	ClientOfferSDP       string `json:"clientOfferSdp"`
	AuthCredential       string `json:"authCredential"`
	NegotiationTimeoutMs int64  `json:"negotiationTimeoutMs"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if body.NegotiationTimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "negotiationTimeoutMs must not be negative")
		return
	}

	offer := body.OfferSDP
	if offer == "" {
		offer = body.ClientOfferSDP
	}
	credential := bearerToken(r)
	if credential == "" {
		credential = body.AuthCredential
	}

	res, err := s.bridge.CreateSession(r.Context(), bridge.Request{
		StreamID:           body.StreamID,
		OfferSDP:           offer,
		Credential:         credential,
		NegotiationTimeout: time.Duration(body.NegotiationTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		if bridge.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorw("Create session failed", "stream", body.StreamID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if res.WebRTCUnavailable {
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Location", "/sessions/"+res.SessionID)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	switch err := s.bridge.AddCandidate(r.PathValue("id"), raw); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, bridge.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.bridge.CloseSession(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.bridge.Sessions(),
		"counters": bridge.Counters(),
		"version":  version.String(),
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// allowCORS answers preflights and reflects the caller's origin.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Location")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests continues any incoming trace context and logs each request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		fields := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start)}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields, "trace_id", sc.TraceID().String())
		}
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		s.logger.Debugw("HTTP request", fields...)
	})
}
