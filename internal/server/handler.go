package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cardwarden/cardwarden/internal/probe"
	"github.com/cardwarden/cardwarden/internal/protocol"
	"github.com/cardwarden/cardwarden/internal/validator"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.instrument(s.rateLimit(mux))
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordRequest(r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.Load()
		if cfg.RateLimit.Enabled {
			ip := clientIP(r)
			if !s.limiter.allow(ip) {
				s.logger.Warn("request rate limited", "ip", ip, "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// readCard reads and parses an Agent Card from the request body,
// enforcing the configured body size limit.
func (s *Server) readCard(w http.ResponseWriter, r *http.Request) (*protocol.ParsedCard, bool) {
	cfg := s.cfg.Load()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(cfg.Listen.MaxBodySize)))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	card, err := protocol.ParseCard(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid Agent Card: "+err.Error())
		return nil, false
	}
	return card, true
}

// handleValidate runs the full validation pipeline: schema checks,
// signature verification, and an optional availability probe when
// ?probe=true and probing is enabled.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	card, ok := s.readCard(w, r)
	if !ok {
		return
	}
	cfg := s.cfg.Load()

	sigResult := s.verifier.Load().VerifyCard(r.Context(), card)
	s.metrics.RecordVerification(sigResult.Valid)

	var availability *probe.Result
	if cfg.Probe.Enabled && r.URL.Query().Get("probe") == "true" && card.Card.URL != "" {
		res := probe.Endpoint(r.Context(), card.Card.URL, probe.Config{
			Timeout:       cfg.Probe.Timeout.Duration,
			AllowInsecure: cfg.Verification.AllowInsecure,
		})
		availability = &res
	}

	result := validator.Validate(&card.Card, &sigResult, availability)
	s.logger.Info("card validated",
		"name", card.Card.Name,
		"success", result.Success,
		"compliance", result.ComplianceScore,
		"trust", result.TrustScore,
		"signatures", sigResult.Summary.Total,
	)
	writeJSON(w, http.StatusOK, result)
}

// handleVerify runs signature verification only.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	card, ok := s.readCard(w, r)
	if !ok {
		return
	}

	result := s.verifier.Load().VerifyCard(r.Context(), card)
	s.metrics.RecordVerification(result.Valid)
	s.logger.Info("card signatures verified",
		"name", card.Card.Name,
		"valid", result.Valid,
		"total", result.Summary.Total,
	)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
