// Package management provides a lightweight HTTP API for runtime inspection
// and control of the redaction pipeline's blocklist registry.
//
// Endpoints:
//
//	GET  /status            - pipeline uptime and blocklist size
//	GET  /metrics           - JSON metrics snapshot
//	POST /blocklist/add     - add a user-owned blocklist term {"term":"..."}
//	POST /blocklist/remove  - remove a user-owned blocklist term {"term":"..."}
//	POST /blocklist/reload  - re-read the canonical/custom/user files from disk
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"pii-redact/internal/blocklist"
	"pii-redact/internal/config"
	"pii-redact/internal/metrics"
)

// Server is the blocklist-registry management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	blocked   *blocklist.Registry
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
}

// New creates a management server bound to the given blocklist registry and
// metrics collector. registry and m are shared with the redaction pipeline
// so reload/add/remove take effect on the next document processed.
func New(cfg *config.Config, registry *blocklist.Registry, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		blocked:   registry,
		token:     cfg.ManagementToken,
		metrics:   m,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/blocklist/add", s.handleBlocklistAdd)
	mux.HandleFunc("/blocklist/remove", s.handleBlocklistRemove)
	mux.HandleFunc("/blocklist/reload", s.handleBlocklistReload)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		BlocklistSize int    `json:"blocklistSize"`
		Verifier      struct {
			Enabled  bool   `json:"enabled"`
			Endpoint string `json:"endpoint"`
		} `json:"verifier"`
		Auditor struct {
			Enabled bool `json:"enabled"`
		} `json:"auditor"`
	}

	resp := response{
		Status:        "running",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		BlocklistSize: len(s.blocked.All()),
	}
	resp.Verifier.Enabled = s.cfg.EnableVerifier
	resp.Verifier.Endpoint = s.cfg.VerifyEndpoint
	resp.Auditor.Enabled = s.cfg.EnableAuditor

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlocklistAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	term, ok := decodeTerm(w, r)
	if !ok {
		return
	}
	if err := s.blocked.AddUserTerm(term); err != nil {
		log.Printf("[MANAGEMENT] AddUserTerm error: %v", err)
		http.Error(w, "could not persist term", http.StatusInternalServerError)
		return
	}
	log.Printf("[MANAGEMENT] Added blocklist term: %s", term)
	writeJSON(w, http.StatusOK, map[string]string{"added": term})
}

func (s *Server) handleBlocklistRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	term, ok := decodeTerm(w, r)
	if !ok {
		return
	}
	if err := s.blocked.RemoveUserTerm(term); err != nil {
		log.Printf("[MANAGEMENT] RemoveUserTerm error: %v", err)
		http.Error(w, "could not persist removal", http.StatusInternalServerError)
		return
	}
	log.Printf("[MANAGEMENT] Removed blocklist term: %s", term)
	writeJSON(w, http.StatusOK, map[string]string{"removed": term})
}

// handleBlocklistReload re-reads the canonical/custom/user files from disk
// and atomically swaps in the new union (spec section 9's explicit
// invalidation hook for the process-wide blocklist cache).
func (s *Server) handleBlocklistReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	s.blocked.Reload()
	log.Printf("[MANAGEMENT] Blocklist reloaded (%d terms)", len(s.blocked.All()))
	writeJSON(w, http.StatusOK, map[string]int{"size": len(s.blocked.All())})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func decodeTerm(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Term) == "" {
		http.Error(w, `invalid request: need {"term":"..."}`, http.StatusBadRequest)
		return "", false
	}
	return req.Term, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.ManagementPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
