package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/wallet-relay/internal/session"
)

func (s *Server) registerRoutes(wsHandler http.Handler) {
	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /session/{id}", s.handleTerminateSession)

	s.mux.HandleFunc("GET /s/{id}", s.handleShortLink)

	s.mux.HandleFunc("GET /{$}", s.pageHandler("index.html"))
	s.mux.HandleFunc("GET /landing", s.pageHandler("landing.html"))
	s.mux.HandleFunc("GET /demo", s.pageHandler("demo.html"))
	s.mux.HandleFunc("GET /bridge", s.handleBridge)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics/prometheus", s.metrics.Handler())
	}

	// Wallets that sandbox the relay as an iframe app request a manifest
	// relative to whatever path they loaded, so every page path gets one.
	for _, p := range []string{
		"GET /manifest.json",
		"GET /s/{id}/manifest.json",
		"GET /demo/manifest.json",
		"GET /bridge/manifest.json",
		"GET /landing/manifest.json",
	} {
		s.mux.HandleFunc(p, s.handleManifest)
	}
	s.mux.HandleFunc("GET /logo.svg", s.handleLogo)

	if wsHandler != nil {
		s.mux.Handle("GET /ws", wsHandler)
	}
}

// createMetadata is the optional POST /session body. It is recognized only
// when both name and url are present; anything else is ignored, not rejected,
// because metadata is advisory.
type createMetadata struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// Admission order: capacity, then rate limit, then body.
	if s.store.IsAtCapacity() {
		if s.metrics != nil {
			s.metrics.CreateAtCapacity.Inc()
		}
		writeError(w, http.StatusServiceUnavailable, "Server at capacity")
		return
	}

	ip := ClientIP(r)
	if !s.limiter.Check(ip) {
		remaining, resetAt := s.limiter.Info(ip)
		retryAfter := int64(resetAt.Sub(s.clock.Now()).Milliseconds()+999) / 1000
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if s.metrics != nil {
			s.metrics.CreateRateLimited.Inc()
		}
		writeError(w, http.StatusTooManyRequests, "Too many session requests")
		return
	}

	var metadata *session.Metadata
	var body createMetadata
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		if body.Name != "" && body.URL != "" {
			metadata = &session.Metadata{Name: body.Name, URL: body.URL, Icon: body.Icon}
		}
	}

	snap, err := s.store.Create(metadata)
	if err != nil {
		if err == session.ErrAtCapacity {
			writeError(w, http.StatusServiceUnavailable, "Server at capacity")
			return
		}
		s.log.Error("session create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	s.log.Info("session_created", "session_id", snap.ID, "client_ip", ip)

	WriteJSON(w, http.StatusOK, map[string]any{
		"id":        snap.ID,
		"url":       s.shortLinkURL(r, snap.ID, snap.Secret),
		"expiresAt": snap.ExpiresAt.UnixMilli(),
	})
}

// shortLinkURL builds the QR target. The scheme comes from X-Forwarded-Proto
// because TLS terminates in front of the relay.
func (s *Server) shortLinkURL(r *http.Request, id, secret string) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s/s/%s?k=%s", proto, r.Host, id, secret)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if snap.Terminated {
		writeError(w, http.StatusGone, "Session terminated")
		return
	}

	// The secret is never returned by read endpoints.
	WriteJSON(w, http.StatusOK, map[string]any{
		"id":        snap.ID,
		"status":    snap.Status,
		"metadata":  snap.Metadata,
		"expiresAt": snap.ExpiresAt.UnixMilli(),
	})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if snap.Terminated {
		writeError(w, http.StatusGone, "Session terminated")
		return
	}
	if !s.store.VerifySecret(id, r.URL.Query().Get("k")) {
		writeError(w, http.StatusForbidden, "Invalid session secret")
		return
	}

	s.store.TerminateSession(id)
	if s.metrics != nil {
		s.metrics.SessionsTerminated.Inc()
	}
	s.log.Info("session_terminated", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleShortLink renders the landing page for a session. It deliberately
// does not redirect: wallets embedding the relay in an iframe drop the query
// string (and with it the secret) across redirects.
func (s *Server) handleShortLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	s.renderPage(w, "landing.html", pageData{
		Branding:  s.cfg.Branding,
		SessionID: id,
		Secret:    q.Get("k"),
		Lang:      q.Get("lang"),
		Theme:     q.Get("theme"),
	})
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing session parameter")
		return
	}
	s.renderPage(w, "bridge.html", pageData{
		Branding:  s.cfg.Branding,
		SessionID: sessionID,
		Secret:    q.Get("k"),
		Lang:      q.Get("lang"),
		Theme:     q.Get("theme"),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   st.Uptime,
		"sessions": st.TotalSessions,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	WriteJSON(w, http.StatusOK, map[string]string{
		"name":        s.cfg.Branding.Name,
		"description": s.cfg.Branding.Description,
		"iconPath":    fmt.Sprintf("%s://%s/logo.svg", proto, r.Host),
	})
}

func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(logoSVG)
}

// ClientIP extracts the caller's address for rate limiting. The relay is
// expected to sit behind a reverse proxy, so forwarded headers win; absent
// both, all callers share the "unknown" bucket.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "unknown"
}
