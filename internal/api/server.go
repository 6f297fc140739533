package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.io/infrasutra/glassmail/internal/auth"
	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/config"
	"github.io/infrasutra/glassmail/internal/ingest"
	"github.io/infrasutra/glassmail/internal/metrics"
	"github.io/infrasutra/glassmail/internal/send"
	"github.io/infrasutra/glassmail/internal/sse"
	"github.io/infrasutra/glassmail/internal/store"
)

// Dependencies are the components the HTTP surface binds together.
type Dependencies struct {
	Store    store.Mailbox
	Auth     *auth.Manager
	Hub      *sse.Hub
	Pipeline *send.Pipeline
	Ingester *ingest.Ingester
	Sessions *compose.Sessions
	Metrics  *metrics.Metrics
}

type Server struct {
	cfg      config.Config
	store    store.Mailbox
	auth     *auth.Manager
	hub      *sse.Hub
	pipeline *send.Pipeline
	ingester *ingest.Ingester
	sessions *compose.Sessions
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	handler  http.Handler
}

func NewServer(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	server := &Server{
		cfg:      cfg,
		store:    deps.Store,
		auth:     deps.Auth,
		hub:      deps.Hub,
		pipeline: deps.Pipeline,
		ingester: deps.Ingester,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
	}
	if server.sessions == nil {
		server.sessions = compose.NewSessions(cfg.SuggestionDomains)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", server.handleLogin)
	mux.HandleFunc("POST /api/logout", server.handleLogout)
	mux.HandleFunc("GET /api/me", server.handleMe)

	mux.HandleFunc("GET /api/messages", server.handleMessages)
	mux.HandleFunc("GET /api/messages/{id}", server.handleMessageDetail)
	mux.HandleFunc("POST /api/messages/{id}/read", server.handleMarkRead)

	mux.HandleFunc("POST /api/compose", server.handleComposeOpen)
	mux.HandleFunc("GET /api/compose/{id}", server.handleComposeGet)
	mux.HandleFunc("PUT /api/compose/{id}", server.handleComposeUpdate)
	mux.HandleFunc("DELETE /api/compose/{id}", server.handleComposeClose)
	mux.HandleFunc("POST /api/compose/{id}/input", server.handleComposeInput)
	mux.HandleFunc("POST /api/compose/{id}/key", server.handleComposeKey)
	mux.HandleFunc("POST /api/compose/{id}/recipients", server.handleComposeAddRecipient)
	mux.HandleFunc("DELETE /api/compose/{id}/recipients/{address}", server.handleComposeRemoveRecipient)
	mux.HandleFunc("POST /api/compose/{id}/format", server.handleComposeFormat)
	mux.HandleFunc("POST /api/compose/{id}/send", server.handleComposeSend)

	mux.HandleFunc("POST /api/send", server.handleSend)
	mux.HandleFunc("GET /api/stream", server.handleStream)

	if deps.Ingester != nil {
		mux.Handle("POST /webhooks/incoming", deps.Ingester.Handler())
	}

	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	server.handler = chainMiddlewares(mux, withCORS, withLogging(logger))
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := s.now()
	if err := s.store.UpsertUser(r.Context(), email, now); err != nil {
		s.logger.Error("upsert user", "email", email, "error", err)
		http.Error(w, "unable to save user", http.StatusInternalServerError)
		return
	}
	token, err := s.auth.Issue(email, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	s.respondJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"email":       email,
		"fromName":    s.cfg.DefaultFromName,
		"fromAddress": s.senderAddress(email),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(email)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("store not ready", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

// requireAccount resolves the signed-in account or answers 401.
func (s *Server) requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, err := s.sessionEmail(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return email, true
}

func (s *Server) sessionEmail(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return "", errors.New("missing session")
	}
	return s.auth.Parse(cookie.Value, s.now())
}

// senderAddress is the From address used when a request names none: the
// configured default, else the account itself.
func (s *Server) senderAddress(account string) string {
	if s.cfg.DefaultFromAddress != "" {
		return s.cfg.DefaultFromAddress
	}
	return account
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	maxAge := int(s.auth.MaxAge().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
