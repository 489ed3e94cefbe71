// Package mockserver is an in-process stand-in for the post-generation
// backend. It serves the same routes as the real service with canned data.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/backend"
)

// Suggestions is the fixed list returned by generate-branding.
var Suggestions = []string{
	"Urban Nest Realty",
	"Skyline Luxe Properties",
	"Elevate Estates",
	"Downtown Dwellers Group",
	"Panorama Properties Co.",
}

const sessionExpired = "Session expired or not found. Please restart the process."

// Options changes how the server answers. Zero means all-success and a
// connected page.
type Options struct {
	FailStart    string
	FailContinue string
	FailPublish  string
	// Disconnected reports an expired token from the status route.
	Disconnected bool
	SessionTTL   time.Duration
	Latency      time.Duration
}

type Server struct {
	opts     Options
	sessions *cache.Cache
	upgrader websocket.Upgrader

	mu    sync.Mutex
	posts []backend.PublishRequest
}

func New(opts Options) *Server {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Server{
		opts:     opts,
		sessions: cache.New(opts.SessionTTL, 2*opts.SessionTTL),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler returns the chi router with every backend route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Post("/bot/generate-branding", s.handleGenerateBranding)
		r.Post("/bot/continue-post-generation", s.handleContinue)
		r.Get("/bot/chat", s.handleChat)
		r.Post("/facebook/posts", s.handlePublish)
		r.Get("/facebook/status/agents/{agentID}", s.handleStatus)
	})
	return r
}

// Posts returns the publish requests received so far.
func (s *Server) Posts() []backend.PublishRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.PublishRequest(nil), s.posts...)
}

type sessionData struct {
	AgentID string
	Prompt  string
}

func (s *Server) handleGenerateBranding(w http.ResponseWriter, r *http.Request) {
	s.delay()
	var req backend.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.opts.FailStart != "" {
		writeDetail(w, http.StatusInternalServerError, s.opts.FailStart)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "prompt is required")
		return
	}
	id := uuid.NewString()
	s.sessions.SetDefault(id, sessionData{AgentID: req.AgentID, Prompt: req.Prompt})
	log.Debug().Str("component", "mockserver").Str("session_id", id).Msg("session created")
	writeJSON(w, http.StatusOK, backend.StartResponse{
		SessionID:        id,
		BrandSuggestions: strings.Join(Suggestions, "\n"),
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.delay()
	var req backend.ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.sessions.Get(req.SessionID); !ok {
		writeDetail(w, http.StatusNotFound, sessionExpired)
		return
	}
	if s.opts.FailContinue != "" {
		writeDetail(w, http.StatusInternalServerError, s.opts.FailContinue)
		return
	}
	s.sessions.Delete(req.SessionID)
	image := "/static/images/" + uuid.NewString() + ".jpg"
	writeJSON(w, http.StatusOK, backend.ContinueResponse{
		Caption:    fmt.Sprintf("Experience luxury living with %s. Schedule a tour today!", req.SelectedBrand),
		ImagePath:  image,
		PostResult: map[string]any{"brand": req.SelectedBrand},
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	s.delay()
	var req backend.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.opts.FailPublish != "" {
		writeJSON(w, http.StatusOK, backend.PublishResponse{Status: "error", Message: s.opts.FailPublish})
		return
	}
	s.mu.Lock()
	s.posts = append(s.posts, req)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, backend.PublishResponse{
		Status:  "success",
		Message: "Post published successfully!",
		Data:    map[string]any{"post_id": uuid.NewString()},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := backend.StatusResponse{AccessTokenStatus: "valid", PermissionsOK: true}
	if s.opts.Disconnected {
		resp = backend.StatusResponse{AccessTokenStatus: "expired", PermissionsOK: false}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	logger := log.With().
		Str("component", "mockserver").
		Str("client_id", r.URL.Query().Get("client_id")).
		Logger()
	logger.Debug().Msg("chat connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("chat closed")
			return
		}
		reply, _ := json.Marshal(map[string]string{"message": "Message received: " + string(data)})
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

func (s *Server) delay() {
	if s.opts.Latency > 0 {
		time.Sleep(s.opts.Latency)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
