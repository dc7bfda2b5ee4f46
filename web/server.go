// Package web exposes the HTTP surface: the chat endpoints, memory
// listing, identity CRUD and the websocket chat loop for the bundled UI.
package web

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lyangfan/deepmemory/config"
	"github.com/lyangfan/deepmemory/conversation"
	"github.com/lyangfan/deepmemory/identity"
	"github.com/lyangfan/deepmemory/memory"
	"github.com/lyangfan/deepmemory/role"
)

// Version is reported by /health and the root endpoint.
const Version = "0.3.1"

// staticDir is served at / when present, hosting the chat UI.
const staticDir = "./web/static"

// Server wires the HTTP handlers to the core components.
type Server struct {
	cfg      *config.Config
	manager  *conversation.Manager
	users    *identity.UserManager
	sessions *identity.SessionManager
	store    memory.Store
	roles    *role.Registry
	llmModel string
}

// NewServer creates the server.
func NewServer(
	cfg *config.Config,
	manager *conversation.Manager,
	users *identity.UserManager,
	sessions *identity.SessionManager,
	store memory.Store,
	roles *role.Registry,
	llmModel string,
) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		users:    users,
		sessions: sessions,
		store:    store,
		roles:    roles,
		llmModel: llmModel,
	}
}

// Router builds the chi router. Health and the root page are public;
// everything under /v1 and the websocket require the API key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)

		r.Post("/v1/chat", s.handleChat)
		r.Post("/v1/chat/completions", s.handleCompletions)

		r.Get("/v1/memories", s.handleMemories)
		r.Delete("/v1/memories", s.handleDeleteMemories)

		r.Post("/v1/users", s.handleCreateUser)
		r.Get("/v1/users/{id}", s.handleGetUser)
		r.Get("/v1/users/{id}/sessions", s.handleUserSessions)
		r.Post("/v1/sessions", s.handleCreateSession)
		r.Get("/v1/sessions/{id}", s.handleGetSession)

		r.Get("/v1/roles", s.handleRoles)

		r.Get("/ws/chat", s.handleWS)
	})

	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		fs := http.FileServer(http.Dir(staticDir))
		r.Handle("/*", fs)
	} else {
		r.Get("/", s.handleRoot)
	}
	return r
}
