package web

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lyangfan/deepmemory/conversation"
	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/memory"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "message is required"})
		return
	}

	result, err := s.manager.Chat(r.Context(), conversation.ChatRequest{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		RoleID:     req.RoleID,
		Message:    req.Message,
		Username:   req.Username,
		ExtractNow: req.ExtractNow,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:        result.Reply,
		SessionID:       result.SessionID,
		UserID:          result.UserID,
		RoleID:          result.RoleID,
		MemoryExtracted: result.MemoryExtracted,
		MessageCount:    result.MessageCount,
		FragmentsUsed:   result.FragmentsUsed,
	})
}

// handleCompletions adapts the OpenAI chat completion shape: the last
// user message becomes the turn, everything else rides on the session's
// own history.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}

	var userMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			userMessage = req.Messages[i].Content
			break
		}
	}
	if userMessage == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "no user message found"})
		return
	}

	userID := req.User
	if userID == "" {
		userID = "anonymous"
	}

	result, err := s.manager.Chat(r.Context(), conversation.ChatRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		RoleID:    req.RoleID,
		Message:   userMessage,
		Username:  userID,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}

	writeJSON(w, http.StatusOK, CompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.llmModel,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      CompletionMessage{Role: "assistant", Content: result.Reply},
			FinishReason: "stop",
		}},
	})
}

// handleMemories lists stored fragments for a scope, most important
// first.
func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := core.Scope{
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
		RoleID:    q.Get("role_id"),
	}
	if scope.RoleID == "" {
		scope.RoleID = s.roles.Default().RoleID
	}
	if err := scope.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "user_id and session_id are required"})
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := memory.QueryFilter{}
	if v := q.Get("min_importance"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinImportance = n
		}
	}
	if v := q.Get("speaker"); v != "" {
		filter.Speaker = core.Speaker(v)
	}
	if v := q.Get("type"); v != "" {
		filter.Type = core.FragmentType(v)
	}

	frags, err := s.store.List(r.Context(), scope, limit, filter)
	if err != nil {
		writeError(w, err, "")
		return
	}
	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].ImportanceScore > frags[j].ImportanceScore
	})

	items := make([]MemoryItem, len(frags))
	for i, f := range frags {
		items[i] = memoryItem(f)
	}
	total, err := s.store.Count(r.Context(), scope)
	if err != nil {
		total = len(items)
	}
	writeJSON(w, http.StatusOK, MemoriesResponse{Memories: items, TotalCount: total})
}

func (s *Server) handleDeleteMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := core.Scope{
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
		RoleID:    q.Get("role_id"),
	}
	if scope.RoleID == "" {
		scope.RoleID = s.roles.Default().RoleID
	}
	if err := scope.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "user_id and session_id are required"})
		return
	}
	if err := s.store.DeleteScope(r.Context(), scope); err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "scope": scope.Key()})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "username is required"})
		return
	}
	user, err := s.users.Create(req.Username, req.UserID)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "user_id is required"})
		return
	}
	if _, err := s.users.Get(req.UserID); err != nil {
		writeError(w, err, "")
		return
	}
	session, err := s.sessions.Create(req.UserID, req.Title)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := s.users.Get(userID); err != nil {
		writeError(w, err, "")
		return
	}
	sessions := s.sessions.ListByUser(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
	})
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	profiles := s.roles.List()
	items := make([]RoleItem, len(profiles))
	for i, p := range profiles {
		items[i] = RoleItem{
			ID:          p.RoleID,
			Name:        p.Name,
			Description: p.Description,
			Style:       p.ResponseStyle,
			Tone:        p.EmotionalTone,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Version:        Version,
		Environment:    s.cfg.Environment,
		EmbeddingModel: s.store.Embedder().Provider(),
		LLMModel:       s.llmModel,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "DeepMemory API",
		"version": Version,
		"endpoints": map[string]string{
			"chat":             "/v1/chat",
			"chat_completions": "/v1/chat/completions",
			"memories":         "/v1/memories",
			"roles":            "/v1/roles",
			"health":           "/health",
			"websocket":        "/ws/chat",
		},
	})
}
