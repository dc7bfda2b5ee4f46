package web

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lyangfan/deepmemory/conversation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bundled chat UI is served from arbitrary dev origins.
		return true
	},
}

// wsMessage is one inbound chat turn over the websocket.
type wsMessage struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id,omitempty"`
	RoleID     string `json:"role_id,omitempty"`
	Message    string `json:"message"`
	Username   string `json:"username,omitempty"`
	ExtractNow bool   `json:"extract_now,omitempty"`
}

// wsReply is the outbound frame: either a reply or an error.
type wsReply struct {
	Response        string `json:"response,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	MemoryExtracted bool   `json:"memory_extracted,omitempty"`
	FragmentsUsed   int    `json:"fragments_used,omitempty"`
	Error           string `json:"error,omitempty"`
}

// handleWS runs the live chat loop for the web UI: one JSON message in,
// one JSON reply out, same orchestrator contract as POST /v1/chat.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read: %v", err)
			}
			return
		}
		if msg.Message == "" {
			if err := conn.WriteJSON(wsReply{Error: "message is required"}); err != nil {
				return
			}
			continue
		}

		result, err := s.manager.Chat(r.Context(), conversation.ChatRequest{
			UserID:     msg.UserID,
			SessionID:  msg.SessionID,
			RoleID:     msg.RoleID,
			Message:    msg.Message,
			Username:   msg.Username,
			ExtractNow: msg.ExtractNow,
		})
		if err != nil {
			if err := conn.WriteJSON(wsReply{Error: err.Error()}); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(wsReply{
			Response:        result.Reply,
			SessionID:       result.SessionID,
			MemoryExtracted: result.MemoryExtracted,
			FragmentsUsed:   result.FragmentsUsed,
		}); err != nil {
			return
		}
	}
}
