package app

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"caseflow/api/internal/rbac"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced on the REST surface; the handshake carries a
	// session token so cross-origin upgrades are harmless.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 45 * time.Second
)

// handleChatWS upgrades the connection and pumps hub events to the client
// until it disconnects.
func (s *HTTPServer) handleChatWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if s.service.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Realtime chat is not configured", nil)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	events, cancel := s.service.hub.Subscribe(session.UserID)
	defer cancel()
	defer conn.Close()

	// Reader: we never expect client frames, but reading drives pong
	// handling and surfaces disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("chat ws write failed for %s: %v", session.UserID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *HTTPServer) handleChatRoutes(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "chat" {
		return false
	}

	if parts[2] == "conversations" {
		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				items, err := s.service.ListConversations(r.Context(), session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
				return true
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.ActionComment) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				var input ConversationInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.CreateConversation(r.Context(), session.UserID, input)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusCreated, payload)
				return true
			}
			return false
		}

		conversationID := parts[3]

		// GET|POST /api/chat/conversations/{id}/messages
		if len(parts) == 5 && parts[4] == "messages" {
			switch r.Method {
			case http.MethodGet:
				limit, ok := queryInt(w, r, "limit", defaultMessagePageSize)
				if !ok {
					return true
				}
				payload, err := s.service.ListMessages(r.Context(), conversationID, session.UserID, r.URL.Query().Get("before"), limit)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, payload)
				return true
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.ActionComment) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				var input MessageInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.SendMessage(r.Context(), conversationID, session.UserID, input)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusCreated, payload)
				return true
			}
			return false
		}

		// POST /api/chat/conversations/{id}/read
		if r.Method == http.MethodPost && len(parts) == 5 && parts[4] == "read" {
			payload, err := s.service.MarkConversationRead(r.Context(), conversationID, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		}

		// POST /api/chat/conversations/{id}/attachments (multipart upload)
		if r.Method == http.MethodPost && len(parts) == 5 && parts[4] == "attachments" {
			if !s.service.Can(session.Role, rbac.ActionComment) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return true
			}
			s.handleAttachmentUpload(w, r, session, "message", conversationID)
			return true
		}
		return false
	}

	// POST /api/chat/messages/{id}/reactions
	if r.Method == http.MethodPost && len(parts) == 5 && parts[2] == "messages" && parts[4] == "reactions" {
		if !s.service.Can(session.Role, rbac.ActionComment) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.ToggleReaction(r.Context(), parts[3], session.UserID, body.Emoji)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}
	return false
}
