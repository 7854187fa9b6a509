package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xaenox/nova/internal/apperr"
	"github.com/xaenox/nova/internal/auth"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/pipeline"
	"go.uber.org/zap"
)

type chatJSON struct {
	ID           string     `json:"_id"`
	Title        string     `json:"title"`
	LastActivity time.Time  `json:"lastActivity"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	User         string     `json:"user,omitempty"`
}

type messageJSON struct {
	ID        string    `json:"_id"`
	Chat      string    `json:"chat"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	Timestamp time.Time `json:"timestamp"`
}

func toMessagesJSON(msgs []*models.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON{
			ID:        m.ID,
			Chat:      m.ChatID,
			User:      m.AuthorID,
			Content:   m.Content,
			Role:      m.Role.Public(),
			CreatedAt: m.CreatedAt,
			Timestamp: m.CreatedAt,
		})
	}
	return out
}

type errorJSON struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its taxonomy status. Client errors carry their
// own message; everything else is reported as fallback plus the cause.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		writeJSON(w, status, errorJSON{Message: fallback, Error: err.Error()})
		return
	}
	writeJSON(w, status, errorJSON{Message: apperr.Message(err)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid JSON body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Backend is running"})
}

func (s *Server) handleDiag(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":            "ok",
		"port":               s.cfg.Port,
		"websocketAvailable": true,
		"timestamp":          s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	chats, err := s.chats.List(r.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to list chats", zap.String("user_id", userID), zap.Error(err))
		writeError(w, err, "Failed to get chats")
		return
	}
	out := make([]chatJSON, 0, len(chats))
	for _, c := range chats {
		created := c.CreatedAt
		out = append(out, chatJSON{ID: c.ID, Title: c.Title, LastActivity: c.LastActivity, CreatedAt: &created})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var body struct {
		Title string `json:"title"`
	}
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err, "Failed to create chat")
		return
	}
	c, err := s.chats.Create(r.Context(), userID, body.Title)
	if err != nil {
		s.logger.Warn("Failed to create chat", zap.String("user_id", userID), zap.Error(err))
		writeError(w, err, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      "Chat created successfully",
		"_id":          c.ID,
		"title":        c.Title,
		"lastActivity": c.LastActivity,
		"user":         c.OwnerID,
	})
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var body struct {
		Title string `json:"title"`
	}
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err, "Failed to update chat")
		return
	}
	c, err := s.chats.Rename(r.Context(), userID, r.PathValue("chatId"), body.Title)
	if err != nil {
		writeError(w, err, "Failed to update chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Chat updated successfully",
		"chat":    chatJSON{ID: c.ID, Title: c.Title, LastActivity: c.LastActivity},
	})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	if err := s.chats.Delete(r.Context(), userID, r.PathValue("chatId")); err != nil {
		writeError(w, err, "Failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted successfully"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var body struct {
		ChatID  string `json:"chatId"`
		Content string `json:"content"`
	}
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	chatID := r.PathValue("chatId")
	if chatID == "" || chatID == "undefined" {
		chatID = body.ChatID
	}
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(body.Content) == "" {
		writeError(w, apperr.Validation("Chat ID and message content required"), "Failed to send message")
		return
	}
	if _, err := s.chats.Authorize(r.Context(), userID, chatID); err != nil {
		writeError(w, err, "Failed to send message")
		return
	}

	if _, err := s.turns.Run(r.Context(), pipeline.TurnRequest{ChatID: chatID, AuthorID: userID, Content: body.Content}); err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	msgs, err := s.turns.History(r.Context(), chatID)
	if err != nil {
		s.logger.Error("Failed to reload messages", zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Message sent successfully",
		"messages": toMessagesJSON(msgs),
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	msgs, err := s.chats.Messages(r.Context(), userID, r.PathValue("chatId"))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": apperr.Message(err), "messages": []messageJSON{}})
			return
		}
		writeError(w, err, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessagesJSON(msgs)})
}
