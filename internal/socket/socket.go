// Package socket is the session-scoped websocket entry point. The connection's
// session id stands in for the author identity.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xaenox/nova/internal/pipeline"
	"go.uber.org/zap"
)

const (
	EventAskAI      = "askAI"
	EventAIResponse = "aiResponse"
	EventAIError    = "aiError"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type AskPayload struct {
	Chat    string `json:"chat"`
	Content string `json:"content"`
}

type ResponsePayload struct {
	Content string `json:"content"`
	Chat    string `json:"chat"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Chat    string `json:"chat"`
}

type Runner interface {
	Run(ctx context.Context, req pipeline.TurnRequest) (*pipeline.Turn, error)
}

type Handler struct {
	runner   Runner
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts connections from allowedOrigins; an empty list accepts any origin.
func NewHandler(runner Runner, allowedOrigins []string, logger *zap.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		runner: runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		logger: logger.Named("socket"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	s := &session{
		id:     uuid.New().String(),
		conn:   conn,
		runner: h.runner,
		logger: h.logger,
	}
	s.logger = h.logger.With(zap.String("session_id", s.id))
	s.serve(r.Context())
}

type session struct {
	id     string
	conn   *websocket.Conn
	runner Runner
	logger *zap.Logger

	writeMu sync.Mutex
	turns   sync.WaitGroup
}

func (s *session) serve(parent context.Context) {
	// Turns outlive the request context but not the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.logger.Info("Client connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		cancel()
		s.turns.Wait()
		s.conn.Close()
		s.logger.Info("Client disconnected")
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.pingLoop(done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Read failed", zap.Error(err))
			}
			return
		}

		// A malformed frame is answered, the session stays open.
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("Invalid frame", zap.Error(err))
			s.emit(EventAIError, ErrorPayload{Message: "invalid message"})
			continue
		}

		switch env.Event {
		case EventAskAI:
			var ask AskPayload
			if err := json.Unmarshal(env.Data, &ask); err != nil {
				s.emit(EventAIError, ErrorPayload{Message: "invalid askAI payload"})
				continue
			}
			s.turns.Add(1)
			go func() {
				defer s.turns.Done()
				s.ask(ctx, ask)
			}()
		default:
			s.logger.Debug("Ignoring event", zap.String("event", env.Event))
		}
	}
}

func (s *session) ask(ctx context.Context, ask AskPayload) {
	turn, err := s.runner.Run(ctx, pipeline.TurnRequest{
		ChatID:   ask.Chat,
		AuthorID: s.id,
		Content:  ask.Content,
	})
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "Failed to generate AI response"
		}
		s.logger.Warn("Turn failed", zap.String("chat_id", ask.Chat), zap.Error(err))
		s.emit(EventAIError, ErrorPayload{Message: msg, Chat: ask.Chat})
		return
	}
	s.emit(EventAIResponse, ResponsePayload{Content: turn.Reply.Content, Chat: ask.Chat})
}

func (s *session) emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		s.logger.Warn("Failed to emit event", zap.String("event", event), zap.Error(err))
	}
}

func (s *session) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
