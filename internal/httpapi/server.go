// Package httpapi serves the request/response chat API.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/xaenox/nova/internal/auth"
	"github.com/xaenox/nova/internal/chat"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/pipeline"
	"go.uber.org/zap"
)

// Turns runs conversational turns and reads chat history.
type Turns interface {
	Run(ctx context.Context, req pipeline.TurnRequest) (*pipeline.Turn, error)
	History(ctx context.Context, chatID string) ([]*models.Message, error)
}

type Config struct {
	Port        int
	FrontendURL string
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64
}

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	chats  *chat.Service
	turns  Turns
	auth   *auth.Authenticator
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, chats *chat.Service, turns Turns, authn *auth.Authenticator, logger *zap.Logger) *Server {
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:5173"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		chats:  chats,
		turns:  turns,
		auth:   authn,
		logger: logger.Named("http"),
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /diag", s.handleDiag)

	s.mux.Handle("GET /api/chats", s.requireUser(s.handleListChats))
	s.mux.Handle("POST /api/chats", s.requireUser(s.handleCreateChat))
	s.mux.Handle("PUT /api/chats/{chatId}", s.requireUser(s.handleUpdateChat))
	s.mux.Handle("DELETE /api/chats/{chatId}", s.requireUser(s.handleDeleteChat))
	s.mux.Handle("POST /api/chats/{chatId}/messages", s.requireUser(s.handleSendMessage))
	s.mux.Handle("GET /api/chats/{chatId}/messages", s.requireUser(s.handleGetMessages))
}

// Mount attaches an extra handler, such as the websocket endpoint.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.withRequestLog(s.mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.Debug("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, err, "Unauthorized")
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.FrontendURL)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", s.now().Sub(start)))
	})
}
