package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/nova/internal/models"
)

var ErrNotFound = errors.New("not found")

// Order selects the direction messages are returned in.
type Order int

const (
	OldestFirst Order = iota
	NewestFirst
)

// Storage is the conversation store: chats and their append-only message logs.
type Storage interface {
	ChatStorage
	MessageStorage

	// Purge removes every chat and message.
	Purge(ctx context.Context) (chats int64, messages int64, err error)
	Close() error
}

type ChatStorage interface {
	CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	// ListChatsByOwner returns chats ordered by last activity, most recent first.
	ListChatsByOwner(ctx context.Context, ownerID string) ([]*models.Chat, error)
	RenameChat(ctx context.Context, chatID, title string) (*models.Chat, error)
	TouchChat(ctx context.Context, chatID string, at time.Time) error
	// DeleteChat removes the chat and all of its messages.
	DeleteChat(ctx context.Context, chatID string) error
}

type MessageStorage interface {
	AppendMessage(ctx context.Context, chatID, authorID string, role models.Role, content string) (*models.Message, error)
	// ListMessages returns at most limit messages (limit <= 0 means all) in the given order.
	ListMessages(ctx context.Context, chatID string, order Order, limit int) ([]*models.Message, error)
}

// DatabaseConfig selects and configures a backend.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
}
