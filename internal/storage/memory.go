package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/nova/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	chats    map[string]*models.Chat
	messages map[string][]*models.Message
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats:    make(map[string]*models.Chat),
		messages: make(map[string][]*models.Message),
		now:      time.Now,
	}
}

func (s *MemoryStorage) CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	chat := &models.Chat{
		ID:           uuid.NewString(),
		Title:        title,
		OwnerID:      ownerID,
		LastActivity: now,
		CreatedAt:    now,
	}
	s.chats[chat.ID] = chat
	cp := *chat
	return &cp, nil
}

func (s *MemoryStorage) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

func (s *MemoryStorage) ListChatsByOwner(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := []*models.Chat{}
	for _, chat := range s.chats {
		if chat.OwnerID == ownerID {
			cp := *chat
			chats = append(chats, &cp)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastActivity.After(chats[j].LastActivity)
	})
	return chats, nil
}

func (s *MemoryStorage) RenameChat(ctx context.Context, chatID, title string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return nil, ErrNotFound
	}
	chat.Title = title
	cp := *chat
	return &cp, nil
}

func (s *MemoryStorage) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return ErrNotFound
	}
	if at.After(chat.LastActivity) {
		chat.LastActivity = at
	}
	return nil
}

func (s *MemoryStorage) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[chatID]; !exists {
		return ErrNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *MemoryStorage) AppendMessage(ctx context.Context, chatID, authorID string, role models.Role, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now()
	log := s.messages[chatID]
	// Clock skew must not reorder the log.
	if n := len(log); n > 0 && createdAt.Before(log[n-1].CreatedAt) {
		createdAt = log[n-1].CreatedAt
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		AuthorID:  authorID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
	s.messages[chatID] = append(log, msg)
	cp := *msg
	return &cp, nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, chatID string, order Order, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[chatID]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Message, 0, n)
	if order == NewestFirst {
		for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
			cp := *log[i]
			out = append(out, &cp)
		}
		return out, nil
	}
	for i := 0; i < n; i++ {
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStorage) Purge(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages int64
	for _, log := range s.messages {
		messages += int64(len(log))
	}
	chats := int64(len(s.chats))
	s.chats = make(map[string]*models.Chat)
	s.messages = make(map[string][]*models.Message)
	return chats, messages, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
