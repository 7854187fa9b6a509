// Package chat implements chat lifecycle operations on behalf of an
// authenticated owner.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/nova/internal/apperr"
	"github.com/xaenox/nova/internal/memory"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/storage"
	"go.uber.org/zap"
)

type Service struct {
	store  storage.Storage
	memory memory.Store
	logger *zap.Logger
}

// NewService builds the chat service. mem may be nil, in which case deleted
// chats keep their memory records.
func NewService(store storage.Storage, mem memory.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		memory: mem,
		logger: logger.Named("chat"),
	}
}

func validChatID(chatID string) bool {
	chatID = strings.TrimSpace(chatID)
	return chatID != "" && chatID != "undefined"
}

func (s *Service) Create(ctx context.Context, ownerID, title string) (*models.Chat, error) {
	if ownerID == "" {
		return nil, apperr.Auth("User not authenticated", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("Title is required")
	}
	chat, err := s.store.CreateChat(ctx, ownerID, title)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.logger.Info("Chat created", zap.String("chat_id", chat.ID), zap.String("owner_id", ownerID))
	return chat, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	chats, err := s.store.ListChatsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// Authorize returns the chat if it exists and belongs to ownerID.
func (s *Service) Authorize(ctx context.Context, ownerID, chatID string) (*models.Chat, error) {
	if !validChatID(chatID) {
		return nil, apperr.Validation("Chat ID is required")
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat.OwnerID != ownerID {
		return nil, apperr.Ownership("Unauthorized: Chat does not belong to this user")
	}
	return chat, nil
}

func (s *Service) Rename(ctx context.Context, ownerID, chatID, title string) (*models.Chat, error) {
	if !validChatID(chatID) {
		return nil, apperr.Validation("Chat ID is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("Chat title is required")
	}
	if _, err := s.Authorize(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	chat, err := s.store.RenameChat(ctx, chatID, title)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	return chat, nil
}

// Delete removes the chat with its messages, then its memory records.
// Memory cleanup is best-effort and never fails the deletion.
func (s *Service) Delete(ctx context.Context, ownerID, chatID string) error {
	if _, err := s.Authorize(ctx, ownerID, chatID); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("Chat not found")
		}
		return fmt.Errorf("delete chat: %w", err)
	}
	if s.memory != nil {
		if err := s.memory.ForgetChat(ctx, chatID); err != nil {
			s.logger.Warn("Failed to forget chat memories",
				zap.String("chat_id", chatID),
				zap.Error(err))
		}
	}
	s.logger.Info("Chat deleted", zap.String("chat_id", chatID))
	return nil
}

// Messages returns the chat's full log, oldest first.
func (s *Service) Messages(ctx context.Context, ownerID, chatID string) ([]*models.Message, error) {
	if _, err := s.Authorize(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID, storage.OldestFirst, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
