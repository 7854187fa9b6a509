package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type chatRow struct {
	ID           string    `gorm:"column:id;type:text;primaryKey"`
	OwnerID      string    `gorm:"column:owner_id;type:text;not null;index:idx_chats_owner_activity,priority:1"`
	Title        string    `gorm:"column:title;type:text;not null"`
	LastActivity time.Time `gorm:"column:last_activity;not null;index:idx_chats_owner_activity,priority:2"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	Seq       int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID        string    `gorm:"column:id;type:text;not null;uniqueIndex"`
	ChatID    string    `gorm:"column:chat_id;type:text;not null;index:idx_messages_chat_seq"`
	AuthorID  string    `gorm:"column:author_id;type:text;not null"`
	Role      string    `gorm:"column:role;type:text;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (messageRow) TableName() string { return "messages" }

// GormStorage persists chats in SQLite through gorm.
type GormStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSQLiteStorage(dsn string, log *zap.Logger) (*GormStorage, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "nova.db"
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}
	if err := applySQLitePragmas(gdb); err != nil {
		return nil, fmt.Errorf("error applying sqlite pragmas: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids busy errors.
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&chatRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("error migrating sqlite schema: %w", err)
	}
	return &GormStorage{db: gdb, logger: log.Named("sqlite")}, nil
}

func applySQLitePragmas(gdb *gorm.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if err := gdb.Exec(pragma).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStorage) CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error) {
	now := time.Now().UTC()
	row := chatRow{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("error creating chat: %w", err)
	}
	return chatFromRow(row), nil
}

func (s *GormStorage) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var row chatRow
	err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting chat: %w", err)
	}
	return chatFromRow(row), nil
}

func (s *GormStorage) ListChatsByOwner(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	var rows []chatRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_activity DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying chats: %w", err)
	}
	chats := make([]*models.Chat, 0, len(rows))
	for _, r := range rows {
		chats = append(chats, chatFromRow(r))
	}
	return chats, nil
}

func (s *GormStorage) RenameChat(ctx context.Context, chatID, title string) (*models.Chat, error) {
	result := s.db.WithContext(ctx).Model(&chatRow{}).Where("id = ?", chatID).Update("title", title)
	if result.Error != nil {
		return nil, fmt.Errorf("error renaming chat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetChat(ctx, chatID)
}

func (s *GormStorage) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !at.After(chat.LastActivity) {
		return nil
	}
	err = s.db.WithContext(ctx).Model(&chatRow{}).
		Where("id = ?", chatID).
		Update("last_activity", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("error updating chat activity: %w", err)
	}
	return nil
}

func (s *GormStorage) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}
		result := tx.Where("id = ?", chatID).Delete(&chatRow{})
		if result.Error != nil {
			return fmt.Errorf("error deleting chat: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStorage) AppendMessage(ctx context.Context, chatID, authorID string, role models.Role, content string) (*models.Message, error) {
	row := messageRow{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		AuthorID: authorID,
		Role:     string(role),
		Content:  content,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row.CreatedAt = time.Now().UTC()
		var last messageRow
		err := tx.Where("chat_id = ?", chatID).Order("seq DESC").Limit(1).Find(&last).Error
		if err != nil {
			return err
		}
		if last.Seq != 0 && row.CreatedAt.Before(last.CreatedAt) {
			row.CreatedAt = last.CreatedAt
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("error creating message: %w", err)
	}
	return messageFromRow(row), nil
}

func (s *GormStorage) ListMessages(ctx context.Context, chatID string, order Order, limit int) ([]*models.Message, error) {
	// created_at never decreases along seq, so seq alone gives the log order.
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if order == NewestFirst {
		q = q.Order("seq DESC")
	} else {
		q = q.Order("seq ASC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	messages := make([]*models.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, messageFromRow(r))
	}
	return messages, nil
}

func (s *GormStorage) Purge(ctx context.Context) (int64, int64, error) {
	var chats, messages int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&messageRow{})
		if res.Error != nil {
			return res.Error
		}
		messages = res.RowsAffected
		res = tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&chatRow{})
		if res.Error != nil {
			return res.Error
		}
		chats = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("error purging conversations: %w", err)
	}
	return chats, messages, nil
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func chatFromRow(r chatRow) *models.Chat {
	return &models.Chat{
		ID:           r.ID,
		Title:        r.Title,
		OwnerID:      r.OwnerID,
		LastActivity: r.LastActivity,
		CreatedAt:    r.CreatedAt,
	}
}

func messageFromRow(r messageRow) *models.Message {
	return &models.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		AuthorID:  r.AuthorID,
		Role:      models.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
