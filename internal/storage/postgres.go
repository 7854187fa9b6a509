package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger.Named("postgres")}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	storage.logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error) {
	query := `
		INSERT INTO chats (id, owner_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, title, last_activity, created_at`

	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), ownerID, title).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.LastActivity, &chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating chat: %w", err)
	}
	return chat, nil
}

func (s *PostgresStorage) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `
		SELECT id, owner_id, title, last_activity, created_at
		FROM chats
		WHERE id = $1`

	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, query, chatID).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.LastActivity, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting chat: %w", err)
	}
	return chat, nil
}

func (s *PostgresStorage) ListChatsByOwner(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	query := `
		SELECT id, owner_id, title, last_activity, created_at
		FROM chats
		WHERE owner_id = $1
		ORDER BY last_activity DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error querying chats: %w", err)
	}
	defer rows.Close()

	chats := []*models.Chat{}
	for rows.Next() {
		chat := &models.Chat{}
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.LastActivity, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *PostgresStorage) RenameChat(ctx context.Context, chatID, title string) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET title = $1
		WHERE id = $2
		RETURNING id, owner_id, title, last_activity, created_at`

	chat := &models.Chat{}
	err := s.db.QueryRowContext(ctx, query, title, chatID).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.LastActivity, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error renaming chat: %w", err)
	}
	return chat, nil
}

func (s *PostgresStorage) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	query := `
		UPDATE chats
		SET last_activity = GREATEST(last_activity, $1)
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, at, chatID)
	if err != nil {
		return fmt.Errorf("error updating chat activity: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("error deleting messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("error deleting chat: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, chatID, authorID string, role models.Role, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (id, chat_id, author_id, role, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	msg := &models.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		AuthorID: authorID,
		Role:     role,
		Content:  content,
	}
	err := s.db.QueryRowContext(ctx, query, msg.ID, chatID, authorID, string(role), content).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStorage) ListMessages(ctx context.Context, chatID string, order Order, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, chat_id, author_id, role, content, created_at
		FROM messages
		WHERE chat_id = $1`
	if order == NewestFirst {
		query += ` ORDER BY created_at DESC, seq DESC`
	} else {
		query += ` ORDER BY created_at ASC, seq ASC`
	}
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var role string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.AuthorID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) Purge(ctx context.Context) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	msgResult, err := tx.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, 0, fmt.Errorf("error deleting messages: %w", err)
	}
	chatResult, err := tx.ExecContext(ctx, `DELETE FROM chats`)
	if err != nil {
		return 0, 0, fmt.Errorf("error deleting chats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	messages, _ := msgResult.RowsAffected()
	chats, _ := chatResult.RowsAffected()
	return chats, messages, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
