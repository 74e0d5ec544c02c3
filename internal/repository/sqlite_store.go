package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatbot-api/internal/domain"
)

const chatsSchema = `CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	messages TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore keeps chats in a single SQLite table for local runs.
// Messages are stored as a JSON document per chat, mirroring the DynamoDB item.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: sqlite dsn must not be empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.Exec(chatsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateChat inserts a new chat row.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return errors.New("repository: CreateChat: id is required")
	}
	msgs, err := encodeMessages(chat.Messages)
	if err != nil {
		return fmt.Errorf("repository: CreateChat: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at, messages, version) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.Title, formatTime(chat.CreatedAt), formatTime(chat.UpdatedAt), msgs, chat.Version,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("repository: CreateChat %q: %w", chat.ID, domain.ErrChatExists)
		}
		return fmt.Errorf("repository: CreateChat: %w", err)
	}
	return nil
}

// GetChat loads a chat row.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, messages, version FROM chats WHERE id = ?`, chatID)

	var (
		chat             domain.Chat
		created, updated string
		rawMessages      string
	)
	err := row.Scan(&chat.ID, &chat.Title, &created, &updated, &rawMessages, &chat.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chat{}, fmt.Errorf("repository: GetChat %q: %w", chatID, domain.ErrChatNotFound)
	}
	if err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat query: %w", err)
	}

	if chat.CreatedAt, err = parseTime(created); err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat unmarshal created_at: %w", err)
	}
	if chat.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat unmarshal updated_at: %w", err)
	}
	if chat.Messages, err = decodeMessages(rawMessages); err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat unmarshal messages: %w", err)
	}
	return chat, nil
}

// ListChats returns the summary of every row.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at, updated_at FROM chats`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListChats query: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.ChatSummary, 0)
	for rows.Next() {
		var (
			summary          domain.ChatSummary
			created, updated string
		)
		if err := rows.Scan(&summary.ID, &summary.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("repository: ListChats scan: %w", err)
		}
		if summary.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("repository: ListChats unmarshal created_at: %w", err)
		}
		if summary.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("repository: ListChats unmarshal updated_at: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListChats rows: %w", err)
	}
	return summaries, nil
}

// UpdateChat overwrites a chat row if its version still equals chat.Version.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return errors.New("repository: UpdateChat: id is required")
	}
	msgs, err := encodeMessages(chat.Messages)
	if err != nil {
		return fmt.Errorf("repository: UpdateChat: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, created_at = ?, updated_at = ?, messages = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		chat.Title, formatTime(chat.CreatedAt), formatTime(chat.UpdatedAt), msgs, chat.ID, chat.Version,
	)
	if err != nil {
		return fmt.Errorf("repository: UpdateChat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: UpdateChat rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: UpdateChat %q: %w", chat.ID, domain.ErrVersionConflict)
	}
	return nil
}

func encodeMessages(msgs []domain.Message) (string, error) {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	buf, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}
	return string(buf), nil
}

func decodeMessages(raw string) ([]domain.Message, error) {
	msgs := []domain.Message{}
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, err
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	return msgs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
