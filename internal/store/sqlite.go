package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

type messageRow struct {
	ID            string `db:"id"`
	SenderName    string `db:"sender_name"`
	SenderAddress string `db:"sender_address"`
	Recipients    string `db:"recipients"`
	Subject       string `db:"subject"`
	Body          string `db:"body"`
	Folder        string `db:"folder"`
	IsRead        bool   `db:"is_read"`
	CreatedAt     int64  `db:"created_at"`
	OwnerID       string `db:"owner_id"`
}

func (r messageRow) message() Message {
	return Message{
		ID:            r.ID,
		SenderName:    r.SenderName,
		SenderAddress: r.SenderAddress,
		Recipients:    r.Recipients,
		Subject:       r.Subject,
		Body:          r.Body,
		Folder:        Folder(r.Folder),
		IsRead:        r.IsRead,
		CreatedAt:     time.UnixMilli(r.CreatedAt),
		OwnerID:       r.OwnerID,
	}
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            email TEXT PRIMARY KEY,
            created_at INTEGER NOT NULL,
            last_login INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            sender_name TEXT NOT NULL,
            sender_address TEXT NOT NULL,
            recipients TEXT NOT NULL,
            subject TEXT NOT NULL,
            body TEXT NOT NULL,
            folder TEXT NOT NULL,
            is_read INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            owner_id TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_folder_created ON messages(folder, created_at, id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, email string, now time.Time) error {
	query := `INSERT INTO users (email, created_at, last_login)
        VALUES (?, ?, ?)
        ON CONFLICT(email) DO UPDATE SET last_login = excluded.last_login;`
	_, err := s.db.ExecContext(ctx, query, email, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, message Message) (string, error) {
	message, err := prepare(message, s.now())
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO messages
        (id, sender_name, sender_address, recipients, subject, body, folder, is_read, created_at, owner_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		message.ID,
		message.SenderName,
		message.SenderAddress,
		message.Recipients,
		message.Subject,
		message.Body,
		string(message.Folder),
		message.IsRead,
		message.CreatedAt.UnixMilli(),
		message.OwnerID,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return message.ID, nil
}

func (s *SQLiteStore) List(ctx context.Context, folder Folder) ([]Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, sender_name, sender_address, recipients, subject, body, folder, is_read, created_at, owner_id
        FROM messages
        WHERE folder = ?
        ORDER BY created_at DESC, id DESC;`, string(folder))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.message())
	}
	return messages, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT id, sender_name, sender_address, recipients, subject, body, folder, is_read, created_at, owner_id
        FROM messages WHERE id = ?;`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return row.message(), nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?;`, id)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return rows > 0, nil
}
