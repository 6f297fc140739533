package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the mailbox in a hosted Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("open postgres: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			email      TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			last_login TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS emails (
			id             TEXT PRIMARY KEY,
			sender_name    TEXT NOT NULL,
			sender_email   TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			subject        TEXT NOT NULL,
			body           TEXT NOT NULL,
			folder         TEXT NOT NULL,
			is_read        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL,
			user_id        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_emails_folder_created ON emails(folder, created_at DESC, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, email string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (email, created_at, last_login)
		VALUES ($1, $2, $2)
		ON CONFLICT (email) DO UPDATE SET last_login = EXCLUDED.last_login
	`, email, now.UTC())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, message Message) (string, error) {
	message, err := prepare(message, s.now())
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO emails
			(id, sender_name, sender_email, recipient_email, subject, body, folder, is_read, created_at, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		message.ID,
		message.SenderName,
		message.SenderAddress,
		message.Recipients,
		message.Subject,
		message.Body,
		string(message.Folder),
		message.IsRead,
		message.CreatedAt.UTC(),
		message.OwnerID,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return message.ID, nil
}

func (s *PostgresStore) List(ctx context.Context, folder Folder) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_name, sender_email, recipient_email, subject, body, folder, is_read, created_at, user_id
		FROM emails
		WHERE folder = $1
		ORDER BY created_at DESC, id DESC
	`, string(folder))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		message, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sender_name, sender_email, recipient_email, subject, body, folder, is_read, created_at, user_id
		FROM emails WHERE id = $1
	`, id)
	message, err := scanPostgresMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE emails SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPostgresMessage(row pgx.Row) (Message, error) {
	var message Message
	var folder string
	err := row.Scan(
		&message.ID,
		&message.SenderName,
		&message.SenderAddress,
		&message.Recipients,
		&message.Subject,
		&message.Body,
		&folder,
		&message.IsRead,
		&message.CreatedAt,
		&message.OwnerID,
	)
	message.Folder = Folder(folder)
	return message, err
}
