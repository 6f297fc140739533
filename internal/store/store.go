package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("message not found")

// Mailbox is the append-only message store shared by the send pipeline, the
// inbound webhook and the folder listings.
type Mailbox interface {
	Append(ctx context.Context, message Message) (string, error)
	List(ctx context.Context, folder Folder) ([]Message, error)
	Get(ctx context.Context, id string) (Message, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	UpsertUser(ctx context.Context, email string, now time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects the configured driver and applies its schema.
func Open(ctx context.Context, driver, sqlitePath, postgresURL string) (Mailbox, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		db, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case DriverPostgres:
		db, err := OpenPostgres(ctx, postgresURL)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// prepare assigns the identity fields owned by the store. The id is always
// generated here, whatever the caller supplied.
func prepare(message Message, now time.Time) (Message, error) {
	if _, err := ParseFolder(string(message.Folder)); err != nil {
		return Message{}, err
	}
	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	return message, nil
}
