// Package ingest stores mail delivered by the provider's inbound webhook.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/glassmail/internal/header"
	"github.io/infrasutra/glassmail/internal/metrics"
	"github.io/infrasutra/glassmail/internal/store"
)

const noContent = "(No content)"

var (
	ErrMissingFrom = errors.New("payload is missing from")
	ErrMalformed   = errors.New("payload is not a JSON object")
)

// Addresses accepts either a single address string or a list of them.
type Addresses []string

func (a *Addresses) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*a = Addresses{single}
	return nil
}

// Joined is the flat ", " separated form stored on a message.
func (a Addresses) Joined() string {
	return strings.Join(a, ", ")
}

type Payload struct {
	From    string    `json:"from"`
	To      Addresses `json:"to"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html"`
	Text    string    `json:"text"`
}

// Decode reads either the flat payload or the provider's
// {"type": ..., "data": {...}} envelope.
func Decode(data []byte) (Payload, error) {
	var envelope struct {
		Payload
		Type string           `json:"type"`
		Data *json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Data != nil && envelope.From == "" {
		var inner Payload
		if err := json.Unmarshal(*envelope.Data, &inner); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return inner, nil
	}
	return envelope.Payload, nil
}

type Appender interface {
	Append(ctx context.Context, message store.Message) (string, error)
}

type Notifier interface {
	MailboxChanged(account string, folders ...store.Folder)
}

// Deduper claims delivery ids. A claim is released with Forget when the
// delivery could not be stored, so the provider's retry is accepted.
type Deduper interface {
	IsNew(ctx context.Context, deliveryID string) (bool, error)
	Forget(ctx context.Context, deliveryID string) error
}

type Outcome struct {
	ID        string
	Duplicate bool
}

type Ingester struct {
	mailbox  Appender
	notifier Notifier
	dedup    Deduper
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Ingester)

func WithNotifier(n Notifier) Option {
	return func(i *Ingester) { i.notifier = n }
}

func WithDeduper(d Deduper) Option {
	return func(i *Ingester) { i.dedup = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingester) { i.metrics = m }
}

func New(mailbox Appender, logger *slog.Logger, opts ...Option) *Ingester {
	i := &Ingester{mailbox: mailbox, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Message maps a payload onto an unread inbox record.
func Message(p Payload) (store.Message, error) {
	if strings.TrimSpace(p.From) == "" {
		return store.Message{}, ErrMissingFrom
	}
	name, address := header.ParseFrom(p.From)
	body := p.HTML
	if body == "" {
		body = p.Text
	}
	if body == "" {
		body = noContent
	}
	return store.Message{
		SenderName:    name,
		SenderAddress: address,
		Recipients:    p.To.Joined(),
		Subject:       p.Subject,
		Body:          body,
		Folder:        store.FolderInbox,
		IsRead:        false,
	}, nil
}

// Ingest stores one delivery. An empty deliveryID skips de-duplication, and
// so does a de-duplication backend that cannot be reached.
func (i *Ingester) Ingest(ctx context.Context, deliveryID string, p Payload) (Outcome, error) {
	message, err := Message(p)
	if err != nil {
		i.metrics.Ingested("rejected")
		return Outcome{}, err
	}

	claimed := false
	if i.dedup != nil && deliveryID != "" {
		fresh, err := i.dedup.IsNew(ctx, deliveryID)
		switch {
		case err != nil:
			i.logger.Warn("dedup check failed", "delivery_id", deliveryID, "error", err)
		case fresh:
			claimed = true
		default:
			i.metrics.Ingested("duplicate")
			i.logger.Info("duplicate delivery skipped", "delivery_id", deliveryID)
			return Outcome{Duplicate: true}, nil
		}
	}

	id, err := i.mailbox.Append(ctx, message)
	if err != nil {
		i.metrics.Ingested("failed")
		i.metrics.PersistFailed("inbound")
		i.logger.Error("store inbound message", "from", message.SenderAddress, "error", err)
		if claimed {
			if ferr := i.dedup.Forget(ctx, deliveryID); ferr != nil {
				i.logger.Warn("release dedup claim", "delivery_id", deliveryID, "error", ferr)
			}
		}
		return Outcome{}, fmt.Errorf("store inbound message: %w", err)
	}
	i.metrics.Ingested("accepted")

	if i.notifier != nil {
		for _, recipient := range p.To {
			recipient = strings.TrimSpace(recipient)
			if recipient == "" {
				continue
			}
			_, account := header.ParseFrom(recipient)
			i.notifier.MailboxChanged(account, store.FolderInbox)
		}
	}
	i.logger.Info("inbound message stored", "id", id, "from", message.SenderAddress, "to", message.Recipients)
	return Outcome{ID: id}, nil
}
