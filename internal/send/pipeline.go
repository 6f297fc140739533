// Package send delivers a composed message through the relay and records it
// in the mailbox.
//
// Delivery and bookkeeping are not atomic. A relay failure persists nothing
// and is returned to the caller. Once the relay has accepted the message the
// send counts as successful: failed mailbox writes are logged and dropped,
// and the listing catches up on its next refresh.
package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/metrics"
	"github.io/infrasutra/glassmail/internal/relay"
	"github.io/infrasutra/glassmail/internal/store"
)

// ValidationError refuses a send before anything is dispatched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RelayError carries the relay's reported reason verbatim.
type RelayError struct {
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}

type Appender interface {
	Append(ctx context.Context, message store.Message) (string, error)
}

// Notifier is told which folders of an account may have changed.
type Notifier interface {
	MailboxChanged(account string, folders ...store.Folder)
}

type Request struct {
	Recipients  []string
	Subject     string
	Body        string
	FromName    string
	FromAddress string
	// AccountAddress is the signed-in account, checked by the loopback rule
	// alongside FromAddress.
	AccountAddress string
	OwnerID        string
}

type Result struct {
	RelayID    string `json:"relayId"`
	SentID     string `json:"sentId,omitempty"`
	InboxID    string `json:"inboxId,omitempty"`
	Loopback   bool   `json:"loopback"`
	Persisted  bool   `json:"persisted"`
	Recipients string `json:"recipients"`
}

type Pipeline struct {
	relay    relay.Relay
	mailbox  Appender
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Pipeline)

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func New(r relay.Relay, mailbox Appender, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{relay: r, mailbox: mailbox, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks, in order, recipients (present and each a bare
// local@domain.tld address), subject and body.
func Validate(req Request) error {
	if len(req.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Message: "Please add at least one recipient"}
	}
	for _, recipient := range req.Recipients {
		if !compose.ValidAddress(recipient) {
			return &ValidationError{Field: "recipients", Message: fmt.Sprintf("Invalid email address: %s", recipient)}
		}
	}
	if strings.TrimSpace(req.Subject) == "" {
		return &ValidationError{Field: "subject", Message: "Please add a subject"}
	}
	if strings.TrimSpace(req.Body) == "" {
		return &ValidationError{Field: "body", Message: "Please add a message body"}
	}
	return nil
}

func (p *Pipeline) Send(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			p.metrics.SendRejected(verr.Field)
		}
		return Result{}, err
	}

	to := strings.Join(req.Recipients, ", ")
	sent, err := p.relay.SendMail(ctx, relay.Mail{
		To:          to,
		Subject:     req.Subject,
		HTML:        req.Body,
		FromName:    req.FromName,
		FromAddress: req.FromAddress,
	})
	if err != nil {
		p.metrics.RelayDispatched(false)
		p.logger.Warn("relay send failed", "to", to, "error", err)
		var relayErr *relay.Error
		if errors.As(err, &relayErr) {
			return Result{}, &RelayError{Status: relayErr.Status, Message: relayErr.Message}
		}
		return Result{}, &RelayError{Message: err.Error()}
	}
	p.metrics.RelayDispatched(true)

	result := Result{RelayID: sent.ID, Recipients: to, Persisted: true}
	record := store.Message{
		SenderName:    req.FromName,
		SenderAddress: req.FromAddress,
		Recipients:    to,
		Subject:       req.Subject,
		Body:          req.Body,
		OwnerID:       req.OwnerID,
	}

	sentRecord := record
	sentRecord.Folder = store.FolderSent
	sentRecord.IsRead = true
	if id, err := p.mailbox.Append(ctx, sentRecord); err != nil {
		result.Persisted = false
		p.metrics.PersistFailed("sent")
		p.logger.Error("store sent message", "relay_id", sent.ID, "error", err)
	} else {
		result.SentID = id
	}

	changed := []store.Folder{store.FolderSent}
	if isLoopback(req) {
		result.Loopback = true
		changed = append(changed, store.FolderInbox)
		inboxRecord := record
		inboxRecord.Folder = store.FolderInbox
		inboxRecord.IsRead = false
		if id, err := p.mailbox.Append(ctx, inboxRecord); err != nil {
			result.Persisted = false
			p.metrics.PersistFailed("loopback")
			p.logger.Error("store loopback message", "relay_id", sent.ID, "error", err)
		} else {
			result.InboxID = id
		}
	}

	if p.notifier != nil {
		p.notifier.MailboxChanged(req.AccountAddress, changed...)
	}
	p.logger.Info("message sent",
		"relay_id", sent.ID,
		"recipients", len(req.Recipients),
		"loopback", result.Loopback,
		"persisted", result.Persisted,
	)
	return result, nil
}

// isLoopback reports whether any recipient is the sender or the signed-in
// account, ignoring case.
func isLoopback(req Request) bool {
	for _, recipient := range req.Recipients {
		if req.FromAddress != "" && strings.EqualFold(recipient, req.FromAddress) {
			return true
		}
		if req.AccountAddress != "" && strings.EqualFold(recipient, req.AccountAddress) {
			return true
		}
	}
	return false
}
