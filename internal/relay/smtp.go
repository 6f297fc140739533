package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTP hands mail to a submission server, typically a local catcher during
// development.
type SMTP struct {
	addr        string
	username    string
	password    string
	fromAddress string
	logger      *slog.Logger
}

func NewSMTP(addr, username, password, fromAddress string, logger *slog.Logger) *SMTP {
	return &SMTP{
		addr:        addr,
		username:    username,
		password:    password,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *SMTP) SendMail(ctx context.Context, m Mail) (Result, error) {
	m, err := withDefaults(m, s.fromAddress)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	id := uuid.NewString() + "@glassmail"
	raw, err := buildMessage(m, id, time.Now())
	if err != nil {
		return Result{}, err
	}

	client, err := smtp.Dial(s.addr)
	if err != nil {
		return Result{}, &Error{Status: 502, Message: fmt.Sprintf("connect smtp relay: %v", err)}
	}
	defer client.Close()
	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
				return Result{}, smtpError(err)
			}
		}
	}
	if err := client.Mail(m.FromAddress, nil); err != nil {
		return Result{}, smtpError(err)
	}
	for _, rcpt := range Recipients(m.To) {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return Result{}, smtpError(err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return Result{}, smtpError(err)
	}
	if _, err := w.Write(raw); err != nil {
		return Result{}, smtpError(err)
	}
	if err := w.Close(); err != nil {
		return Result{}, smtpError(err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp relay quit", "error", err)
	}
	return Result{ID: id}, nil
}

func smtpError(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &Error{Status: smtpErr.Code, Message: smtpErr.Message}
	}
	return &Error{Status: 502, Message: err.Error()}
}

func buildMessage(m Mail, id string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(m.Subject)
	h.SetMessageID(id)
	h.SetAddressList("From", []*mail.Address{{Name: sanitizeHeader(m.FromName), Address: sanitizeHeader(m.FromAddress)}})
	var to []*mail.Address
	for _, address := range Recipients(m.To) {
		to = append(to, &mail.Address{Address: sanitizeHeader(address)})
	}
	h.SetAddressList("To", to)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(m.HTML)); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
