// Package relay delivers outbound mail through an external provider.
package relay

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultFromName      = "Glass Mail"
	defaultFailureReason = "Failed to send message"
)

// Mail is the single request shape every relay accepts. To is the flat
// ", " joined recipient list.
type Mail struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	FromName    string `json:"fromName"`
	FromAddress string `json:"fromEmail"`
}

type Result struct {
	ID string `json:"id"`
}

type Relay interface {
	SendMail(ctx context.Context, mail Mail) (Result, error)
}

// Error is a delivery refused or failed by the provider. Message is what the
// provider reported and is shown to the user unchanged.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Recipients splits a flat recipient string back into addresses.
func Recipients(to string) []string {
	parts := strings.Split(to, ",")
	addresses := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			addresses = append(addresses, trimmed)
		}
	}
	return addresses
}

func withDefaults(mail Mail, fallbackAddress string) (Mail, error) {
	if strings.TrimSpace(mail.To) == "" || strings.TrimSpace(mail.Subject) == "" || strings.TrimSpace(mail.HTML) == "" {
		return mail, &Error{Status: 400, Message: "Missing required fields"}
	}
	if strings.TrimSpace(mail.FromName) == "" {
		mail.FromName = DefaultFromName
	}
	if strings.TrimSpace(mail.FromAddress) == "" {
		mail.FromAddress = fallbackAddress
	}
	if mail.FromAddress == "" {
		return mail, &Error{Status: 400, Message: "sender address is not configured"}
	}
	return mail, nil
}

func fromHeader(mail Mail) string {
	return fmt.Sprintf("%s <%s>", sanitizeHeader(mail.FromName), sanitizeHeader(mail.FromAddress))
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
