package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DefaultResendBaseURL = "https://api.resend.com"

// Resend sends mail through the Resend HTTP API.
type Resend struct {
	apiKey      string
	baseURL     string
	fromAddress string
	client      *http.Client
	logger      *slog.Logger
}

func NewResend(apiKey, baseURL, fromAddress string, logger *slog.Logger) *Resend {
	if baseURL == "" {
		baseURL = DefaultResendBaseURL
	}
	return &Resend{
		apiKey:      apiKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		fromAddress: fromAddress,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (r *Resend) SendMail(ctx context.Context, mail Mail) (Result, error) {
	mail, err := withDefaults(mail, r.fromAddress)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(resendRequest{
		From:    fromHeader(mail),
		To:      mail.To,
		Subject: mail.Subject,
		HTML:    mail.HTML,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, &Error{Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &Error{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := providerMessage(data)
		r.logger.Warn("resend rejected mail", "status", resp.StatusCode, "error", message)
		return Result{}, &Error{Status: resp.StatusCode, Message: message}
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		r.logger.Warn("decode resend response", "error", err)
	}
	return result, nil
}

// providerMessage pulls the human readable reason out of an error body:
// {"message": ...}, {"error": {"message": ...}} or {"error": "..."}.
func providerMessage(data []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
		return defaultFailureReason
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var text string
		if err := json.Unmarshal(payload.Error, &text); err == nil && text != "" {
			return text
		}
	}
	return defaultFailureReason
}
