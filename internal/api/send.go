package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/ingest"
	"github.io/infrasutra/glassmail/internal/relay"
	"github.io/infrasutra/glassmail/internal/send"
)

// sendRequest is the one-shot send body. To may be a single string, a
// comma separated string or a list.
type sendRequest struct {
	To        ingest.Addresses `json:"to"`
	Subject   string           `json:"subject"`
	HTML      string           `json:"html"`
	FromName  string           `json:"fromName"`
	FromEmail string           `json:"fromEmail"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	recipients, err := s.recipients(payload.To)
	if err != nil {
		s.respondSendError(w, err)
		return
	}
	req := send.Request{
		Recipients:     recipients,
		Subject:        payload.Subject,
		Body:           payload.HTML,
		FromName:       s.fromName(payload.FromName),
		FromAddress:    strings.TrimSpace(payload.FromEmail),
		AccountAddress: email,
		OwnerID:        email,
	}
	if req.FromAddress == "" {
		req.FromAddress = s.senderAddress(email)
	}

	result, err := s.pipeline.Send(r.Context(), req)
	if err != nil {
		s.respondSendError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// recipients flattens the request's To field, drops repeats and rejects any
// entry that is not a bare address.
func (s *Server) recipients(to ingest.Addresses) ([]string, error) {
	tokens := compose.NewRecipients(s.cfg.SuggestionDomains)
	for _, address := range relay.Recipients(strings.Join(to, ",")) {
		if !tokens.Add(address) {
			return nil, &send.ValidationError{Field: "recipients", Message: "Invalid email address: " + address}
		}
	}
	return tokens.Tokens(), nil
}

func (s *Server) fromName(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return s.cfg.DefaultFromName
}

// respondSendError maps pipeline failures: validation 400, relay 502.
func (s *Server) respondSendError(w http.ResponseWriter, err error) {
	var verr *send.ValidationError
	if errors.As(err, &verr) {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
		return
	}
	var relayErr *send.RelayError
	if errors.As(err, &relayErr) {
		s.respondError(w, http.StatusBadGateway, relayErr.Message)
		return
	}
	s.logger.Error("send message", "error", err)
	s.respondError(w, http.StatusInternalServerError, "unable to send message")
}
