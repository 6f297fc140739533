package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/send"
)

func (s *Server) handleComposeOpen(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	session := s.sessions.Open(email, s.cfg.DefaultFromName, s.senderAddress(email))
	var snapshot compose.Snapshot
	_ = s.sessions.Do(email, session.ID, func(session *compose.Session) error {
		snapshot = session.Snapshot()
		return nil
	})
	s.respondJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleComposeGet(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(session *compose.Session) error {
		return nil
	})
}

func (s *Server) handleComposeClose(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	if !s.sessions.Close(email, r.PathValue("id")) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComposeUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Subject  *string `json:"subject"`
		Body     *string `json:"body"`
		FromName *string `json:"fromName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	s.withSession(w, r, func(session *compose.Session) error {
		if payload.Subject != nil {
			session.Subject = *payload.Subject
		}
		if payload.Body != nil {
			session.Body = *payload.Body
		}
		if payload.FromName != nil {
			session.FromName = s.fromName(*payload.FromName)
		}
		return nil
	})
}

func (s *Server) handleComposeInput(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	s.withSession(w, r, func(session *compose.Session) error {
		session.Recipients.InputChanged(payload.Text)
		return nil
	})
}

func (s *Server) handleComposeKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Target string `json:"target"`
		Key    string `json:"key"`
		Shift  bool   `json:"shift"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	s.withSession(w, r, func(session *compose.Session) error {
		switch payload.Target {
		case "", "recipients":
			session.RecipientKey(payload.Key)
			return nil
		case "editor":
			_, err := session.EditorKey(payload.Key, payload.Shift)
			return err
		}
		return badRequest("unknown key target")
	})
}

func (s *Server) handleComposeAddRecipient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	s.withSession(w, r, func(session *compose.Session) error {
		if !session.Recipients.Add(payload.Address) {
			return badRequest("invalid email address")
		}
		return nil
	})
}

func (s *Server) handleComposeRemoveRecipient(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(session *compose.Session) error {
		session.Recipients.Remove(r.PathValue("address"))
		return nil
	})
}

func (s *Server) handleComposeFormat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Command string `json:"command"`
		Value   string `json:"value"`
		Picker  string `json:"picker"`
		Font    string `json:"font"`
		Size    string `json:"size"`
		// Sync carries the formatting the browser reports after the
		// selection moved.
		Sync compose.State `json:"sync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	s.withSession(w, r, func(session *compose.Session) error {
		var err error
		switch {
		case payload.Sync != nil:
			session.Document.Sync(payload.Sync)
			session.Format.Refresh()
			return nil
		case payload.Font != "":
			err = session.Format.SelectFont(payload.Font)
		case payload.Size != "":
			err = session.Format.SelectSize(payload.Size)
		case payload.Command == "" && payload.Picker != "":
			return openPicker(session.Format, compose.Picker(payload.Picker))
		case payload.Command == "" && payload.Picker == "":
			session.Format.OpenPicker(compose.PickerNone)
			session.Format.Refresh()
			return nil
		default:
			_, err = session.Format.Apply(compose.Command(payload.Command), payload.Value)
		}
		if err != nil {
			return badRequest(err.Error())
		}
		return nil
	})
}

func openPicker(tracker *compose.Tracker, picker compose.Picker) error {
	switch picker {
	case compose.PickerFont, compose.PickerSize:
		if tracker.Picker() == picker {
			picker = compose.PickerNone
		}
		tracker.OpenPicker(picker)
		return nil
	}
	return badRequest("unknown picker")
}

func (s *Server) handleComposeSend(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	var (
		result   send.Result
		snapshot compose.Snapshot
	)
	err := s.sessions.Do(email, r.PathValue("id"), func(session *compose.Session) error {
		sent, err := s.pipeline.Send(r.Context(), send.Request{
			Recipients:     session.Recipients.Tokens(),
			Subject:        session.Subject,
			Body:           session.Body,
			FromName:       session.FromName,
			FromAddress:    session.FromAddress,
			AccountAddress: email,
			OwnerID:        email,
		})
		if err != nil {
			return err
		}
		result = sent
		session.Reset()
		snapshot = session.Snapshot()
		return nil
	})
	if err != nil {
		if errors.Is(err, compose.ErrSessionNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.respondSendError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		Result  send.Result      `json:"result"`
		Compose compose.Snapshot `json:"compose"`
	}{result, snapshot})
}

type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(message string) error {
	return &requestError{message: message}
}

// withSession runs fn on the caller's compose session and answers with the
// session snapshot.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*compose.Session) error) {
	email, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	var snapshot compose.Snapshot
	err := s.sessions.Do(email, r.PathValue("id"), func(session *compose.Session) error {
		if err := fn(session); err != nil {
			return err
		}
		snapshot = session.Snapshot()
		return nil
	})
	if err != nil {
		var reqErr *requestError
		switch {
		case errors.Is(err, compose.ErrSessionNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.As(err, &reqErr):
			s.respondError(w, http.StatusBadRequest, reqErr.message)
		default:
			s.logger.Error("compose update", "id", r.PathValue("id"), "error", err)
			s.respondError(w, http.StatusInternalServerError, "unable to update compose session")
		}
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}
