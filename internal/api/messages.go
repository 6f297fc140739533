package api

import (
	"errors"
	"net/http"

	"github.io/infrasutra/glassmail/internal/mailbox"
	"github.io/infrasutra/glassmail/internal/pagination"
	"github.io/infrasutra/glassmail/internal/store"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAccount(w, r); !ok {
		return
	}
	query := r.URL.Query()
	name := query.Get("folder")
	if name == "" {
		name = string(store.FolderInbox)
	}
	folder, err := store.ParseFolder(name)
	if err != nil {
		http.Error(w, "invalid folder", http.StatusBadRequest)
		return
	}

	messages, err := s.store.List(r.Context(), folder)
	if err != nil {
		s.logger.Error("list messages", "folder", folder, "error", err)
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}

	page := pagination.Apply(messages, pagination.GetPaginationParams(query))
	response := struct {
		Folder   store.Folder       `json:"folder"`
		Messages []mailbox.ListItem `json:"messages"`
		Page     int32              `json:"page"`
		Limit    int32              `json:"limit"`
		Total    int32              `json:"total"`
		HasNext  bool               `json:"hasNext"`
	}{
		Folder:   folder,
		Messages: mailbox.ProjectAll(page.Items, s.now()),
		Page:     page.Page,
		Limit:    page.Limit,
		Total:    page.Total,
		HasNext:  page.HasNext,
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAccount(w, r); !ok {
		return
	}
	message, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get message", "id", r.PathValue("id"), "error", err)
		http.Error(w, "unable to load message", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, mailbox.ProjectDetail(message, s.now()))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAccount(w, r); !ok {
		return
	}
	updated, err := s.store.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("mark read", "id", r.PathValue("id"), "error", err)
		http.Error(w, "unable to update message", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
