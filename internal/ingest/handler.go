package ingest

import (
	"errors"
	"io"
	"net/http"
)

const maxPayloadBytes = 10 << 20

// DeliveryHeader carries the provider's id for one webhook delivery.
const DeliveryHeader = "svix-id"

// Handler answers the inbound webhook: 200 "OK" once stored, 400 for a
// payload it cannot use, 500 when the mailbox write fails.
func (i *Ingester) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			http.Error(w, "unable to read body", http.StatusBadRequest)
			return
		}
		payload, err := Decode(data)
		if err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if _, err := i.Ingest(r.Context(), r.Header.Get(DeliveryHeader), payload); err != nil {
			if errors.Is(err, ErrMissingFrom) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Error saving email", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
