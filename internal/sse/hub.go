// Package sse fans mailbox change events out to the browser tabs of an
// account.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.io/infrasutra/glassmail/internal/store"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{}), now: time.Now}
}

func accountKey(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// Subscribe registers a listener for account. The returned func unregisters
// it and closes the channel.
func (h *Hub) Subscribe(account string) (chan []byte, func()) {
	key := accountKey(account)
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[chan []byte]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[key]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, key)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers(account string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountKey(account)])
}

// Broadcast delivers payload to every listener of the given accounts. Slow
// listeners miss the event rather than block the sender.
func (h *Hub) Broadcast(accounts []string, payload []byte) {
	if len(accounts) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, account := range accounts {
		key := accountKey(account)
		if key == "" {
			continue
		}
		unique[key] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for key := range unique {
		for ch := range h.subs[key] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// MailboxChanged tells the account's listeners to refresh the given folders.
func (h *Hub) MailboxChanged(account string, folders ...store.Folder) {
	if accountKey(account) == "" || len(folders) == 0 {
		return
	}
	h.Broadcast([]string{account}, buildEvent(folders, h.now()))
}

func buildEvent(folders []store.Folder, at time.Time) []byte {
	names := make([]string, 0, len(folders))
	for _, folder := range folders {
		names = append(names, string(folder))
	}
	payload := map[string]any{
		"folders": names,
		"at":      at.UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: mailbox\ndata: %s\n\n", data))
}
