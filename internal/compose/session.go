package compose

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("compose session not found")

// Session is the state of one compose window. It is created empty, mutated
// by input events and discarded when the window closes.
type Session struct {
	mu sync.Mutex

	ID          string
	Owner       string
	Recipients  *Recipients
	Format      *Tracker
	Document    *Document
	Subject     string
	Body        string
	FromName    string
	FromAddress string
	CreatedAt   time.Time

	domains []string
}

func NewSession(id, owner string, domains []string, fromName, fromAddress string) *Session {
	s := &Session{
		ID:          id,
		Owner:       owner,
		FromName:    fromName,
		FromAddress: fromAddress,
		CreatedAt:   time.Now(),
		domains:     domains,
	}
	s.Reset()
	return s
}

// Reset clears recipients, subject, body and format state. The sender
// identity is kept.
func (s *Session) Reset() {
	s.Recipients = NewRecipients(s.domains)
	s.Document = NewDocument()
	s.Format = NewTracker(s.Document)
	s.Subject = ""
	s.Body = ""
}

type Snapshot struct {
	ID              string   `json:"id"`
	Recipients      []string `json:"recipients"`
	Input           string   `json:"input"`
	Suggestions     []string `json:"suggestions"`
	SuggestionsOpen bool     `json:"suggestionsOpen"`
	Subject         string   `json:"subject"`
	Body            string   `json:"body"`
	FromName        string   `json:"fromName"`
	FromAddress     string   `json:"fromAddress"`
	Formats         State    `json:"formats"`
	Font            Choice   `json:"font"`
	Size            Choice   `json:"size"`
	Picker          Picker   `json:"picker"`
	Indent          int      `json:"indent"`
}

func (s *Session) Snapshot() Snapshot {
	suggestions := s.Recipients.Suggestions()
	if suggestions == nil {
		suggestions = []string{}
	}
	recipients := s.Recipients.Tokens()
	if recipients == nil {
		recipients = []string{}
	}
	return Snapshot{
		ID:              s.ID,
		Recipients:      recipients,
		Input:           s.Recipients.Input(),
		Suggestions:     suggestions,
		SuggestionsOpen: s.Recipients.SuggestionsOpen(),
		Subject:         s.Subject,
		Body:            s.Body,
		FromName:        s.FromName,
		FromAddress:     s.FromAddress,
		Formats:         s.Format.State(),
		Font:            s.Format.Font(),
		Size:            s.Format.Size(),
		Picker:          s.Format.Picker(),
		Indent:          s.Document.IndentLevel(),
	}
}

const (
	DefaultIdleTTL     = 2 * time.Hour
	DefaultMaxPerOwner = 20
)

// Sessions holds the open compose windows of every account. Windows idle
// for longer than the TTL are dropped, and an account opening more than
// its cap loses its least recently used window.
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	lastUsed    map[string]time.Time
	domains     []string
	idleTTL     time.Duration
	maxPerOwner int
	now         func() time.Time
}

type SessionsOption func(*Sessions)

func WithIdleTTL(ttl time.Duration) SessionsOption {
	return func(r *Sessions) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

func WithMaxPerOwner(limit int) SessionsOption {
	return func(r *Sessions) {
		if limit > 0 {
			r.maxPerOwner = limit
		}
	}
}

func NewSessions(domains []string, opts ...SessionsOption) *Sessions {
	r := &Sessions{
		sessions:    make(map[string]*Session),
		lastUsed:    make(map[string]time.Time),
		domains:     domains,
		idleTTL:     DefaultIdleTTL,
		maxPerOwner: DefaultMaxPerOwner,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Sessions) Open(owner, fromName, fromAddress string) *Session {
	session := NewSession(uuid.NewString(), owner, r.domains, fromName, fromAddress)
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	for r.ownedLocked(owner) >= r.maxPerOwner {
		r.evictOldestLocked(owner)
	}
	session.CreatedAt = now
	r.sessions[session.ID] = session
	r.lastUsed[session.ID] = now
	return session
}

// Do runs fn with the session locked. Sessions of other accounts and
// expired sessions are reported as missing.
func (r *Sessions) Do(owner, id string, fn func(*Session) error) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok && session.Owner == owner {
		now := r.now()
		if r.expiredLocked(id, now) {
			r.deleteLocked(id)
			ok = false
		} else {
			r.lastUsed[id] = now
		}
	}
	r.mu.Unlock()
	if !ok || session.Owner != owner {
		return ErrSessionNotFound
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return fn(session)
}

func (r *Sessions) Close(owner, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.Owner != owner {
		return false
	}
	r.deleteLocked(id)
	return true
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and reports how many went.
func (r *Sessions) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

// Run sweeps on every tick until ctx is done.
func (r *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Sessions) sweepLocked(now time.Time) int {
	removed := 0
	for id := range r.sessions {
		if r.expiredLocked(id, now) {
			r.deleteLocked(id)
			removed++
		}
	}
	return removed
}

func (r *Sessions) expiredLocked(id string, now time.Time) bool {
	return now.Sub(r.lastUsed[id]) > r.idleTTL
}

func (r *Sessions) ownedLocked(owner string) int {
	count := 0
	for _, session := range r.sessions {
		if session.Owner == owner {
			count++
		}
	}
	return count
}

func (r *Sessions) evictOldestLocked(owner string) {
	oldest := ""
	for id, session := range r.sessions {
		if session.Owner != owner {
			continue
		}
		if oldest == "" || r.lastUsed[id].Before(r.lastUsed[oldest]) {
			oldest = id
		}
	}
	if oldest != "" {
		r.deleteLocked(oldest)
	}
}

func (r *Sessions) deleteLocked(id string) {
	delete(r.sessions, id)
	delete(r.lastUsed, id)
}

// RecipientKey applies a key press in the recipient input and reports
// whether the key was consumed.
func (s *Session) RecipientKey(key string) bool {
	switch key {
	case "Enter", " ", "Space":
		s.Recipients.Commit()
		return true
	case "Backspace":
		return s.Recipients.Backspace()
	case "Tab":
		return s.Recipients.Complete()
	}
	return false
}

// EditorKey applies a key press in the editor. Only Tab is handled.
func (s *Session) EditorKey(key string, shift bool) (bool, error) {
	if key != "Tab" {
		return false, nil
	}
	_, err := s.Format.Tab(shift)
	return true, err
}
