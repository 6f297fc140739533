package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.io/infrasutra/glassmail/internal/store"
)

type fakeMailbox struct {
	messages []store.Message
	err      error
	// failures makes that many leading Append calls fail
	failures int
}

func (f *fakeMailbox) Append(_ context.Context, message store.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.failures > 0 {
		f.failures--
		return "", errors.New("db down")
	}
	f.messages = append(f.messages, message)
	return "msg-1", nil
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) IsNew(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeDeduper) Forget(_ context.Context, id string) error {
	delete(f.seen, id)
	return nil
}

type recordingNotifier struct {
	accounts []string
}

func (r *recordingNotifier) MailboxChanged(account string, _ ...store.Folder) {
	r.accounts = append(r.accounts, account)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantTo  string
		wantErr bool
	}{
		{name: "single to", body: `{"from":"a@x.com","to":"me@x.com","subject":"s"}`, wantTo: "me@x.com"},
		{name: "list to", body: `{"from":"a@x.com","to":["me@x.com","you@x.com"]}`, wantTo: "me@x.com, you@x.com"},
		{name: "envelope", body: `{"type":"email.received","data":{"from":"a@x.com","to":["me@x.com"]}}`, wantTo: "me@x.com"},
		{name: "null to", body: `{"from":"a@x.com","to":null}`, wantTo: ""},
		{name: "not json", body: `nope`, wantErr: true},
		{name: "bad to", body: `{"from":"a@x.com","to":5}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.From != "a@x.com" || p.To.Joined() != tt.wantTo {
				t.Errorf("payload = %+v", p)
			}
		})
	}
}

func TestMessageMapping(t *testing.T) {
	tests := []struct {
		name     string
		payload  Payload
		wantName string
		wantAddr string
		wantBody string
	}{
		{
			name:     "display name and html",
			payload:  Payload{From: `"Jane Doe" <jane@x.com>`, HTML: "<p>hi</p>", Text: "hi"},
			wantName: "Jane Doe", wantAddr: "jane@x.com", wantBody: "<p>hi</p>",
		},
		{
			name:     "bare address and text",
			payload:  Payload{From: "bob@x.com", Text: "plain"},
			wantName: "bob", wantAddr: "bob@x.com", wantBody: "plain",
		},
		{
			name:     "no body",
			payload:  Payload{From: "bob@x.com"},
			wantName: "bob", wantAddr: "bob@x.com", wantBody: "(No content)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Message(tt.payload)
			if err != nil {
				t.Fatalf("message: %v", err)
			}
			if m.SenderName != tt.wantName || m.SenderAddress != tt.wantAddr || m.Body != tt.wantBody {
				t.Errorf("message = %+v", m)
			}
			if m.Folder != store.FolderInbox || m.IsRead {
				t.Errorf("folder/isRead = %s/%v", m.Folder, m.IsRead)
			}
		})
	}

	if _, err := Message(Payload{To: Addresses{"me@x.com"}}); !errors.Is(err, ErrMissingFrom) {
		t.Fatalf("err = %v, want ErrMissingFrom", err)
	}
}

func TestIngestNotifiesRecipients(t *testing.T) {
	mb := &fakeMailbox{}
	n := &recordingNotifier{}
	ing := New(mb, discardLogger(), WithNotifier(n))

	out, err := ing.Ingest(context.Background(), "", Payload{From: "a@x.com", To: Addresses{"me@x.com", " you@x.com"}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if out.ID != "msg-1" || len(mb.messages) != 1 {
		t.Fatalf("outcome = %+v, stored = %d", out, len(mb.messages))
	}
	if len(n.accounts) != 2 || n.accounts[1] != "you@x.com" {
		t.Errorf("notified = %v", n.accounts)
	}
}

func TestIngestPersistenceFailure(t *testing.T) {
	ing := New(&fakeMailbox{err: errors.New("disk full")}, discardLogger())
	if _, err := ing.Ingest(context.Background(), "", Payload{From: "a@x.com"}); err == nil {
		t.Fatal("expected rejection")
	}
}

func TestIngestDeduplicates(t *testing.T) {
	mb := &fakeMailbox{}
	ing := New(mb, discardLogger(), WithDeduper(&fakeDeduper{seen: map[string]bool{}}))
	p := Payload{From: "a@x.com", To: Addresses{"me@x.com"}}

	if _, err := ing.Ingest(context.Background(), "msg_1", p); err != nil {
		t.Fatalf("first: %v", err)
	}
	out, err := ing.Ingest(context.Background(), "msg_1", p)
	if err != nil || !out.Duplicate {
		t.Fatalf("second = %+v, %v; want duplicate", out, err)
	}
	if _, err := ing.Ingest(context.Background(), "", p); err != nil {
		t.Fatalf("no id: %v", err)
	}
	if len(mb.messages) != 2 {
		t.Fatalf("stored = %d, want 2", len(mb.messages))
	}
}

func TestIngestRetryAfterFailedStore(t *testing.T) {
	mb := &fakeMailbox{failures: 1}
	ing := New(mb, discardLogger(), WithDeduper(&fakeDeduper{seen: map[string]bool{}}))
	p := Payload{From: "a@x.com", To: Addresses{"me@x.com"}}

	if _, err := ing.Ingest(context.Background(), "msg_1", p); err == nil {
		t.Fatal("first delivery should be rejected")
	}
	out, err := ing.Ingest(context.Background(), "msg_1", p)
	if err != nil || out.Duplicate || out.ID == "" {
		t.Fatalf("retry = %+v, %v; want stored", out, err)
	}
	if len(mb.messages) != 1 {
		t.Fatalf("stored = %d, want 1", len(mb.messages))
	}
	out, err = ing.Ingest(context.Background(), "msg_1", p)
	if err != nil || !out.Duplicate {
		t.Fatalf("third = %+v, %v; want duplicate", out, err)
	}
}

func TestIngestNotifiesBareAddresses(t *testing.T) {
	n := &recordingNotifier{}
	ing := New(&fakeMailbox{}, discardLogger(), WithNotifier(n))

	p := Payload{From: "a@x.com", To: Addresses{"Me Myself <me@x.com>", "you@x.com", " "}}
	if _, err := ing.Ingest(context.Background(), "", p); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(n.accounts) != 2 || n.accounts[0] != "me@x.com" || n.accounts[1] != "you@x.com" {
		t.Fatalf("notified = %q", n.accounts)
	}
}

func TestIngestProceedsWhenDedupUnavailable(t *testing.T) {
	mb := &fakeMailbox{}
	ing := New(mb, discardLogger(), WithDeduper(&fakeDeduper{err: errors.New("connection refused")}))
	if _, err := ing.Ingest(context.Background(), "msg_1", Payload{From: "a@x.com"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(mb.messages) != 1 {
		t.Fatalf("stored = %d, want 1", len(mb.messages))
	}
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		mailboxErr error
		wantStatus int
		wantBody   string
	}{
		{name: "stored", method: http.MethodPost, body: `{"from":"a@x.com","to":"me@x.com","subject":"hi","text":"yo"}`, wantStatus: http.StatusOK, wantBody: "OK"},
		{name: "missing from", method: http.MethodPost, body: `{"to":"me@x.com"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", method: http.MethodPost, body: `{`, wantStatus: http.StatusBadRequest},
		{name: "store down", method: http.MethodPost, body: `{"from":"a@x.com"}`, mailboxErr: errors.New("down"), wantStatus: http.StatusInternalServerError, wantBody: "Error saving email\n"},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := New(&fakeMailbox{err: tt.mailboxErr}, discardLogger())
			req := httptest.NewRequest(tt.method, "/webhooks/incoming", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			ing.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandlerStoresIntoSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	ing := New(db, discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/incoming",
		strings.NewReader(`{"from":"\"Jane Doe\" <jane@x.com>","to":["me@x.com","you@x.com"],"subject":"hi","html":"<b>x</b>"}`))
	rec := httptest.NewRecorder()
	ing.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	inbox, err := db.List(ctx, store.FolderInbox)
	if err != nil || len(inbox) != 1 {
		t.Fatalf("inbox = %v, %v", inbox, err)
	}
	got := inbox[0]
	if got.SenderName != "Jane Doe" || got.SenderAddress != "jane@x.com" || got.Recipients != "me@x.com, you@x.com" || got.IsRead {
		t.Errorf("stored = %+v", got)
	}
}
