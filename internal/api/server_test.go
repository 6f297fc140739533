package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.io/infrasutra/glassmail/internal/auth"
	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/config"
	"github.io/infrasutra/glassmail/internal/ingest"
	"github.io/infrasutra/glassmail/internal/metrics"
	"github.io/infrasutra/glassmail/internal/relay"
	"github.io/infrasutra/glassmail/internal/send"
	"github.io/infrasutra/glassmail/internal/sse"
	"github.io/infrasutra/glassmail/internal/store"
)

type fakeRelay struct {
	mu    sync.Mutex
	calls []relay.Mail
	err   error
}

func (f *fakeRelay) SendMail(_ context.Context, mail relay.Mail) (relay.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mail)
	if f.err != nil {
		return relay.Result{}, f.err
	}
	return relay.Result{ID: "relay-1"}, nil
}

type testServer struct {
	server *Server
	store  *store.SQLiteStore
	relay  *fakeRelay
	cookie *http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authManager, err := auth.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	hub := sse.NewHub()
	m := metrics.New()
	fake := &fakeRelay{}
	cfg := config.Config{DefaultFromName: "Glass Mail", DefaultFromAddress: "mail@glass.test"}

	server := NewServer(cfg, Dependencies{
		Store:    db,
		Auth:     authManager,
		Hub:      hub,
		Pipeline: send.New(fake, db, logger, send.WithNotifier(hub), send.WithMetrics(m)),
		Ingester: ingest.New(db, logger, ingest.WithNotifier(hub), ingest.WithMetrics(m)),
		Sessions: compose.NewSessions(nil),
		Metrics:  m,
	}, logger)

	ts := &testServer{server: server, store: db, relay: fake}
	rec := ts.do(t, http.MethodPost, "/api/login", `{"email":"Me@Glass.test"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == authManager.CookieName() {
			ts.cookie = c
		}
	}
	if ts.cookie == nil {
		t.Fatal("login did not set a session cookie")
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(rec.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return value
}

type listResponse struct {
	Messages []struct {
		ID      string `json:"id"`
		Sender  string `json:"sender"`
		Subject string `json:"subject"`
		Read    bool   `json:"read"`
		Folder  string `json:"folder"`
	} `json:"messages"`
	Total int32 `json:"total"`
}

func TestAccountBoundary(t *testing.T) {
	ts := newTestServer(t)

	me := decode[map[string]string](t, ts.do(t, http.MethodGet, "/api/me", ""))
	if me["email"] != "me@glass.test" || me["fromAddress"] != "mail@glass.test" {
		t.Errorf("me = %v", me)
	}

	ts.cookie = nil
	if rec := ts.do(t, http.MethodGet, "/api/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /api/me = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/messages", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /api/messages = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/login", `{"email":"nope"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad login = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/logout", ""); rec.Code != http.StatusNoContent {
		t.Errorf("logout = %d", rec.Code)
	}
}

func TestSendLoopbackAndListing(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/send", `{"to":"me@glass.test","subject":"Note","html":"<p>remember</p>"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	result := decode[send.Result](t, rec)
	if !result.Loopback || !result.Persisted {
		t.Errorf("result = %+v", result)
	}
	if call := ts.relay.calls[0]; call.FromName != "Glass Mail" || call.FromAddress != "mail@glass.test" {
		t.Errorf("relay call = %+v", call)
	}

	inbox := decode[listResponse](t, ts.do(t, http.MethodGet, "/api/messages?folder=inbox", ""))
	sent := decode[listResponse](t, ts.do(t, http.MethodGet, "/api/messages?folder=sent", ""))
	if inbox.Total != 1 || sent.Total != 1 {
		t.Fatalf("inbox = %d sent = %d", inbox.Total, sent.Total)
	}
	if inbox.Messages[0].Read || !sent.Messages[0].Read {
		t.Errorf("read flags inbox=%v sent=%v", inbox.Messages[0].Read, sent.Messages[0].Read)
	}
	if sent.Messages[0].Sender != "me@glass.test" {
		t.Errorf("sent label = %q, want recipients", sent.Messages[0].Sender)
	}

	id := inbox.Messages[0].ID
	detail := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/messages/"+id, ""))
	if detail["subject"] != "Note" || detail["senderAddress"] != "mail@glass.test" {
		t.Errorf("detail = %v", detail)
	}
	if rec := ts.do(t, http.MethodPost, "/api/messages/"+id+"/read", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("mark read = %d", rec.Code)
	}
	inbox = decode[listResponse](t, ts.do(t, http.MethodGet, "/api/messages?folder=inbox", ""))
	if !inbox.Messages[0].Read {
		t.Error("message still unread")
	}

	if rec := ts.do(t, http.MethodGet, "/api/messages/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing detail = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/messages/missing/read", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing read = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/messages?folder=spam", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad folder = %d", rec.Code)
	}
}

func TestSendErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/send", `{"to":"a@x.com","subject":" ","html":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("validation = %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["error"] != "Please add a subject" || body["field"] != "subject" {
		t.Errorf("validation body = %v", body)
	}

	for _, body := range []string{
		`{"to":"Me <me@glass.test>","subject":"s","html":"x"}`,
		`{"to":["a@x.com","foo"],"subject":"s","html":"x"}`,
	} {
		rec = ts.do(t, http.MethodPost, "/api/send", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		if got := decode[map[string]string](t, rec); got["field"] != "recipients" {
			t.Errorf("%s: body = %v", body, got)
		}
	}
	if len(ts.relay.calls) != 0 {
		t.Fatalf("relay called %d times for invalid sends", len(ts.relay.calls))
	}

	ts.relay.err = &relay.Error{Status: 403, Message: "You can only send testing emails to your own address"}
	rec = ts.do(t, http.MethodPost, "/api/send", `{"to":["me@glass.test"],"subject":"s","html":"x"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("relay failure = %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["error"] != "You can only send testing emails to your own address" {
		t.Errorf("relay body = %v", body)
	}

	for _, folder := range []string{"inbox", "sent"} {
		list := decode[listResponse](t, ts.do(t, http.MethodGet, "/api/messages?folder="+folder, ""))
		if list.Total != 0 {
			t.Errorf("%s has %d messages after failed send", folder, list.Total)
		}
	}
}

func TestSendDropsRepeatedRecipients(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/send", `{"to":"a@x.com, b@x.com,a@x.com","subject":"s","html":"x"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	if got := ts.relay.calls[0].To; got != "a@x.com, b@x.com" {
		t.Fatalf("relay to = %q", got)
	}
}

func TestComposeFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/compose", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("open = %d", rec.Code)
	}
	snap := decode[compose.Snapshot](t, rec)
	base := "/api/compose/" + snap.ID

	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/input", `{"text":"friend@gm"}`))
	if len(snap.Suggestions) != 1 || snap.Suggestions[0] != "gmail.com" || !snap.SuggestionsOpen {
		t.Fatalf("suggestions = %+v", snap)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/key", `{"key":"Tab"}`))
	if len(snap.Recipients) != 1 || snap.Recipients[0] != "friend@gmail.com" || snap.Input != "" {
		t.Fatalf("after tab = %+v", snap)
	}

	if rec := ts.do(t, http.MethodPost, base+"/recipients", `{"address":"broken"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid recipient = %d", rec.Code)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/recipients", `{"address":"other@x.com"}`))
	if len(snap.Recipients) != 2 {
		t.Fatalf("recipients = %v", snap.Recipients)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodDelete, base+"/recipients/other@x.com", ""))
	if len(snap.Recipients) != 1 {
		t.Fatalf("after remove = %v", snap.Recipients)
	}

	ts.do(t, http.MethodPost, base+"/format", `{"command":"strikeThrough"}`)
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/format", `{"command":"underline"}`))
	if !snap.Formats[compose.Underline] || snap.Formats[compose.StrikeThrough] {
		t.Errorf("formats = %v", snap.Formats)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/format", `{"picker":"font"}`))
	if snap.Picker != compose.PickerFont {
		t.Errorf("picker = %q", snap.Picker)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/format", `{"font":"Mono"}`))
	if snap.Font.Value != "Roboto Mono" || snap.Picker != compose.PickerNone {
		t.Errorf("font = %+v picker = %q", snap.Font, snap.Picker)
	}
	if rec := ts.do(t, http.MethodPost, base+"/format", `{"command":"blink"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown command = %d", rec.Code)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/format", `{"sync":{"bold":true,"justifyCenter":true}}`))
	if !snap.Formats[compose.Bold] || !snap.Formats[compose.JustifyCenter] || snap.Formats[compose.Underline] {
		t.Errorf("synced formats = %v", snap.Formats)
	}
	snap = decode[compose.Snapshot](t, ts.do(t, http.MethodPost, base+"/key", `{"target":"editor","key":"Tab"}`))
	if snap.Indent != 1 {
		t.Errorf("indent = %d", snap.Indent)
	}

	rec = ts.do(t, http.MethodPost, base+"/send", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("send without subject = %d", rec.Code)
	}

	ts.do(t, http.MethodPut, base, `{"subject":"Hi","body":"<p>hello</p>","fromName":"Me"}`)
	rec = ts.do(t, http.MethodPost, base+"/send", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	sent := decode[struct {
		Result  send.Result      `json:"result"`
		Compose compose.Snapshot `json:"compose"`
	}](t, rec)
	if sent.Result.Loopback || sent.Result.Recipients != "friend@gmail.com" {
		t.Errorf("result = %+v", sent.Result)
	}
	if len(sent.Compose.Recipients) != 0 || sent.Compose.Subject != "" || sent.Compose.FromName != "Me" {
		t.Errorf("session not reset: %+v", sent.Compose)
	}
	if got := ts.relay.calls[len(ts.relay.calls)-1]; got.FromName != "Me" || got.HTML != "<p>hello</p>" {
		t.Errorf("relay call = %+v", got)
	}

	if rec := ts.do(t, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Errorf("close = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("closed session = %d", rec.Code)
	}
}

func TestComposeSessionsArePerAccount(t *testing.T) {
	ts := newTestServer(t)
	snap := decode[compose.Snapshot](t, ts.do(t, http.MethodPost, "/api/compose", ""))

	other := ts.do(t, http.MethodPost, "/api/login", `{"email":"someone@else.test"}`)
	ts.cookie = other.Result().Cookies()[0]
	if rec := ts.do(t, http.MethodGet, "/api/compose/"+snap.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign session = %d", rec.Code)
	}
}

func TestIncomingWebhook(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.cookie
	ts.cookie = nil

	rec := ts.do(t, http.MethodPost, "/webhooks/incoming", `{"from":"Jane Doe <jane@x.com>","to":"me@glass.test","subject":"Hey"}`)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("webhook = %d %q", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPost, "/webhooks/incoming", `{"to":"me@glass.test"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("webhook without from = %d", rec.Code)
	}

	ts.cookie = cookie
	inbox := decode[listResponse](t, ts.do(t, http.MethodGet, "/api/messages?folder=inbox", ""))
	if inbox.Total != 1 || inbox.Messages[0].Sender != "Jane Doe" || inbox.Messages[0].Read {
		t.Fatalf("inbox = %+v", inbox)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodOptions, "/api/send", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	ts.do(t, http.MethodPost, "/api/send", `{"to":"a@x.com","subject":"s","html":"x"}`)
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `glassmail_relay_dispatch_total{outcome="success"} 1`) {
		t.Errorf("metrics = %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestStreamNotifiesAfterSend(t *testing.T) {
	ts := newTestServer(t)
	httpServer := httptest.NewServer(ts.server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/api/stream", nil)
	req.AddCookie(ts.cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		t.Helper()
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if line == "\n" {
				return strings.Join(lines, "")
			}
			lines = append(lines, line)
		}
	}
	if first := readEvent(); !strings.HasPrefix(first, "event: ready") {
		t.Fatalf("first event = %q", first)
	}

	ts.do(t, http.MethodPost, "/api/send", `{"to":"me@glass.test","subject":"s","html":"x"}`)
	event := readEvent()
	if !strings.HasPrefix(event, "event: mailbox") || !strings.Contains(event, `"inbox"`) {
		t.Fatalf("event = %q", event)
	}
}
