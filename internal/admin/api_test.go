package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opsdesk/internal/domain"
	"opsdesk/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeReplier struct {
	ok         bool
	recipients []string
	messages   []string
}

func (f *fakeReplier) Send(ctx context.Context, recipient, text string) bool {
	f.recipients = append(f.recipients, recipient)
	f.messages = append(f.messages, text)
	return f.ok
}

func testAPI(t *testing.T, repliers map[domain.GatewayKind]domain.Replier) (*http.ServeMux, *registry.Store) {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "registry.db"), nil, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	api := New(APIConfig{Store: store, Repliers: repliers, Logger: testLogger()})
	mux := http.NewServeMux()
	api.Mount(mux)
	return mux, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// --- Health ---

func TestHealthz(t *testing.T) {
	mux, _ := testAPI(t, nil)

	rec := doJSON(t, mux, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

// --- Clients ---

func TestAddAndListClients(t *testing.T) {
	mux, _ := testAPI(t, nil)

	rec := doJSON(t, mux, "POST", "/api/clients", `{"number": "31612345678", "label": "Acme"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, "GET", "/api/clients", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var resp struct {
		Clients []struct {
			Number string `json:"number"`
			Label  string `json:"label"`
		} `json:"clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(resp.Clients) != 1 {
		t.Fatalf("got %d clients, want 1", len(resp.Clients))
	}
	if resp.Clients[0].Number != "31612345678" {
		t.Errorf("number = %q, want 31612345678", resp.Clients[0].Number)
	}
	if resp.Clients[0].Label != "Acme" {
		t.Errorf("label = %q, want Acme", resp.Clients[0].Label)
	}
}

func TestAddClientMissingNumber(t *testing.T) {
	mux, _ := testAPI(t, nil)

	rec := doJSON(t, mux, "POST", "/api/clients", `{"label": "no number"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAddClientInvalidJSON(t *testing.T) {
	mux, _ := testAPI(t, nil)

	rec := doJSON(t, mux, "POST", "/api/clients", "{oops")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAddedClientIsAuthorized(t *testing.T) {
	mux, store := testAPI(t, nil)

	doJSON(t, mux, "POST", "/api/clients", `{"number": "31612345678"}`)
	if !store.Authorized("31612345678@c.us", "") {
		t.Error("client added via API should authorize immediately")
	}
}

// --- Manual send ---

func TestSend(t *testing.T) {
	replier := &fakeReplier{ok: true}
	mux, _ := testAPI(t, map[domain.GatewayKind]domain.Replier{domain.GatewayWPP: replier})

	rec := doJSON(t, mux, "POST", "/api/send", `{"recipient": "31612345678@c.us", "message": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(replier.recipients) != 1 || replier.recipients[0] != "31612345678@c.us" {
		t.Errorf("recipients = %v", replier.recipients)
	}
	if replier.messages[0] != "hello" {
		t.Errorf("message = %q, want hello", replier.messages[0])
	}
}

func TestSendExplicitGateway(t *testing.T) {
	meta := &fakeReplier{ok: true}
	wpp := &fakeReplier{ok: true}
	mux, _ := testAPI(t, map[domain.GatewayKind]domain.Replier{
		domain.GatewayMeta: meta,
		domain.GatewayWPP:  wpp,
	})

	rec := doJSON(t, mux, "POST", "/api/send", `{"gateway": "Meta", "recipient": "15550001111", "message": "ping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(meta.messages) != 1 {
		t.Errorf("meta replier got %d messages, want 1", len(meta.messages))
	}
	if len(wpp.messages) != 0 {
		t.Errorf("wpp replier got %d messages, want 0", len(wpp.messages))
	}
}

func TestSendUnknownGateway(t *testing.T) {
	mux, _ := testAPI(t, map[domain.GatewayKind]domain.Replier{domain.GatewayWPP: &fakeReplier{ok: true}})

	rec := doJSON(t, mux, "POST", "/api/send", `{"gateway": "Telegram", "recipient": "x", "message": "y"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendFailurePropagates(t *testing.T) {
	mux, _ := testAPI(t, map[domain.GatewayKind]domain.Replier{domain.GatewayWPP: &fakeReplier{ok: false}})

	rec := doJSON(t, mux, "POST", "/api/send", `{"recipient": "x@c.us", "message": "y"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestSendMissingFields(t *testing.T) {
	mux, _ := testAPI(t, map[domain.GatewayKind]domain.Replier{domain.GatewayWPP: &fakeReplier{ok: true}})

	rec := doJSON(t, mux, "POST", "/api/send", `{"recipient": "x@c.us"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
