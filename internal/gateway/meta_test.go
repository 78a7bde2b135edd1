package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// captureBus records published messages for assertions.
type captureBus struct {
	msgs []domain.CanonicalMessage
}

func (b *captureBus) Publish(msg domain.CanonicalMessage)        { b.msgs = append(b.msgs, msg) }
func (b *captureBus) Subscribe() <-chan domain.CanonicalMessage { return nil }
func (b *captureBus) Close()                                    {}

func metaConfig() config.MetaConfig {
	return config.MetaConfig{
		Enabled:       true,
		AccessToken:   "meta-token",
		PhoneNumberID: "10987",
		VerifyTokens:  []string{"evolution", "assaf123"},
		WebhookPath:   "/webhook/meta",
	}
}

func testMeta(t *testing.T, cfg config.MetaConfig, apiBase string) (*Meta, *captureBus, *http.ServeMux) {
	t.Helper()
	bus := &captureBus{}
	m := NewMeta(MetaGatewayConfig{Config: cfg, Bus: bus, Logger: testLogger(), APIBase: apiBase})
	mux := http.NewServeMux()
	m.Mount(mux)
	return m, bus, mux
}

func metaTextPayload(from, text string) string {
	return `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "` + from + `", "id": "wamid.X1", "timestamp": "1735689600", "type": "text", "text": {"body": "` + text + `"}}
		]}}]}]
	}`
}

// --- Verification ---

func TestMetaVerification(t *testing.T) {
	_, _, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("GET", "/webhook/meta?hub.mode=subscribe&hub.verify_token=assaf123&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("challenge not echoed: %q", rec.Body.String())
	}
}

func TestMetaVerification_BadToken(t *testing.T) {
	_, _, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("GET", "/webhook/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestMetaVerification_LegacyAlias(t *testing.T) {
	_, _, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("GET", "/whatsapp-webhook?hub.mode=subscribe&hub.verify_token=evolution&hub.challenge=ok", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("legacy alias should verify, got %d %q", rec.Code, rec.Body.String())
	}
}

// --- Incoming messages ---

func TestMetaIncoming_Text(t *testing.T) {
	_, bus, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("POST", "/webhook/meta", strings.NewReader(metaTextPayload("972501234567", "hello there")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.msgs))
	}
	msg := bus.msgs[0]
	if msg.Gateway != domain.GatewayMeta {
		t.Errorf("wrong gateway: %s", msg.Gateway)
	}
	if msg.Sender != "972501234567" || msg.ReplyTo != "972501234567" {
		t.Errorf("wrong sender/reply: %s/%s", msg.Sender, msg.ReplyTo)
	}
	if msg.Text != "hello there" || msg.IsAudio {
		t.Errorf("wrong content: %+v", msg)
	}
	if msg.MessageID != "wamid.X1" || msg.Timestamp != "1735689600" {
		t.Errorf("id/timestamp not carried: %+v", msg)
	}
}

func TestMetaIncoming_Audio(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media-55" {
			t.Errorf("unexpected media lookup path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer meta-token" {
			t.Errorf("media lookup missing bearer token")
		}
		w.Write([]byte(`{"url": "https://lookaside.example/media-55.ogg"}`))
	}))
	defer graph.Close()

	_, bus, mux := testMeta(t, metaConfig(), graph.URL)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "972501234567", "id": "wamid.A9", "timestamp": "1735689600", "type": "audio",
			 "audio": {"id": "media-55", "mime_type": "audio/ogg; codecs=opus"}}
		]}}]}]
	}`
	req := httptest.NewRequest("POST", "/webhook/meta", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.msgs))
	}
	msg := bus.msgs[0]
	if !msg.IsAudio {
		t.Fatal("expected audio message")
	}
	if msg.MediaRef != "https://lookaside.example/media-55.ogg" {
		t.Errorf("media URL not resolved: %s", msg.MediaRef)
	}
	if msg.MimeType != "audio/ogg" {
		t.Errorf("mime parameters should be stripped, got %s", msg.MimeType)
	}
	if msg.AuthHeaders["Authorization"] != "Bearer meta-token" {
		t.Errorf("download auth headers missing: %v", msg.AuthHeaders)
	}
}

func TestMetaIncoming_BadJSONStillAcked(t *testing.T) {
	_, bus, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("POST", "/webhook/meta", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("bad payload must still be acknowledged, got %d", rec.Code)
	}
	if len(bus.msgs) != 0 {
		t.Error("bad payload must not publish anything")
	}
}

func TestMetaIncoming_OtherObjectIgnored(t *testing.T) {
	_, bus, mux := testMeta(t, metaConfig(), "")

	req := httptest.NewRequest("POST", "/webhook/meta", strings.NewReader(`{"object": "page", "entry": []}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || len(bus.msgs) != 0 {
		t.Errorf("non-whatsapp events must be acked and dropped, got %d, %d msgs", rec.Code, len(bus.msgs))
	}
}

// --- Signature ---

func TestMetaIncoming_Signature(t *testing.T) {
	cfg := metaConfig()
	cfg.AppSecret = "s3cret"
	_, bus, mux := testMeta(t, cfg, "")

	body := metaTextPayload("972501234567", "signed")
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest("POST", "/webhook/meta", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || len(bus.msgs) != 1 {
		t.Errorf("valid signature rejected: %d, %d msgs", rec.Code, len(bus.msgs))
	}

	req = httptest.NewRequest("POST", "/webhook/meta", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("invalid signature must be rejected, got %d", rec.Code)
	}
}

// --- Send ---

func TestMetaSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"messages": [{"id": "wamid.OUT"}]}`))
	}))
	defer api.Close()

	m, _, _ := testMeta(t, metaConfig(), api.URL)

	if !m.Send(context.Background(), "972501234567@s.whatsapp.net", "hello") {
		t.Fatal("Send should report success")
	}
	if gotPath != "/10987/messages" {
		t.Errorf("unexpected send path: %s", gotPath)
	}
	if gotBody["to"] != "972501234567" {
		t.Errorf("JID suffix should be stripped, got %v", gotBody["to"])
	}
	text := gotBody["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("unexpected body: %v", text)
	}
}

func TestMetaSend_Failure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer api.Close()

	m, _, _ := testMeta(t, metaConfig(), api.URL)
	if m.Send(context.Background(), "972501234567", "hello") {
		t.Error("Send should report failure on non-2xx")
	}
}
