package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/metrics"
)

const graphAPIBase = "https://graph.facebook.com/v21.0"

// Meta receives webhooks from the WhatsApp Business Cloud API and sends
// replies through it. It implements domain.Replier.
type Meta struct {
	cfg     config.MetaConfig
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	apiBase string
}

type MetaGatewayConfig struct {
	Config config.MetaConfig
	Bus    domain.MessageBus
	Logger *slog.Logger

	// APIBase overrides the Graph API endpoint, for tests.
	APIBase string
}

func NewMeta(cfg MetaGatewayConfig) *Meta {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = graphAPIBase
	}
	return &Meta{
		cfg:     cfg.Config,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: apiBase,
	}
}

// Mount registers the webhook routes on the main mux. The bare
// /whatsapp-webhook path is a legacy alias kept for subscriptions created
// before the path became gateway-specific.
func (m *Meta) Mount(mux *http.ServeMux) {
	path := m.cfg.WebhookPath
	if path == "" {
		path = "/webhook/meta"
	}

	mux.HandleFunc("GET "+path, m.handleVerification)
	mux.HandleFunc("POST "+path, m.handleIncoming)
	mux.HandleFunc("GET /whatsapp-webhook", m.handleVerification)
	mux.HandleFunc("POST /whatsapp-webhook", m.handleIncoming)

	m.logger.Info("Meta gateway ready", "webhook", path)
}

// --- Webhook handlers ---

// handleVerification answers Meta's webhook verification challenge.
func (m *Meta) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && m.knownVerifyToken(token) {
		m.logger.Info("Meta webhook verified")
		rw.Header().Set("Content-Type", "text/plain")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	m.logger.Warn("Meta webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (m *Meta) knownVerifyToken(token string) bool {
	for _, t := range m.cfg.VerifyTokens {
		if token == t {
			return true
		}
	}
	return false
}

// handleIncoming accepts a webhook delivery. Meta retries anything that is
// not a 200, so parse problems are acknowledged and logged rather than
// bounced; only a bad signature is rejected.
func (m *Meta) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rw.WriteHeader(http.StatusOK)
		return
	}

	if m.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !m.verifySignature(body, sig) {
			m.logger.Warn("Meta webhook invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		m.logger.Warn("Meta webhook bad payload", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	if payload.Object != "whatsapp_business_account" {
		rw.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				m.acceptMessage(r.Context(), msg)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// acceptMessage converts one webhook message to canonical form and
// publishes it. Unsupported types are dropped here.
func (m *Meta) acceptMessage(ctx context.Context, msg metaMessage) {
	canonical := domain.CanonicalMessage{
		Gateway:   domain.GatewayMeta,
		Sender:    msg.From,
		ReplyTo:   msg.From,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return
		}
		canonical.Text = msg.Text.Body
		m.logger.Info("Meta text message received", "from", msg.From, "text_len", len(msg.Text.Body))

	case "audio":
		if msg.Audio == nil {
			return
		}
		mediaURL, err := m.mediaURL(ctx, msg.Audio.ID)
		if err != nil {
			m.logger.Error("Meta media lookup failed", "media_id", msg.Audio.ID, "error", err)
			return
		}
		canonical.IsAudio = true
		canonical.MediaRef = mediaURL
		canonical.MimeType = baseMimeType(msg.Audio.MimeType)
		canonical.AuthHeaders = map[string]string{"Authorization": "Bearer " + m.cfg.AccessToken}
		m.logger.Info("Meta voice message received", "from", msg.From)

	default:
		m.logger.Debug("Meta message type ignored", "type", msg.Type)
		return
	}

	metrics.MessagesReceived.Inc()
	m.bus.Publish(canonical)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (m *Meta) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(m.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// mediaURL resolves a media ID to its short-lived download URL.
func (m *Meta) mediaURL(ctx context.Context, mediaID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", m.apiBase+"/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("media lookup %d: %s", resp.StatusCode, string(respBody))
	}

	var media struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if media.URL == "" {
		return "", fmt.Errorf("media lookup returned no URL")
	}
	return media.URL, nil
}

// Send delivers a text reply via the Cloud API. Implements domain.Replier.
func (m *Meta) Send(ctx context.Context, recipient, text string) bool {
	// Strip any JID suffix; the Cloud API wants a bare number.
	if i := strings.Index(recipient, "@"); i >= 0 {
		recipient = recipient[:i]
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("Meta send marshal failed", "error", err)
		return false
	}

	url := fmt.Sprintf("%s/%s/messages", m.apiBase, m.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("Meta send request failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("Meta send failed", "recipient", recipient, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		m.logger.Error("Meta send rejected", "status", resp.StatusCode, "body", string(respBody))
		return false
	}

	m.logger.Info("Meta reply sent", "recipient", recipient)
	return true
}

func baseMimeType(mime string) string {
	if mime == "" {
		return "audio/ogg"
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		return mime[:i]
	}
	return mime
}

// --- Webhook payload types ---

type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Value metaValue `json:"value"`
	Field string    `json:"field"`
}

type metaValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Messages         []metaMessage `json:"messages"`
}

type metaMessage struct {
	From      string     `json:"from"`
	ID        string     `json:"id"`
	Timestamp string     `json:"timestamp"`
	Type      string     `json:"type"`
	Text      *metaText  `json:"text,omitempty"`
	Audio     *metaAudio `json:"audio,omitempty"`
}

type metaText struct {
	Body string `json:"body"`
}

type metaAudio struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}
