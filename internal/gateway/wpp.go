package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/metrics"
)

// WPP receives webhooks from a WPPConnect bridge and sends replies through
// it. Unlike the Cloud API it covers group chats, so the canonical message
// distinguishes the group JID (reply target) from the participant who
// actually wrote. Implements domain.Replier.
type WPP struct {
	cfg    config.WPPConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
}

type WPPGatewayConfig struct {
	Config config.WPPConfig
	Bus    domain.MessageBus
	Logger *slog.Logger
}

func NewWPP(cfg WPPGatewayConfig) *WPP {
	return &WPP{
		cfg:    cfg.Config,
		bus:    cfg.Bus,
		logger: cfg.Logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Mount registers the webhook and status routes on the main mux.
func (w *WPP) Mount(mux *http.ServeMux) {
	path := w.cfg.WebhookPath
	if path == "" {
		path = "/webhook/wpp"
	}

	mux.HandleFunc("POST "+path, w.handleIncoming)
	mux.HandleFunc("GET "+path+"/status", w.handleStatus)

	w.logger.Info("WPP gateway ready", "webhook", path, "bridge", w.cfg.BaseURL)
}

// --- Webhook handlers ---

// handleIncoming accepts a bridge delivery. The bridge treats anything but
// a 200 as a failure and retries, so parse problems are acknowledged.
func (w *WPP) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rw.WriteHeader(http.StatusOK)
		return
	}

	msg, ok := w.parsePayload(body)
	if ok {
		metrics.MessagesReceived.Inc()
		w.bus.Publish(msg)
	}

	rw.WriteHeader(http.StatusOK)
}

// parsePayload normalizes the two webhook shapes WPPConnect versions emit:
// message fields nested under a "data" key, or flat at the top level with
// the event under "wook".
func (w *WPP) parsePayload(body []byte) (domain.CanonicalMessage, bool) {
	var none domain.CanonicalMessage

	var envelope struct {
		Event string          `json:"event"`
		Wook  string          `json:"wook"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		w.logger.Warn("WPP webhook bad payload", "error", err)
		return none, false
	}

	var raw []byte
	var event string
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
		event = envelope.Event
	} else {
		raw = body
		event = envelope.Wook
		if event == "" {
			event = envelope.Event
		}
	}
	if event != "message" && event != "onMessage" {
		w.logger.Debug("WPP event ignored", "event", event)
		return none, false
	}

	var msg wppMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Warn("WPP webhook bad message", "error", err)
		return none, false
	}
	if msg.From == "" {
		w.logger.Warn("WPP message without sender")
		return none, false
	}

	isGroup := strings.Contains(msg.From, "@g.us") || msg.IsGroupMsg
	senderID := jidUser(msg.From)

	canonical := domain.CanonicalMessage{
		Gateway:   domain.GatewayWPP,
		Sender:    senderID,
		ReplyTo:   msg.From,
		MessageID: msg.messageID(),
		Timestamp: msg.timestamp(),
		IsGroup:   isGroup,
	}

	if isGroup {
		// The group JID stays the reply target; authorization runs
		// against the participant who wrote the message.
		participant := firstNonEmpty(msg.Author, msg.Participant, msg.Sender.ID)
		if participant != "" {
			canonical.Sender = jidUser(participant)
		}
		canonical.GroupID = msg.From
		canonical.GroupName = firstNonEmpty(msg.Chat.Name, msg.NotifyName, "Group")
	}

	switch msg.Type {
	case "ptt", "audio":
		canonical.IsAudio = true
		canonical.MediaRef = firstNonEmpty(msg.MediaURL, msg.Media)
		canonical.MimeType = baseMimeType(msg.Mimetype)
		w.logger.Info("WPP voice message received", "from", canonical.Sender, "group", isGroup)

	case "chat", "text", "":
		text := firstNonEmpty(msg.Body, msg.Content)
		if text == "" {
			return none, false
		}
		canonical.Text = text
		w.logger.Info("WPP text message received", "from", canonical.Sender, "group", isGroup, "text_len", len(text))

	case "image":
		if msg.Caption == "" {
			return none, false
		}
		canonical.Text = "[Image] " + msg.Caption
		w.logger.Info("WPP image caption received", "from", canonical.Sender, "group", isGroup)

	default:
		w.logger.Debug("WPP message type ignored", "type", msg.Type)
		return none, false
	}

	return canonical, true
}

// handleStatus proxies the bridge's pairing status.
func (w *WPP) handleStatus(rw http.ResponseWriter, r *http.Request) {
	status := w.bridgeStatus(r.Context())

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"gateway":        "wppconnect",
		"session_status": status,
	})
}

func (w *WPP) bridgeStatus(ctx context.Context) map[string]any {
	req, err := http.NewRequestWithContext(ctx, "GET", w.cfg.BaseURL+"/status", nil)
	if err != nil {
		return map[string]any{"connected": false, "error": err.Error()}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return map[string]any{"connected": false, "error": err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return map[string]any{"connected": false, "error": string(respBody)}
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return map[string]any{"connected": false, "error": err.Error()}
	}
	return status
}

// Send delivers a text reply through the bridge, picking the group or
// direct endpoint from the recipient JID. Implements domain.Replier.
func (w *WPP) Send(ctx context.Context, recipient, text string) bool {
	var url string
	var payload map[string]string

	if strings.Contains(recipient, "@g.us") {
		url = w.cfg.BaseURL + "/send-group-message"
		payload = map[string]string{"groupId": recipient, "message": text}
	} else {
		url = w.cfg.BaseURL + "/send-message"
		payload = map[string]string{"phone": jidUser(recipient), "message": text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("WPP send marshal failed", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("WPP send request failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("WPP send failed, bridge unreachable", "base_url", w.cfg.BaseURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		w.logger.Error("WPP bridge not paired with WhatsApp, scan the QR code first")
		return false
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		w.logger.Error("WPP send rejected", "status", resp.StatusCode, "body", string(respBody))
		return false
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Status != "success" {
		w.logger.Warn("WPP send got unexpected response", "status", result.Status)
		return false
	}

	w.logger.Info("WPP reply sent", "recipient", recipient)
	return true
}

// --- Webhook payload types ---

type wppMessage struct {
	From        string          `json:"from"`
	Body        string          `json:"body"`
	Content     string          `json:"content"`
	Type        string          `json:"type"`
	IsGroupMsg  bool            `json:"isGroupMsg"`
	Author      string          `json:"author"`
	Participant string          `json:"participant"`
	NotifyName  string          `json:"notifyName"`
	Caption     string          `json:"caption"`
	Mimetype    string          `json:"mimetype"`
	MediaURL    string          `json:"mediaUrl"`
	Media       string          `json:"media"`
	ID          json.RawMessage `json:"id"`
	Timestamp   json.RawMessage `json:"timestamp"`
	T           json.RawMessage `json:"t"`

	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Chat struct {
		Name string `json:"name"`
	} `json:"chat"`
}

// messageID handles both id shapes: a plain string or an object carrying
// the serialized form.
func (m wppMessage) messageID() string {
	if len(m.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		return s
	}
	var obj struct {
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(m.ID, &obj); err == nil && obj.Serialized != "" {
		return obj.Serialized
	}
	return string(m.ID)
}

func (m wppMessage) timestamp() string {
	for _, raw := range []json.RawMessage{m.Timestamp, m.T} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatInt(n, 10)
		}
	}
	return ""
}

func jidUser(jid string) string {
	if i := strings.Index(jid, "@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
