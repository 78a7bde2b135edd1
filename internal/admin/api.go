// Package admin exposes a small JSON API for operating the service:
// client registry management, manual message dispatch, and a health probe.
package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"opsdesk/internal/domain"
	"opsdesk/internal/registry"
)

const maxBodySize = 1 << 20 // 1MB

// API serves the admin endpoints. It is mounted on the same mux as the
// webhook handlers and the metrics endpoint.
type API struct {
	store    *registry.Store
	repliers map[domain.GatewayKind]domain.Replier
	logger   *slog.Logger
}

type APIConfig struct {
	Store    *registry.Store
	Repliers map[domain.GatewayKind]domain.Replier
	Logger   *slog.Logger
}

func New(cfg APIConfig) *API {
	return &API{
		store:    cfg.Store,
		repliers: cfg.Repliers,
		logger:   cfg.Logger,
	}
}

// Mount registers the admin routes.
func (a *API) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/clients", a.handleListClients)
	mux.HandleFunc("POST /api/clients", a.handleAddClient)
	mux.HandleFunc("POST /api/send", a.handleSend)
}

func (a *API) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

type clientEntry struct {
	Number    string `json:"number"`
	Label     string `json:"label,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (a *API) handleListClients(rw http.ResponseWriter, r *http.Request) {
	clients, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error("Client listing failed", "error", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot list clients"})
		return
	}

	entries := make([]clientEntry, 0, len(clients))
	for _, c := range clients {
		entries = append(entries, clientEntry{
			Number:    c.Number,
			Label:     c.Label,
			CreatedAt: c.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"clients": entries})
}

type addClientRequest struct {
	Number string `json:"number"`
	Label  string `json:"label"`
}

func (a *API) handleAddClient(rw http.ResponseWriter, r *http.Request) {
	var req addClientRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Number == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "number is required"})
		return
	}

	if err := a.store.Add(r.Context(), req.Number, req.Label); err != nil {
		a.logger.Error("Client add failed", "number", req.Number, "error", err)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	a.logger.Info("Client added via admin API", "number", req.Number, "label", req.Label)
	writeJSON(rw, http.StatusCreated, map[string]string{"status": "added", "number": req.Number})
}

type sendRequest struct {
	Gateway   string `json:"gateway"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// handleSend dispatches a message through a connected gateway. The gateway
// field defaults to WPPConnect when only one replier is registered.
func (a *API) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Recipient == "" || req.Message == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "recipient and message are required"})
		return
	}

	kind := domain.GatewayKind(req.Gateway)
	if req.Gateway == "" {
		kind = domain.GatewayWPP
	}
	replier, ok := a.repliers[kind]
	if !ok {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "unknown gateway: " + string(kind)})
		return
	}

	if !replier.Send(r.Context(), req.Recipient, req.Message) {
		writeJSON(rw, http.StatusBadGateway, map[string]string{"error": "send failed"})
		return
	}

	a.logger.Info("Manual message sent", "gateway", kind, "recipient", req.Recipient)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "sent"})
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
