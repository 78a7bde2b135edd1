package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; WhatsAppAgent/1.0)"

// maxDownloadBytes caps a single media download at 32 MiB.
const maxDownloadBytes = 32 << 20

// Fetcher downloads voice-message payloads. References are either plain
// HTTP(S) URLs or data: URIs carrying the payload inline; the latter are
// decoded locally without touching the network.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref string, headers map[string]string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media URL: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("media download failed: payload exceeds %d bytes", maxDownloadBytes)
	}

	f.logger.Debug("Media downloaded", "bytes", len(data))
	return data, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	_, payload, found := strings.Cut(uri, ",")
	if !found {
		return nil, fmt.Errorf("malformed data URI: no payload separator")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return data, nil
}
