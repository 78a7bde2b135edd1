package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"opsdesk/internal/domain"
)

const (
	defaultModel       = "gemini-2.0-flash-001"
	defaultLocation    = "us-central1"
	defaultHTTPTimeout = 60 * time.Second

	// Low temperature keeps the JSON output stable.
	genTemperature     = 0.1
	genTopP            = 0.8
	genMaxOutputTokens = 1024
)

// Gemini implements domain.Classifier against the Vertex AI REST API.
type Gemini struct {
	projectID string
	location  string
	model     string
	apiBase   string
	tokens    oauth2.TokenSource
	client    *http.Client
	logger    *slog.Logger
}

type GeminiConfig struct {
	ProjectID   string
	Location    string
	Model       string
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
	Logger      *slog.Logger

	// APIBase overrides the regional Vertex endpoint, for tests.
	APIBase string
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Location == "" {
		cfg.Location = defaultLocation
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Location)
	}
	return &Gemini{
		projectID: cfg.ProjectID,
		location:  cfg.Location,
		model:     cfg.Model,
		apiBase:   apiBase,
		tokens:    cfg.TokenSource,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) ClassifyText(ctx context.Context, text string, mctx domain.MessageContext) (*domain.Classification, error) {
	parts := []geminiPart{{Text: textPrompt(text, mctx)}}
	return g.classify(ctx, parts)
}

func (g *Gemini) ClassifyAudio(ctx context.Context, audio []byte, mimeType string, mctx domain.MessageContext) (*domain.Classification, error) {
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	parts := []geminiPart{
		{InlineData: &geminiInlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(audio),
		}},
		{Text: audioPrompt(mctx)},
	}
	return g.classify(ctx, parts)
}

func (g *Gemini) classify(ctx context.Context, parts []geminiPart) (*domain.Classification, error) {
	tok, err := g.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("vertex token: %w", err)
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenConfig{
			Temperature:     genTemperature,
			TopP:            genTopP,
			MaxOutputTokens: genMaxOutputTokens,
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		g.apiBase, g.projectID, g.location, g.model)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vertex request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vertex %d: %s", resp.StatusCode, string(respBody))
	}

	var vertexResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&vertexResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(vertexResp.Candidates) == 0 || len(vertexResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("vertex response has no candidates")
	}

	raw := vertexResp.Candidates[0].Content.Parts[0].Text
	result := Decode(raw)
	g.logger.Info("Message classified",
		"intent", result.Intent, "priority", result.Priority, "parse_error", result.ParseError)
	return result, nil
}
