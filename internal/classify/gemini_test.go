package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"opsdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func vertexReply(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func testGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGemini(GeminiConfig{
		ProjectID:   "test-project",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		Logger:      testLogger(),
		APIBase:     srv.URL,
	})
}

func TestClassifyText(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq geminiRequest

	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(vertexReply(`{"intent": "Urgent", "priority": "High", "summary": "Server is down"}`)))
	})

	result, err := g.ClassifyText(context.Background(), "URGENT: the server is down!", domain.MessageContext{})
	if err != nil {
		t.Fatalf("ClassifyText failed: %v", err)
	}
	if result.Intent != domain.IntentUrgent || result.Priority != domain.PriorityHigh {
		t.Errorf("unexpected classification: %s/%s", result.Intent, result.Priority)
	}

	wantPath := "/v1/projects/test-project/locations/us-central1/publishers/google/models/gemini-2.0-flash-001:generateContent"
	if gotPath != wantPath {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
	if gotReq.GenerationConfig.Temperature != 0.1 || gotReq.GenerationConfig.MaxOutputTokens != 1024 {
		t.Errorf("unexpected generation config: %+v", gotReq.GenerationConfig)
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 1 {
		t.Fatalf("unexpected request shape: %+v", gotReq.Contents)
	}
	prompt := gotReq.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "URGENT: the server is down!") {
		t.Error("message content missing from prompt")
	}
	if !strings.Contains(prompt, "valid JSON object ONLY") {
		t.Error("system instructions missing from prompt")
	}
}

func TestClassifyAudio(t *testing.T) {
	var gotReq geminiRequest

	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(vertexReply(`{"intent": "New Task", "priority": "Medium", "transcription": "please design a banner"}`)))
	})

	result, err := g.ClassifyAudio(context.Background(), []byte("AUDIO"), "audio/ogg", domain.MessageContext{})
	if err != nil {
		t.Fatalf("ClassifyAudio failed: %v", err)
	}
	if result.Transcription != "please design a banner" {
		t.Errorf("unexpected transcription: %s", result.Transcription)
	}

	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected inline data part plus prompt part, got %d", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MimeType != "audio/ogg" {
		t.Errorf("first part should carry the audio payload: %+v", parts[0])
	}
	if parts[0].InlineData.Data != "QVVESU8=" {
		t.Errorf("audio not base64 encoded: %s", parts[0].InlineData.Data)
	}
	if !strings.Contains(parts[1].Text, "voice message") {
		t.Errorf("audio prompt missing: %s", parts[1].Text)
	}
}

func TestClassify_HTTPError(t *testing.T) {
	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	if _, err := g.ClassifyText(context.Background(), "hello", domain.MessageContext{}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestClassify_NoCandidates(t *testing.T) {
	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	if _, err := g.ClassifyText(context.Background(), "hello", domain.MessageContext{}); err == nil {
		t.Fatal("expected error for empty candidate list")
	}
}

func TestClassify_UnparseableModelOutput(t *testing.T) {
	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(vertexReply("sorry, I cannot help with that")))
	})

	result, err := g.ClassifyText(context.Background(), "hello", domain.MessageContext{})
	if err != nil {
		t.Fatalf("prose model output is not a transport error: %v", err)
	}
	if !result.ParseError {
		t.Error("expected ParseError fallback")
	}
}

func TestClassifyText_GroupContext(t *testing.T) {
	var gotReq geminiRequest
	g := testGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(vertexReply(`{"intent": "Inquiry", "priority": "Low"}`)))
	})

	_, err := g.ClassifyText(context.Background(), "when is the delivery?",
		domain.MessageContext{IsGroup: true, GroupName: "Design Team"})
	if err != nil {
		t.Fatalf("ClassifyText failed: %v", err)
	}
	prompt := gotReq.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, `business group "Design Team"`) {
		t.Error("group context missing from prompt")
	}
}
