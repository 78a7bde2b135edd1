package classify

import (
	"encoding/json"
	"strings"

	"opsdesk/internal/domain"
)

// wireResult uses pointer fields so a missing key can be told apart from
// an explicit empty string.
type wireResult struct {
	Intent           *string `json:"intent"`
	Priority         *string `json:"priority"`
	Summary          *string `json:"summary"`
	ClientAction     *string `json:"client_action"`
	OriginalLanguage *string `json:"original_language"`
	Transcription    *string `json:"transcription"`
}

// Decode turns raw model output into a Classification. It never fails:
// unparseable output produces a low-priority Noise result flagged for
// manual review, with the raw text preserved for inspection.
func Decode(raw string) *domain.Classification {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return fallback(raw)
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return fallback(raw)
	}

	// Missing fields become empty strings; intent and priority are then
	// forced onto their enums.
	intent, _ := domain.ParseIntent(deref(wire.Intent))
	priority, _ := domain.ParsePriority(deref(wire.Priority))

	return &domain.Classification{
		Intent:           intent,
		Priority:         priority,
		Summary:          deref(wire.Summary),
		ClientAction:     deref(wire.ClientAction),
		OriginalLanguage: deref(wire.OriginalLanguage),
		Transcription:    deref(wire.Transcription),
	}
}

func fallback(raw string) *domain.Classification {
	summary := truncate(raw, 200)
	if summary == "" {
		summary = "Could not parse message"
	}
	return &domain.Classification{
		Intent:           domain.IntentNoise,
		Priority:         domain.PriorityLow,
		Summary:          summary,
		ClientAction:     "Manual review required - AI response was not valid JSON",
		OriginalLanguage: "Unknown",
		ParseError:       true,
		RawResponse:      truncate(raw, 1000),
	}
}

// stripFences removes markdown code fences the model sometimes wraps
// around its JSON despite instructions.
func stripFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[7:]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[3:]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
