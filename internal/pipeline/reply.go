package pipeline

import (
	"strings"

	"opsdesk/internal/domain"
)

// Acknowledgements sent right after a message clears the allow-list.
const (
	AckText  = "📋 Message received! Processing..."
	AckVoice = "🎙️ Voice message received! Analyzing..."
)

// Failure replies. Each failed message gets exactly one of these.
const (
	ReplyDownloadFailed     = "❌ Failed to download audio."
	ReplyAnalyzeFailed      = "❌ Failed to analyze message."
	ReplyAnalyzeVoiceFailed = "❌ Failed to analyze voice message."
	ReplyNoMediaURL         = "❌ Could not process voice message - no media URL"
)

var intentIcons = map[domain.Intent]string{
	domain.IntentNewTask:  "🆕",
	domain.IntentRevision: "🔄",
	domain.IntentInquiry:  "❓",
	domain.IntentUrgent:   "🚨",
	domain.IntentNoise:    "💬",
}

// BuildReply formats the terminal confirmation sent back to the client.
func BuildReply(result *domain.Classification, outcome domain.PersistOutcome) string {
	icon, ok := intentIcons[result.Intent]
	if !ok {
		icon = "📝"
	}

	var b strings.Builder
	b.WriteString(icon + " *" + string(result.Intent) + "* - " + string(result.Priority) + " Priority\n")
	b.WriteString("📋 " + result.Summary)

	if result.ClientAction != "" {
		b.WriteString("\n\n💡 *Action:* " + result.ClientAction)
	}

	if outcome.OK {
		b.WriteString("\n\n📁 " + outcome.Locator)
	} else {
		b.WriteString("\n\n⚠️ Note: Failed to save to Sheets.")
	}

	return b.String()
}
