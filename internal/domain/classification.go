package domain

// Intent is the business classification of a message's purpose.
type Intent string

const (
	IntentNewTask  Intent = "New Task"
	IntentRevision Intent = "Revision"
	IntentInquiry  Intent = "Inquiry"
	IntentUrgent   Intent = "Urgent"
	IntentNoise    Intent = "Noise"
)

// ParseIntent converts a raw string to an Intent. The second return value
// reports whether the input was one of the five known values.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentNewTask, IntentRevision, IntentInquiry, IntentUrgent, IntentNoise:
		return Intent(s), true
	}
	return IntentNoise, false
}

// Priority is the urgency level assigned to a classified message.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// ParsePriority converts a raw string to a Priority, defaulting to Medium
// for anything outside the three known values.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), true
	}
	return PriorityMedium, false
}

// Classification is the structured result of classifying one message.
// After decoding, Intent and Priority are always enum-valid and Summary is
// capped at 200 characters, so callers never need to re-validate.
type Classification struct {
	Intent           Intent
	Priority         Priority
	Summary          string
	ClientAction     string // recommended action, kept in the message's original language
	OriginalLanguage string
	Transcription    string // full transcription for audio, original text otherwise

	// ParseError is true when the model response was not valid structured
	// output and the classification is the synthesized fallback.
	ParseError bool

	// RawResponse retains up to 1000 characters of the raw model text for
	// manual review. Set only when ParseError is true.
	RawResponse string
}
