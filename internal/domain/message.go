package domain

// GatewayKind identifies which messaging gateway delivered a message.
type GatewayKind string

const (
	GatewayMeta GatewayKind = "Meta"
	GatewayWPP  GatewayKind = "WPPConnect"
)

// CanonicalMessage is the gateway-agnostic representation of one inbound
// event. Every gateway adapter produces exactly zero or one of these per
// webhook message; everything downstream of the adapters works only with
// this type.
type CanonicalMessage struct {
	Gateway GatewayKind

	// Sender is the raw phone number or JID of the originating party.
	// For group messages this is the individual participant, not the group.
	Sender string

	// ReplyTo is where replies are dispatched: the sender for direct
	// messages, the group JID for group messages.
	ReplyTo string

	// MessageID is the provider message identifier, retained for the
	// audit trail. Uniqueness is provider-guaranteed, not re-verified.
	MessageID string

	// Timestamp is the provider value stored verbatim (epoch seconds or
	// an opaque string). It is re-stringified at persistence time, never
	// parsed or validated here.
	Timestamp string

	IsGroup   bool
	GroupID   string // set only when IsGroup
	GroupName string // set only when IsGroup

	// Text may be empty for pure-audio messages.
	Text string

	IsAudio  bool
	MediaRef string // absolute URL or inline data: URI; non-empty when IsAudio
	MimeType string

	// AuthHeaders are merged into the media fetch request (gateway-specific
	// bearer tokens).
	AuthHeaders map[string]string
}
