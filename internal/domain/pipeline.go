package domain

import "context"

// Replier dispatches one reply through a specific gateway. Implementations
// log their own failures; the boolean is the only signal the pipeline sees.
type Replier interface {
	Send(ctx context.Context, recipient, text string) bool
}

// MessageContext carries the origin details the classifier folds into its
// instruction (direct message vs. named group).
type MessageContext struct {
	IsGroup   bool
	GroupName string
}

// Classifier submits content to the generative model and returns a decoded,
// enum-valid classification. An error means the remote call itself could not
// be made; malformed model output is absorbed into a fallback result and is
// never an error.
type Classifier interface {
	ClassifyText(ctx context.Context, text string, mctx MessageContext) (*Classification, error)
	ClassifyAudio(ctx context.Context, audio []byte, mimeType string, mctx MessageContext) (*Classification, error)
}

// AudioFetcher resolves a media reference (remote URL or inline data URI)
// into raw bytes.
type AudioFetcher interface {
	Fetch(ctx context.Context, ref string, headers map[string]string) ([]byte, error)
}

// Authorizer decides whether a sender (and, for group messages, the group)
// may use the service.
type Authorizer interface {
	Authorized(candidate, groupID string) bool
}

// PersistOutcome reports the result of appending one record to the ledger.
type PersistOutcome struct {
	OK      bool
	Locator string // spreadsheet URL on success
	Err     error
}

// TaskRecord pairs a message with its classification for persistence.
type TaskRecord struct {
	Message CanonicalMessage
	Result  Classification
}

// TaskLedger appends one classified message as a single atomic row.
type TaskLedger interface {
	Append(ctx context.Context, rec TaskRecord) PersistOutcome
}

// MessageBus carries canonical messages from the webhook handlers to the
// pipeline workers.
type MessageBus interface {
	Publish(msg CanonicalMessage)
	Subscribe() <-chan CanonicalMessage
	Close()
}
