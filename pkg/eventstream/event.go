package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTitleRequested is emitted after the first turn of a new
	// conversation completes, asking a downstream worker to generate a
	// conversation title.
	EventTypeTitleRequested = "weft.conversation.title_requested"
)

// TitleRequestedEvent is a transport-neutral payload for an asynchronous
// title-generation job. Text carries a markup-stripped copy of the user's
// first message.
type TitleRequestedEvent struct {
	SchemaVersion  int       `json:"schema_version"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	EmittedAt      time.Time `json:"emitted_at"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
}
