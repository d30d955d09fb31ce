package realtime

import "github.com/google/uuid"

// Event types published on the bus.
const (
	EventDocumentProcessed = "document.processed"
	EventDocumentFailed    = "document.failed"
	EventChatMessage       = "chat.message"
)

// Event is the envelope pushed to connected clients. Payload carries
// event-specific fields (chat_id, sources_count, document_id and so on).
type Event struct {
	Type    string         `json:"type"`
	UserID  uuid.UUID      `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
}
