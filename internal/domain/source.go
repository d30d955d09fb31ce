package domain

import "github.com/google/uuid"

// Source is a retrieval hit surfaced to the user. It is recomputed per query
// and persisted only as part of the assistant message that cites it.
type Source struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
