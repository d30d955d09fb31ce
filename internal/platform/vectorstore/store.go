package vectorstore

import "context"

// Reserved metadata keys every chunk record carries. The owning document is
// referenced only through these keys; the store itself keeps no relation.
const (
	MetaDocumentID  = "document_id"
	MetaUserID      = "user_id"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaFilename    = "filename"
)

// Record is a chunk to be embedded and indexed. Content doubles as the
// embedding source text.
type Record struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Match is a search hit with a similarity score normalized to [0,1]
// (higher is better).
type Match struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Store is the narrow contract against the external embedding/similarity
// index. An empty query string requests a filter-only scan: up to topK
// records matching the metadata filter, ignoring semantic similarity.
// Backends that cannot do that return FilterOnlyUnsupportedError.
//
// Upsert and Delete fail with StoreWriteError, Search with StoreReadError.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query string, topK int, filter map[string]any) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
}

// Embedder turns texts into vectors. The OpenAI client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
