package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore/memory"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore/pinecone"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore/qdrant"
)

// wireVectorStore selects the vector backend from VECTOR_PROVIDER.
// "memory" is the zero-config default for local development; production
// deployments run pinecone or qdrant.
func wireVectorStore(log *logger.Logger, provider string, embedder vectorstore.Embedder) (vectorstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "memory":
		return memory.NewStore(log, embedder), nil

	case "pinecone":
		apiKey := strings.TrimSpace(os.Getenv("PINECONE_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("vector provider pinecone: missing PINECONE_API_KEY")
		}
		pc, err := pinecone.NewClient(log, pinecone.Config{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("vector provider pinecone: %w", err)
		}
		store, err := pinecone.NewStore(log, pc, embedder)
		if err != nil {
			return nil, fmt.Errorf("vector provider pinecone: %w", err)
		}
		return store, nil

	case "qdrant":
		cfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("vector provider qdrant: %w", err)
		}
		store, err := qdrant.NewStore(log, cfg, embedder)
		if err != nil {
			return nil, fmt.Errorf("vector provider qdrant: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown VECTOR_PROVIDER %q (want memory, pinecone or qdrant)", provider)
	}
}
