package app

import (
	"github.com/docstack/docstack-backend/internal/ingestion/chunker"
	"github.com/docstack/docstack-backend/internal/jobs/ingest"
	"github.com/docstack/docstack-backend/internal/platform/envutil"
	"github.com/docstack/docstack-backend/internal/platform/logger"
)

type Config struct {
	Port           string
	VectorProvider string

	ChunkSize    int
	ChunkOverlap int

	IngestQueueSize   int
	IngestConcurrency int
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:              envutil.String("PORT", "8080"),
		VectorProvider:    envutil.String("VECTOR_PROVIDER", "memory"),
		ChunkSize:         envutil.Int("CHUNK_SIZE", chunker.DefaultSize),
		ChunkOverlap:      envutil.Int("CHUNK_OVERLAP", chunker.DefaultOverlap),
		IngestQueueSize:   envutil.Int("INGEST_QUEUE_SIZE", ingest.DefaultQueueSize),
		IngestConcurrency: envutil.Int("INGEST_CONCURRENCY", ingest.DefaultConcurrency),
	}
	log.Info("Config loaded",
		"port", cfg.Port,
		"vector_provider", cfg.VectorProvider,
	)
	return cfg
}
