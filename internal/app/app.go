package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docstack/docstack-backend/internal/chat"
	"github.com/docstack/docstack-backend/internal/data/db"
	chatrepo "github.com/docstack/docstack-backend/internal/data/repos/chat"
	"github.com/docstack/docstack-backend/internal/data/repos/documents"
	"github.com/docstack/docstack-backend/internal/http/handlers"
	"github.com/docstack/docstack-backend/internal/http/middleware"
	"github.com/docstack/docstack-backend/internal/ingestion/chunker"
	"github.com/docstack/docstack-backend/internal/ingestion/pipeline"
	"github.com/docstack/docstack-backend/internal/jobs/ingest"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/openai"
	"github.com/docstack/docstack-backend/internal/realtime/bus"
	"github.com/docstack/docstack-backend/internal/retrieval"
	"github.com/docstack/docstack-backend/internal/server"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	Worker *ingest.Worker
	Bus    bus.Bus

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Repos
	docRepo := documents.NewDocumentRepo(theDB, log)
	threadRepo := chatrepo.NewChatThreadRepo(theDB, log)
	messageRepo := chatrepo.NewChatMessageRepo(theDB, log)

	// Model client doubles as the embedder for every vector backend.
	oai, err := openai.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	store, err := wireVectorStore(log, cfg.VectorProvider, oai)
	if err != nil {
		log.Sync()
		return nil, err
	}

	// Core services
	pipe, err := pipeline.New(log, store, chunker.New(cfg.ChunkSize, cfg.ChunkOverlap))
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	retriever, err := retrieval.NewService(log, store)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init retrieval service: %w", err)
	}
	deleter, err := retrieval.NewDeleter(log, retriever)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init cascade deleter: %w", err)
	}

	eventBus := wireBus(log)

	worker, err := ingest.NewWorker(log, docRepo, pipe, deleter, eventBus, cfg.IngestQueueSize, cfg.IngestConcurrency)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init ingest worker: %w", err)
	}

	orchestrator, err := chat.NewOrchestrator(log, threadRepo, messageRepo, retriever, oai, eventBus)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init chat orchestrator: %w", err)
	}

	// HTTP surface
	authMW, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init auth middleware: %w", err)
	}
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:  authMW,
		DocumentHandler: handlers.NewDocumentHandler(log, docRepo, worker, deleter),
		SearchHandler:   handlers.NewSearchHandler(log, retriever),
		ChatHandler:     handlers.NewChatHandler(log, orchestrator, threadRepo, messageRepo),
	})

	return &App{
		Log:    log,
		DB:     theDB,
		Router: router,
		Cfg:    cfg,
		Worker: worker,
		Bus:    eventBus,
	}, nil
}

func wireBus(log *logger.Logger) bus.Bus {
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) == "" {
		log.Info("REDIS_ADDR unset, realtime notifications disabled")
		return bus.NewNoopBus()
	}
	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis bus init failed, falling back to noop", "error", err)
		return bus.NewNoopBus()
	}
	return eventBus
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Worker.Start(ctx)
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
