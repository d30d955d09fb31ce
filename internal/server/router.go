package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/docstack/docstack-backend/internal/http/handlers"
	"github.com/docstack/docstack-backend/internal/http/middleware"
	"github.com/docstack/docstack-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AuthMiddleware  *middleware.AuthMiddleware
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	ChatHandler     *handlers.ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(envutil.String("ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Documents
	api.POST("/documents", cfg.DocumentHandler.Create)
	api.GET("/documents", cfg.DocumentHandler.List)
	api.GET("/documents/:id", cfg.DocumentHandler.Get)
	api.POST("/documents/:id/ingest", cfg.DocumentHandler.Reingest)
	api.DELETE("/documents/:id", cfg.DocumentHandler.Delete)

	// Search
	api.POST("/search", cfg.SearchHandler.Search)

	// Chat
	api.POST("/chats/messages", cfg.ChatHandler.SendMessage)
	api.GET("/chats", cfg.ChatHandler.ListThreads)
	api.GET("/chats/:id/messages", cfg.ChatHandler.ListMessages)
	api.DELETE("/chats/:id", cfg.ChatHandler.DeleteThread)

	return router
}
