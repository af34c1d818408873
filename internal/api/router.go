package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/speakerid/internal/api/handlers"
	"github.com/your-org/speakerid/internal/api/ws"
	"github.com/your-org/speakerid/internal/auth"
	"github.com/your-org/speakerid/internal/queue"
	"github.com/your-org/speakerid/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Speakers & gallery
	speakerH := handlers.NewSpeakerHandler(cfg.DB)
	v1.POST("/speakers", speakerH.Create)
	v1.GET("/speakers", speakerH.List)
	v1.GET("/speakers/:name", speakerH.Get)
	v1.POST("/speakers/:name/embeddings", speakerH.AddEmbedding)
	v1.POST("/search", speakerH.Search)
	v1.POST("/search/speakers", speakerH.SearchSpeakers)

	// Videos & segments
	videoH := handlers.NewVideoHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/videos", videoH.Create)
	v1.GET("/videos", videoH.List)
	v1.GET("/videos/:id", videoH.Get)
	v1.PUT("/videos/:id/segments", videoH.ReplaceSegments)
	v1.GET("/videos/:id/segments", videoH.ListSegments)
	v1.POST("/videos/:id/identify", videoH.Identify)
	v1.DELETE("/videos/:id", videoH.Delete)

	// Plans
	planH := handlers.NewPlanHandler(cfg.DB)
	v1.GET("/plans/:id", planH.Get)
	v1.GET("/videos/:id/plan", planH.Latest)

	// Review corrections
	reviewH := handlers.NewReviewHandler(cfg.DB, cfg.Hub)
	v1.POST("/segments/:id/override", reviewH.Override)
	v1.POST("/segments/:id/invalidate", reviewH.Invalidate)

	return r
}
