package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photoflow/internal/config"
	"photoflow/internal/events"
	"photoflow/internal/media/transform"
	"photoflow/internal/middleware"
	"photoflow/internal/pipeline"
	"photoflow/internal/repository"
	"photoflow/internal/security"
	"photoflow/internal/storage"
)

// BatchProcessor is what the gateway delegates surviving items to.
type BatchProcessor interface {
	Process(ctx context.Context, items []pipeline.Item) []pipeline.Result
}

type HandlerSet struct {
	log       zerolog.Logger
	cfg       *config.AppConfig
	verifier  security.TokenVerifier
	processor BatchProcessor
	publisher *events.Publisher
	db        *pgxpool.Pool
	redis     *redis.Client
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, redisClient *redis.Client, store *storage.ObjectStore, cfg *config.AppConfig) HandlerSet {
	photoRepo := repository.NewPhotoRepository(db)
	engine := transform.New(transform.Config{
		SmallEdge:   cfg.Ingest.ThumbSmall,
		MediumEdge:  cfg.Ingest.ThumbMedium,
		LargeEdge:   cfg.Ingest.ThumbLarge,
		JPEGQuality: cfg.Ingest.JPEGQuality,
	})
	orchestrator := pipeline.NewOrchestrator(engine, store, photoRepo, cfg.Ingest.Concurrency, log)

	return HandlerSet{
		log:       log,
		cfg:       cfg,
		verifier:  security.NewJWTVerifier(cfg.Security.JWTAccessSecret),
		processor: orchestrator,
		publisher: events.NewPublisher(redisClient, cfg.Redis.Stream, log),
		db:        db,
		redis:     redisClient,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	photos := v1.Group("/photos")
	photos.Use(middleware.Auth(h.verifier))
	photos.POST("/batch", h.UploadBatch)
}
