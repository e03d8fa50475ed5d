package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"newsdesk/internal/pipeline"
	"newsdesk/internal/podcast"
	"newsdesk/internal/storage"

	"github.com/gin-gonic/gin"
)

// Newsletters is satisfied by *pipeline.Pipeline.
type Newsletters interface {
	Newsletter(ctx context.Context, raw []string, opts pipeline.Options) (pipeline.Result, error)
	Refresh(ctx context.Context) (pipeline.Result, error)
}

// Analytics is satisfied by *storage.Store.
type Analytics interface {
	SentimentHistory(ctx context.Context, category string, days int) ([]storage.SentimentPoint, error)
	SelectionSummary(ctx context.Context, days int) ([]storage.SelectionStat, error)
	Providers(ctx context.Context) ([]storage.FeedProvider, error)
}

type Config struct {
	Newsletters     Newsletters
	Podcasts        *podcast.Service // nil disables podcast routes
	Analytics       Analytics        // nil disables analytics routes
	Cooldown        storage.Cooldown
	AdminSecret     string
	RefreshCooldown time.Duration
	Defaults        []string // categories when a request names none

	// markdown rendering
	Title      string
	Preface    string
	Postscript string
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.Cooldown == nil {
		cfg.Cooldown = storage.NewLocalCooldown()
	}
	if cfg.RefreshCooldown <= 0 {
		cfg.RefreshCooldown = 5 * time.Minute
	}
	return &Server{cfg: cfg}
}

// Handler builds the gin engine with middleware and routes.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery(), cors())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/newsletter", s.getNewsletter)
		api.POST("/admin/refresh", s.adminRefresh)

		api.POST("/podcast", s.startPodcast)
		api.GET("/podcast/audio", s.podcastAudio)
		api.GET("/podcast/:id", s.podcastStatus)
		api.DELETE("/podcast/:id", s.cancelPodcast)

		api.GET("/analytics/sentiment", s.sentiment)
		api.GET("/analytics/selections", s.selections)
		api.GET("/analytics/providers", s.providers)
	}

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).Round(time.Millisecond),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "err", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Error("api: request", attrs...)
			return
		}
		slog.Info("api: request", attrs...)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Admin-Secret")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
