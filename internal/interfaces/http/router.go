// Package http serves the search service over HTTP with gin.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/internal/interfaces/http/handlers"
	"github.com/turtacn/progres-go/internal/interfaces/http/middleware"
	"github.com/turtacn/progres-go/pkg/errors"
	"github.com/turtacn/progres-go/pkg/types/api"
)

// RouterConfig holds the handlers and middleware settings for NewRouter.
type RouterConfig struct {
	Mode          string // gin mode: debug, release or test
	SearchHandler *handlers.SearchHandler
	HealthHandler *handlers.HealthHandler

	Logger    logging.Logger
	Metrics   *prometheus.AppMetrics
	Collector prometheus.MetricsCollector // serves /metrics when set

	MaxBodySize int64
	RateLimiter middleware.RateLimiter // nil disables rate limiting
	CORSOrigins []string
	Logging     *middleware.LoggingConfig
}

// NewRouter builds the gin engine:
//
//	GET  /healthz, /readyz, /healthz/detail
//	GET  /metrics
//	POST /api/v1/search
//	POST /api/v1/score
//	GET  /api/v1/databases
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logCfg := middleware.DefaultLoggingConfig()
	if cfg.Logging != nil {
		logCfg = *cfg.Logging
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogging(logger, cfg.Metrics, logCfg),
		middleware.Recovery(logger),
	)
	if len(cfg.CORSOrigins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = cfg.CORSOrigins
		r.Use(middleware.CORS(corsCfg))
	}
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, middleware.DefaultRateLimitConfig()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Code:      string(errors.ErrCodeNotFound),
			Message:   "no route for " + c.Request.Method + " " + c.Request.URL.Path,
			RequestID: middleware.GetRequestID(c),
		})
	})

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.Collector != nil {
		r.GET("/metrics", gin.WrapH(cfg.Collector.Handler()))
	}

	if cfg.SearchHandler != nil {
		v1 := r.Group("/api/v1")
		v1.Use(middleware.BodyLimit(cfg.MaxBodySize))
		cfg.SearchHandler.RegisterRoutes(v1)
	}
	return r
}
