package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orrn/printdesk/internal/api/handlers"
	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

const requestIDHeader = "X-Request-ID"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Service   *core.Service
	Auth      *middleware.AuthMiddleware
	Counter   core.PageCounter
	Exporter  handlers.Exporter
	Health    Pinger
	Metrics   http.Handler
	Location  *time.Location
	UploadDir string
	MaxUpload int64
	Logger    *slog.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(RequestLogger(logger.With("component", "http")), gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("panic in handler", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, handlers.ErrorResponse{Error: "Internal server error"})
	}))

	r.GET("/healthz", healthHandler(d.Health))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	r.POST("/login", d.Auth.LoginHandler)

	authed := r.Group("/", d.Auth.RequireAuth())
	authed.POST("/change-password", d.Auth.ChangePasswordHandler)

	ready := authed.Group("/", d.Auth.RequirePasswordChanged())
	admin := ready.Group("/admin", d.Auth.RequireAdmin())

	handlers.NewPrinterHandler(d.Service, logger).RegisterRoutes(authed)
	handlers.NewJobHandler(d.Service, d.Exporter, d.Location, logger).RegisterRoutes(authed, ready, admin)
	handlers.NewPrintHandler(d.Service, d.Counter, d.UploadDir, d.MaxUpload, logger).RegisterRoutes(ready)

	return r
}

func healthHandler(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RequestLogger logs one line per request and tags it with a request id.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
