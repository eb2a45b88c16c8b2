package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/api/middleware"
	"github.com/railzwaylabs/experiment-broker/internal/config"
	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

// Operator runs broker operations on demand.
type Operator interface {
	PushExperiment(ctx context.Context, experimentID int64) error
	Pass(name string) (func(ctx context.Context) error, bool)
}

// History lists the changelog of one experiment, oldest first.
type History interface {
	ListByExperiment(ctx context.Context, experimentID int64) ([]*changelog.Entry, error)
}

type Router struct {
	engine   *gin.Engine
	server   *http.Server
	cfg      *config.Config
	repo     experiment.Repository
	operator Operator
	history  History
	logger   *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	repo experiment.Repository,
	operator Operator,
	history History,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Correlation())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:   r,
		cfg:      cfg,
		repo:     repo,
		operator: operator,
		history:  history,
		logger:   logger.Named("api"),
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api")
	{
		api.GET("/experiments", r.ListExperiments)
		api.GET("/experiments/:slug", r.GetExperiment)
		api.GET("/experiments/:slug/changelog", r.GetExperimentChangelog)
		api.GET("/queue", r.GetQueue)
	}

	// Protected by ADMIN_API_TOKEN
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.POST("/tasks/:task", r.RunTask)
		admin.POST("/experiments/:id/push", r.PushExperiment)
	}
}

// Handler exposes the engine, mostly for tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
