package httpserver

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/meetsmatch/roommates/internal/cache"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/middleware"
	"github.com/meetsmatch/roommates/internal/monitoring"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// Config holds the HTTP server configuration
type Config struct {
	Host            string                     `mapstructure:"host"`
	Port            int                        `mapstructure:"port"`
	ReadTimeout     time.Duration              `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration              `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration              `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string                   `mapstructure:"allowed_origins"`
	RateLimit       middleware.RateLimitConfig `mapstructure:"rate_limit"`
	ResponseCache   bool                       `mapstructure:"response_cache"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AllowedOrigins:  []string{"*"},
		RateLimit:       middleware.RateLimitConfig{Burst: 20, RefillRate: time.Second},
		ResponseCache:   true,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Deps are the collaborators of the HTTP API. Cache, Health and Metrics are optional.
type Deps struct {
	Matching    interfaces.MatchingServiceInterface
	Auth        *middleware.JWTAuth
	Cache       interfaces.Cache
	Health      *monitoring.HealthChecker
	Metrics     *monitoring.HTTPInstrumentation
	ServiceName string
}

// Server is the matching HTTP API.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
}

// New builds the router and the underlying http.Server.
func New(config Config, deps Deps) (*Server, error) {
	if deps.Matching == nil {
		return nil, fmt.Errorf("matching service is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "roommates"
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealthChecker(deps.ServiceName, "dev")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{config: config, router: newRouter(config, deps)}
	s.httpServer = &http.Server{
		Addr:         config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

func newRouter(config Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(otelgin.Middleware(deps.ServiceName))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
	router.Use(
		middleware.CorrelationID(),
		middleware.LoggingMiddleware(nil),
		middleware.ErrorHandler(),
	)

	router.GET("/health", deps.Health.HealthHandler())
	router.GET("/health/live", deps.Health.LivenessHandler())

	h := &handlers{matching: deps.Matching}
	rateLimit := middleware.NewRateLimitMiddleware(config.RateLimit)

	api := router.Group("/api/v1", deps.Auth.Middleware(), rateLimit.Middleware())
	{
		profiles := api.Group("/profiles/:id")
		profiles.POST("/matches/generate", h.generateMatches)
		profiles.GET("/matches", h.listMatches)
		profiles.GET("/matches/mutual", h.listMutualMatches)
		profiles.GET("/stats", h.matchStats)

		matches := api.Group("/matches/:id")
		matches.GET("", h.getMatch)
		matches.POST("/like", h.like)
		matches.POST("/decline", h.decline)
		matches.POST("/retry-conversation", h.retryConversation)
		matches.GET("/explanation", h.explain)

		responseCache := middleware.NewCacheMiddleware(deps.Cache, middleware.CacheConfig{
			Enabled: config.ResponseCache,
			TTL:     cache.CompatibilityTTL,
		})
		api.GET("/compatibility", responseCache.Handler(), h.compatibility)
	}

	return router
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.CorrelationHeader},
		ExposedHeaders:   []string{middleware.CorrelationHeader, middleware.CacheHeader},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := telemetry.GetContextualLogger(ctx).WithField("addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
