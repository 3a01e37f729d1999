// Package api exposes transfers, photo browsing and account linking over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/vipul43/photo-porter/internal/config"
	"github.com/vipul43/photo-porter/internal/metrics"
	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/service"
)

const maxBodyBytes = 1 << 20

// PhotoBrowser lists a linked account's albums and items
type PhotoBrowser interface {
	ListAlbums(ctx context.Context, accessToken string) ([]photos.Album, error)
	GetAlbum(ctx context.Context, accessToken, albumID string) (*photos.Album, error)
	ListItems(ctx context.Context, accessToken, albumID string) ([]photos.MediaItem, error)
	AuthCodeURL(state string) string
}

// HealthChecker is anything readiness depends on
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) PingContext(ctx context.Context) error { return f(ctx) }

type Server struct {
	router    *gin.Engine
	transfers *service.TransferService
	accounts  *service.AccountService
	photos    PhotoBrowser
	database  HealthChecker
	queue     HealthChecker
	metrics   *metrics.Metrics
	limiter   *IPRateLimiter

	// background batches outlive their request
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// Dependencies groups what the handlers call into
type Dependencies struct {
	Transfers *service.TransferService
	Accounts  *service.AccountService
	Photos    PhotoBrowser
	Database  HealthChecker
	Queue     HealthChecker
	Metrics   *metrics.Metrics
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	perHour := cfg.APIRateLimitPerHour
	if perHour <= 0 {
		perHour = 100
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		router:    gin.New(),
		transfers: deps.Transfers,
		accounts:  deps.Accounts,
		photos:    deps.Photos,
		database:  deps.Database,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		limiter:   NewIPRateLimiter(perHour, time.Hour),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(metrics.Middleware(s.metrics, log.Default()))
	s.router.Use(loggingMiddleware())
	s.router.Use(bodyLimitMiddleware(maxBodyBytes))

	s.setupRoutes()
	return s
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/liveness", s.handleLiveness)
	s.router.GET("/health/readiness", s.handleReadiness)

	limited := s.router.Group("")
	limited.Use(rateLimitMiddleware(s.limiter))
	{
		limited.POST("/transfers", s.handleCreateTransfer)
		limited.GET("/transfers", s.handleListTransfers)
		limited.GET("/transfers/:id", s.handleGetTransfer)
		limited.GET("/transfers/:id/status", s.handleTransferStatus)
		limited.POST("/transfers/:id/retry", s.handleRetryTransfer)
		limited.GET("/transfers/:id/logs", s.handleTransferLogs)
		limited.GET("/queued-transfers", s.handleListQueuedTransfers)

		limited.GET("/photos/albums", s.handleListAlbums)
		limited.GET("/photos/albums/:albumId", s.handleGetAlbum)
		limited.GET("/photos/albums/:albumId/items", s.handleListAlbumItems)
		limited.POST("/photos/albums/:albumId/transfer", s.handleTransferAlbum)

		limited.GET("/auth/login", s.handleLogin)
		limited.GET("/auth/callback", s.handleCallback)
		limited.GET("/auth/status", s.handleAuthStatus)
	}
}

// runInBackground starts fn detached from the request. Wait blocks on it.
func (s *Server) runInBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx)
	}()
}

// Wait blocks until background batches finish or ctx expires. On expiry the
// batches are cancelled and their in-flight items are recorded as failed.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn("Shutdown timeout reached, cancelling background transfers")
		s.bgCancel()
		<-done
		return ctx.Err()
	}
}

// loggingMiddleware writes one structured line per request
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func bodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}
