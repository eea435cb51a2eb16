// Package server exposes the integration over HTTP: health, the audit log, a
// batch trigger and the payment sync webhook.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"invoicesync/internal/ledger"
	"invoicesync/internal/logger"
	"invoicesync/internal/paymentsync"
	"invoicesync/internal/report"
	"invoicesync/pkg/models"
)

// Runner runs one ingestion batch.
type Runner interface {
	Run(ctx context.Context) (*report.Summary, error)
}

// PaymentSyncer pushes a payment's paid bills to the source.
type PaymentSyncer interface {
	SyncPayment(ctx context.Context, paymentID string) (paymentsync.Result, error)
}

// AuditReader reads the integration log.
type AuditReader interface {
	ListAudit(ctx context.Context, f ledger.AuditFilter) ([]models.AuditRecord, error)
	GetAudit(ctx context.Context, id string) (*models.AuditRecord, error)
}

// Server is the HTTP surface
type Server struct {
	runner   Runner
	payments PaymentSyncer
	audit    AuditReader
	router   *gin.Engine
	flight   singleflight.Group
	log      zerolog.Logger
}

// NewServer creates a new server with all routes registered
func NewServer(runner Runner, payments PaymentSyncer, audit AuditReader) *Server {
	router := gin.New()

	s := &Server{
		runner:   runner,
		payments: payments,
		audit:    audit,
		router:   router,
		log:      logger.WithComponent("server"),
	}

	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1")
	{
		api.GET("/audit", s.handleListAudit)
		api.GET("/audit/:id", s.handleGetAudit)
		api.POST("/sync", s.handleSync)
		api.POST("/payments/:id/sync", s.handlePaymentSync)
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
