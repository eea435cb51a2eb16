package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"invoicesync/internal/ledger"
	"invoicesync/internal/report"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAudit(c *gin.Context) {
	filter := ledger.AuditFilter{
		Status: c.Query("status"),
		Limit:  defaultAuditLimit,
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a positive integer"})
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "since must be an RFC3339 timestamp"})
			return
		}
		filter.Since = since
	}

	records, err := s.audit.ListAudit(c.Request.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list audit records")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"count":   len(records),
	})
}

func (s *Server) handleGetAudit(c *gin.Context) {
	rec, err := s.audit.GetAudit(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "audit record not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("audit_id", c.Param("id")).Msg("Failed to load audit record")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// handleSync runs a batch. Requests arriving while a batch is running wait
// for it and receive its summary instead of starting another.
func (s *Server) handleSync(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())

	v, err, shared := s.flight.Do("sync", func() (any, error) {
		return s.runner.Run(ctx)
	})
	summary, _ := v.(*report.Summary)

	if err != nil {
		s.log.Error().Err(err).Bool("shared", shared).Msg("Triggered sync failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
			"data":    summary,
			"shared":  shared,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
		"shared":  shared,
	})
}

func (s *Server) handlePaymentSync(c *gin.Context) {
	paymentID := c.Param("id")

	result, err := s.payments.SyncPayment(c.Request.Context(), paymentID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
		return
	case err != nil:
		s.log.Error().Err(err).Str("payment_id", paymentID).Msg("Payment sync failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "data": result})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}
