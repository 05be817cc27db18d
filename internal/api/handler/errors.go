package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/confirm"
	"github.com/driftmail/driftmail/internal/database"
)

// Machine-readable error codes. The core returns typed errors; the mapping
// to HTTP lives here at the boundary, in one table.
const (
	codeInvalidInput        = "invalid_input"
	codeInvalidOrExpired    = "invalid_or_expired"
	codeConflict            = "conflict"
	codeNotFound            = "not_found"
	codeResourceBusy        = "resource_busy"
	codeConfirmedNotApplied = "confirmed_not_applied"
	codeInternal            = "internal"
)

// respondError translates a core error into its HTTP shape.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, confirm.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": codeInvalidInput})

	case errors.Is(err, confirm.ErrInvalidOrExpired):
		// Deliberately uniform: unknown, consumed and expired secrets are
		// indistinguishable to the caller.
		c.JSON(http.StatusNotFound, gin.H{"error": "confirmation invalid or expired", "code": codeInvalidOrExpired})

	case errors.Is(err, confirm.ErrConfirmedNotApplied):
		// The secret is spent but the mutation did not land. Its own code so
		// operators can spot it; retrying the redemption will not help.
		logger.Error("confirmed but not applied", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "request was confirmed but could not be applied; contact support",
			"code":  codeConfirmedNotApplied,
		})

	case errors.Is(err, database.ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy, try again shortly", "code": codeResourceBusy})

	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": codeInternal})
	}
}

// retryAfter sets a Retry-After header derived from the throttle meta.
func retryAfter(c *gin.Context, meta confirm.Meta) {
	wait := time.Until(meta.NextAllowedSendAt)
	if wait < time.Second {
		wait = time.Second
	}
	c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())))
}
