package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/credential"
	"github.com/driftmail/driftmail/internal/domains"
)

// domainAdmin is satisfied by *domains.Repository.
type domainAdmin interface {
	Insert(ctx context.Context, name string) (*domains.Domain, error)
}

// credentialAdmin is satisfied by *credential.Service.
type credentialAdmin interface {
	Revoke(ctx context.Context, id uuid.UUID) error
}

// AdminHandler exposes operator-only management routes guarded by a shared
// admin secret from configuration.
type AdminHandler struct {
	domains   domainAdmin
	creds     credentialAdmin
	allowlist *domains.Allowlist
	secret    string
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler. An empty secret disables the
// routes entirely.
func NewAdminHandler(d domainAdmin, c credentialAdmin, allowlist *domains.Allowlist, secret string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{domains: d, creds: c, allowlist: allowlist, secret: secret, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	if h.secret == "" {
		return
	}
	admin := rg.Group("/admin", h.requireSecret)
	{
		admin.POST("/domains", h.AddDomain)
		admin.DELETE("/credentials/:id", h.RevokeCredential)
	}
}

func (h *AdminHandler) requireSecret(c *gin.Context) {
	got := c.GetHeader("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin secret required"})
		return
	}
	c.Next()
}

// AddDomain handles POST /admin/domains with body {"name": "example.com"}.
func (h *AdminHandler) AddDomain(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.domains.Insert(c.Request.Context(), req.Name)
	if err != nil {
		if errors.Is(err, domains.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": "domain already registered"})
			return
		}
		h.logger.Error("add domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add domain"})
		return
	}

	// Make the new domain visible to link rendering without waiting out the TTL.
	h.allowlist.Invalidate()

	c.JSON(http.StatusCreated, d)
}

// RevokeCredential handles DELETE /admin/credentials/:id.
func (h *AdminHandler) RevokeCredential(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential ID"})
		return
	}

	if err := h.creds.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		h.logger.Error("revoke credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true, "id": id})
}
