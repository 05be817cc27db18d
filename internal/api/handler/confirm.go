package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/confirm"
	"github.com/driftmail/driftmail/internal/database"
)

// tokenIssuer is satisfied by *confirm.Issuer.
type tokenIssuer interface {
	Request(ctx context.Context, subject string, intent confirm.Intent, payload confirm.Payload) (*confirm.IssueResult, error)
}

// tokenRedeemer is satisfied by *confirm.Redeemer.
type tokenRedeemer interface {
	Redeem(ctx context.Context, secretPlain string) (*confirm.RedeemResult, error)
}

// ConfirmHandler exposes the confirmation-gated mutation flow over HTTP.
type ConfirmHandler struct {
	issuer   tokenIssuer
	redeemer tokenRedeemer
	logger   *zap.Logger
}

// NewConfirmHandler creates a ConfirmHandler.
func NewConfirmHandler(issuer tokenIssuer, redeemer tokenRedeemer, logger *zap.Logger) *ConfirmHandler {
	return &ConfirmHandler{issuer: issuer, redeemer: redeemer, logger: logger}
}

// Register mounts the confirmation routes on the given router group.
func (h *ConfirmHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/confirmations", h.RequestConfirmation)
	rg.POST("/confirm", h.Redeem)
	rg.GET("/confirm/:token", h.RedeemLink)
}

type confirmationRequest struct {
	Email   string `json:"email" binding:"required"`
	Intent  string `json:"intent" binding:"required"`
	Payload struct {
		LocalPart    string `json:"local_part"`
		Domain       string `json:"domain"`
		LifetimeDays int    `json:"lifetime_days"`
	} `json:"payload"`
}

// RequestConfirmation handles POST /confirmations.
//
// Request body: {"email": "...", "intent": "create_alias", "payload": {...}}
//
// The one-time secret is delivered out of band; the response only reports
// the action taken and the throttle meta.
func (h *ConfirmHandler) RequestConfirmation(c *gin.Context) {
	var req confirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": codeInvalidInput})
		return
	}

	intent, err := confirm.ParseIntent(req.Intent)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	payload := confirm.Payload{
		LocalPart:    req.Payload.LocalPart,
		Domain:       req.Payload.Domain,
		LifetimeDays: req.Payload.LifetimeDays,
	}

	res, err := h.issuer.Request(c.Request.Context(), req.Email, intent, payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	RecordIssue(string(intent), string(res.Action))

	switch res.Action {
	case confirm.ActionCooldown, confirm.ActionRateLimited:
		retryAfter(c, res.Meta)
		c.JSON(http.StatusTooManyRequests, res)
	default:
		c.JSON(http.StatusAccepted, res)
	}
}

// Redeem handles POST /confirm with body {"token": "..."}.
func (h *ConfirmHandler) Redeem(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": codeInvalidInput})
		return
	}
	h.redeem(c, req.Token)
}

// RedeemLink handles GET /confirm/:token — the click-through variant of the
// confirmation mail.
func (h *ConfirmHandler) RedeemLink(c *gin.Context) {
	h.redeem(c, c.Param("token"))
}

func (h *ConfirmHandler) redeem(c *gin.Context, token string) {
	res, err := h.redeemer.Redeem(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, confirm.ErrInvalidOrExpired) {
			RecordRedeem("invalid_or_expired")
		} else if errors.Is(err, confirm.ErrConfirmedNotApplied) {
			RecordRedeem("confirmed_not_applied")
		} else if errors.Is(err, database.ErrBusy) {
			RecordRedeem("busy")
		} else {
			RecordRedeem("internal")
		}
		respondError(c, h.logger, err)
		return
	}

	RecordRedeem(string(res.Outcome.Status))

	body := gin.H{
		"subject": res.Subject,
		"intent":  res.Intent,
		"outcome": res.Outcome,
	}
	// The minted key is handed out exactly here, exactly once.
	if res.Outcome.CredentialPlain != "" {
		body["api_key"] = res.Outcome.CredentialPlain
	}

	switch res.Outcome.Status {
	case confirm.ApplyApplied:
		c.JSON(http.StatusOK, body)
	case confirm.ApplyAlreadyExists, confirm.ApplyOwnerMismatch:
		body["code"] = codeConflict
		c.JSON(http.StatusConflict, body)
	case confirm.ApplyNotFound:
		body["code"] = codeNotFound
		c.JSON(http.StatusNotFound, body)
	default:
		c.JSON(http.StatusOK, body)
	}
}
