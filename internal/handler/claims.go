package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/claim"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

type ClaimHandler struct {
	Repo  repository.PayoutRepository
	Claim *claim.Service
}

func (h *ClaimHandler) Register(r *gin.Engine) {
	p := r.Group("/api/v1/payouts")
	p.GET("", h.list)
	p.GET("/:id", h.get)
	p.POST("/:id/claim", h.claim)
}

func (h *ClaimHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListPayouts(c.Request.Context(), repository.ListPayoutsParams{
		Limit:  limit,
		Offset: offset,
		UserID: strQueryPtr(c, "user_id"),
		Status: strQueryPtr(c, "status"),
		Kind:   strQueryPtr(c, "kind"),
		Asc:    boolPtr(false),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *ClaimHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "payout not found", nil)
		return
	}
	Ok(c, item, nil)
}

type claimRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *ClaimHandler) claim(c *gin.Context) {
	if h.Claim == nil {
		Error(c, http.StatusServiceUnavailable, "claim service unavailable", nil)
		return
	}
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Claim.Claim(c.Request.Context(), c.Param("id"), req.UserID)
	switch {
	case errors.Is(err, claim.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, claim.ErrNotOwner):
		Error(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, claim.ErrNotClaimable):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, claim.ErrFundsUnavailable):
		Error(c, http.StatusServiceUnavailable, err.Error(), map[string]any{
			"retryable": true,
		})
	case errors.Is(err, claim.ErrRetryShortly):
		Error(c, http.StatusConflict, err.Error(), map[string]any{
			"retryable": true,
		})
	case err != nil:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	default:
		Ok(c, gin.H{
			"success":           true,
			"amount":            result.Amount.String(),
			"transferReference": result.TransferRef,
		}, nil)
	}
}
