package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// ViolationHandler is the admin-facing violation feed.
type ViolationHandler struct {
	Repo repository.ViolationRepository
}

func (h *ViolationHandler) Register(r *gin.Engine) {
	v := r.Group("/api/v1/violations")
	v.GET("", h.list)
}

func (h *ViolationHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListViolationsParams{
		Limit:    limit,
		Offset:   offset,
		MatchID:  strQueryPtr(c, "match_id"),
		Rule:     strQueryPtr(c, "rule"),
		Severity: strQueryPtr(c, "severity"),
		Asc:      boolPtr(false),
	}
	items, err := h.Repo.ListViolations(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountViolations(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
