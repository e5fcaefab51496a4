package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/ledger"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/live"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/settlement"
)

type MatchHandler struct {
	Repo      repository.Repository
	Validator *settlement.Validator
	Ledger    *ledger.Ledger
	Facts     exchange.FactSource
	Registry  *live.Registry
	Logger    *zap.Logger
	Config    config.MatchConfig
}

func (h *MatchHandler) Register(r *gin.Engine) {
	m := r.Group("/api/v1/matches")
	m.POST("", h.create)
	m.GET("", h.list)
	m.GET("/:id", h.get)
	m.POST("/:id/join", h.join)
	m.GET("/:id/result", h.result)
	m.POST("/:id/settle", h.settle)
	m.GET("/:id/events", h.events)
}

type createMatchRequest struct {
	UserID   string          `json:"user_id" binding:"required"`
	Stake    decimal.Decimal `json:"stake" binding:"required"`
	Duration string          `json:"duration"`
}

func (h *MatchHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req createMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	minStake := decimal.NewFromFloat(h.Config.MinStake)
	maxStake := decimal.NewFromFloat(h.Config.MaxStake)
	if req.Stake.LessThan(minStake) || (maxStake.IsPositive() && req.Stake.GreaterThan(maxStake)) {
		Error(c, http.StatusBadRequest, "stake out of bounds", map[string]any{
			"min": minStake.String(),
			"max": maxStake.String(),
		})
		return
	}
	duration := h.Config.DefaultDuration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid duration", nil)
			return
		}
		duration = parsed
	}
	if duration < h.Config.MinDuration || duration > h.Config.MaxDuration {
		Error(c, http.StatusBadRequest, "duration out of bounds", nil)
		return
	}

	match := &models.Match{
		ID:            uuid.NewString(),
		CreatorUserID: req.UserID,
		Stake:         req.Stake,
		Duration:      duration,
		Status:        models.MatchStatusPending,
	}
	if err := h.Repo.CreateMatch(c.Request.Context(), match); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	participant := h.buildParticipant(c, match.ID, req.UserID, 0)
	if err := h.Repo.CreateParticipant(c.Request.Context(), participant); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, match, nil)
}

type joinMatchRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *MatchHandler) join(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req joinMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	matchID := c.Param("id")
	participant := h.buildParticipant(c, matchID, req.UserID, 1)
	startedAt := time.Now().UTC()
	joined, err := h.Repo.JoinMatch(c.Request.Context(), matchID, participant, startedAt)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if !joined {
		Error(c, http.StatusConflict, "match not joinable", nil)
		return
	}
	match, err := h.Repo.GetMatch(c.Request.Context(), matchID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, match, nil)
}

// buildParticipant captures the pre-match position snapshot and session
// metadata at join time. A snapshot failure degrades to an empty snapshot;
// the classifier's conservative fallback covers it.
func (h *MatchHandler) buildParticipant(c *gin.Context, matchID, userID string, slot int) *models.Participant {
	participant := &models.Participant{
		MatchID:            matchID,
		UserID:             userID,
		Slot:               slot,
		SessionIP:          c.ClientIP(),
		SessionFingerprint: c.GetHeader("X-Device-Fingerprint"),
		JoinedAt:           time.Now().UTC(),
	}
	if h.Facts == nil {
		return participant
	}
	positions, err := h.Facts.Positions(c.Request.Context(), userID)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("pre-match snapshot unavailable",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return participant
	}
	snapshot := make([]models.PreMatchPosition, 0, len(positions))
	for _, p := range positions {
		snapshot = append(snapshot, models.PreMatchPosition{
			Symbol:     p.Symbol,
			Amount:     p.Amount,
			EntryPrice: p.EntryPrice,
		})
	}
	if raw, err := json.Marshal(snapshot); err == nil {
		participant.PreMatchPositions = raw
	}
	return participant
}

func (h *MatchHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListMatchesParams{
		Limit:  limit,
		Offset: offset,
		Status: strQueryPtr(c, "status"),
		UserID: strQueryPtr(c, "user_id"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
			"started_at": "started_at",
			"stake":      "stake",
		}),
		Asc: boolPtr(false),
	}
	items, err := h.Repo.ListMatches(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountMatches(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *MatchHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	match, err := h.Repo.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if match == nil {
		Error(c, http.StatusNotFound, "match not found", nil)
		return
	}
	participants, err := h.Repo.ListParticipants(c.Request.Context(), match.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	type participantView struct {
		models.Participant
		CurrentExposure string `json:"current_exposure"`
	}
	views := make([]participantView, 0, len(participants))
	for _, p := range participants {
		view := participantView{Participant: p}
		if h.Ledger != nil {
			exposure, err := h.Ledger.CurrentExposure(c.Request.Context(), match.ID, p.UserID)
			if err == nil {
				view.CurrentExposure = exposure.String()
			}
		}
		views = append(views, view)
	}
	Ok(c, gin.H{"match": match, "participants": views}, nil)
}

func (h *MatchHandler) result(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	match, err := h.Repo.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if match == nil {
		Error(c, http.StatusNotFound, "match not found", nil)
		return
	}
	participants, err := h.Repo.ListParticipants(c.Request.Context(), match.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	type participantResult struct {
		UserID          string `json:"userId"`
		FinalPnlPercent string `json:"finalPnlPercent"`
		FinalScoreUsdc  string `json:"finalScoreUsdc"`
		TradesCount     int    `json:"tradesCount"`
	}
	results := make([]participantResult, 0, len(participants))
	for _, p := range participants {
		res := participantResult{UserID: p.UserID, TradesCount: p.TradesCount}
		if p.FinalPnlPercent != nil {
			res.FinalPnlPercent = p.FinalPnlPercent.String()
		}
		if p.FinalScore != nil {
			res.FinalScoreUsdc = p.FinalScore.String()
		}
		results = append(results, res)
	}
	Ok(c, gin.H{
		"status":       match.Status,
		"winnerId":     match.WinnerUserID,
		"isDraw":       match.IsDraw,
		"participants": results,
	}, nil)
}

func (h *MatchHandler) settle(c *gin.Context) {
	if h.Validator == nil {
		Error(c, http.StatusServiceUnavailable, "validator unavailable", nil)
		return
	}
	matchID := c.Param("id")
	if err := h.Validator.Settle(c.Request.Context(), matchID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	match, err := h.Repo.GetMatch(c.Request.Context(), matchID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, match, nil)
}

// events streams attributed fills for one match as server-sent events.
func (h *MatchHandler) events(c *gin.Context) {
	if h.Registry == nil {
		Error(c, http.StatusServiceUnavailable, "live registry unavailable", nil)
		return
	}
	ch, cancel := h.Registry.Subscribe(c.Param("id"), 32)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("fill", event)
			return true
		}
	})
}
