package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/attribution"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/ledger"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// OrderHandler is the order gateway: capacity check synchronously, venue
// forwarding, attribution in the background.
type OrderHandler struct {
	Ledger   *ledger.Ledger
	Exchange exchange.OrderPlacer
	Ingestor *attribution.Ingestor
	Logger   *zap.Logger
}

func (h *OrderHandler) Register(r *gin.Engine) {
	o := r.Group("/api/v1/orders")
	o.POST("", h.place)

	f := r.Group("/api/v1/fills")
	f.POST("", h.ingestFill)
}

type placeOrderRequest struct {
	Account    string           `json:"account" binding:"required"`
	MatchID    string           `json:"match_id"`
	Symbol     string           `json:"symbol" binding:"required"`
	Side       string           `json:"side" binding:"required"`
	Type       string           `json:"type"`
	Amount     decimal.Decimal  `json:"amount" binding:"required"`
	Price      *decimal.Decimal `json:"price"`
	ReduceOnly bool             `json:"reduce_only"`
}

func (h *OrderHandler) place(c *gin.Context) {
	if h.Exchange == nil {
		Error(c, http.StatusServiceUnavailable, "exchange unavailable", nil)
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != models.SideBuy && side != models.SideSell {
		Error(c, http.StatusBadRequest, "side must be buy or sell", nil)
		return
	}
	if !req.Amount.IsPositive() {
		Error(c, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	// The capacity ceiling is enforced before the order ever reaches the
	// venue. Reduce-only orders pass unconditionally.
	if req.MatchID != "" && h.Ledger != nil {
		notional := req.Amount
		if req.Price != nil {
			notional = req.Amount.Mul(*req.Price)
		}
		err := h.Ledger.CheckCapacity(c.Request.Context(), req.MatchID, req.Account, notional, req.ReduceOnly)
		switch {
		case errors.Is(err, ledger.ErrCapacityExceeded):
			Error(c, http.StatusConflict, err.Error(), map[string]any{
				"reason": "capacity_exceeded",
			})
			return
		case errors.Is(err, ledger.ErrUnknownParticipant):
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		case err != nil:
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}

	ack, err := h.Exchange.PlaceOrder(c.Request.Context(), exchange.OrderRequest{
		Account:    req.Account,
		Symbol:     req.Symbol,
		Side:       side,
		Type:       req.Type,
		Amount:     req.Amount,
		Price:      req.Price,
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	// Attribution runs fire-and-forget: a failure here is reconciled later
	// and never fails the placed order.
	if h.Ingestor != nil && ack.SourceFillID != 0 {
		price := ack.AvgPrice
		if price.IsZero() && req.Price != nil {
			price = *req.Price
		}
		amount := ack.FilledAmount
		if amount.IsZero() {
			amount = req.Amount
		}
		executedAt := ack.ExecutedAt
		if executedAt.IsZero() {
			executedAt = time.Now().UTC()
		}
		ingest := attribution.IngestRequest{
			MatchID:      req.MatchID,
			UserID:       req.Account,
			OrderID:      ack.OrderID,
			SourceFillID: ack.SourceFillID,
			Symbol:       req.Symbol,
			Side:         side,
			Amount:       amount,
			Price:        price,
			ExecutedAt:   executedAt,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := h.Ingestor.Ingest(ctx, ingest); err != nil && h.Logger != nil {
				h.Logger.Warn("background attribution failed",
					zap.Int64("source_fill_id", ingest.SourceFillID),
					zap.Error(err))
			}
		}()
	}

	Ok(c, ack, nil)
}

type ingestFillRequest struct {
	MatchID      string          `json:"match_id"`
	UserID       string          `json:"user_id" binding:"required"`
	OrderID      string          `json:"order_id"`
	SourceFillID int64           `json:"source_fill_id" binding:"required"`
	Symbol       string          `json:"symbol" binding:"required"`
	Side         string          `json:"side" binding:"required"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	Price        decimal.Decimal `json:"price"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// ingestFill accepts a venue fill push. Re-delivery of the same source fill
// is a no-op, so the venue may send at-least-once.
func (h *OrderHandler) ingestFill(c *gin.Context) {
	if h.Ingestor == nil {
		Error(c, http.StatusServiceUnavailable, "ingestor unavailable", nil)
		return
	}
	var req ingestFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != models.SideBuy && side != models.SideSell {
		Error(c, http.StatusBadRequest, "side must be buy or sell", nil)
		return
	}
	executedAt := req.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	err := h.Ingestor.Ingest(c.Request.Context(), attribution.IngestRequest{
		MatchID:      req.MatchID,
		UserID:       req.UserID,
		OrderID:      req.OrderID,
		SourceFillID: req.SourceFillID,
		Symbol:       req.Symbol,
		Side:         side,
		Amount:       req.Amount,
		Price:        req.Price,
		ExecutedAt:   executedAt,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"accepted": true}, nil)
}
