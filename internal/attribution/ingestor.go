package attribution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// Store is the persistence slice the ingestor needs.
type Store interface {
	GetSymbolFlow(ctx context.Context, matchID, userID, symbol string) (*models.SymbolFlow, error)
	RecordFill(ctx context.Context, rec repository.FillRecord) (bool, error)

	GetMatch(ctx context.Context, id string) (*models.Match, error)
	GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error)
	PlatformNetFlow(ctx context.Context, userID, symbol string, from, to time.Time) (decimal.Decimal, error)
	RecordExternalTrade(ctx context.Context, matchID, userID string) error
}

// Notifier receives attributed-fill events for live broadcasting.
type Notifier interface {
	FillAttributed(matchID string, fill models.AttributedFill)
}

// Ingestor turns raw exchange fills into attributed ledger writes. It runs on
// the fire-and-forget path relative to order placement: any failure here is
// logged and left to reconciliation, never surfaced to the order caller.
type Ingestor struct {
	Repo     Store
	Facts    exchange.FactSource
	Logger   *zap.Logger
	Config   config.ExchangeConfig
	Notifier Notifier
}

// IngestRequest describes one raw fill observed by the engine.
type IngestRequest struct {
	MatchID string
	UserID  string

	OrderID      string
	SourceFillID int64
	Symbol       string
	Side         string
	Amount       decimal.Decimal
	// Price is the order-side price hint, used for the opening-notional
	// advance when the venue fact is not yet visible.
	Price      decimal.Decimal
	ExecutedAt time.Time
}

// Ingest resolves the venue fact, classifies the fill and persists the
// result in one transaction. Re-delivery of the same source fill is a no-op.
func (s *Ingestor) Ingest(ctx context.Context, req IngestRequest) error {
	if s == nil || s.Repo == nil {
		return nil
	}

	price, fee, pnl := req.Price, decimal.Zero, decimal.Zero
	factPending := false
	fact, err := exchange.FetchFillFactWithRetry(ctx, s.Facts, req.SourceFillID,
		s.Config.FactRetries, s.Config.RetryDelay, s.Config.MaxDelay)
	if err != nil || fact == nil {
		// Venue facts can lag execution reports. Record what we know and
		// let the reconciler fill in price/fee/pnl.
		factPending = true
		if s.Logger != nil {
			s.Logger.Warn("fill fact unresolved, recording pending",
				zap.Int64("source_fill_id", req.SourceFillID),
				zap.String("order_id", req.OrderID),
				zap.Error(err))
		}
	} else {
		price, fee, pnl = fact.Price, fact.Fee, fact.Pnl
	}

	rec := repository.FillRecord{
		Platform: models.PlatformFill{
			UserID:       req.UserID,
			Symbol:       req.Symbol,
			Side:         req.Side,
			Amount:       req.Amount,
			Price:        price,
			Fee:          fee,
			Pnl:          pnl,
			OrderID:      req.OrderID,
			SourceFillID: req.SourceFillID,
			FactPending:  factPending,
			ExecutedAt:   req.ExecutedAt,
		},
	}

	var attributed *models.AttributedFill
	var netAfter *decimal.Decimal
	if req.MatchID != "" {
		matchID := req.MatchID
		rec.Platform.MatchID = &matchID

		verdict, observedNet, err := s.classify(ctx, req)
		if err != nil {
			return err
		}
		netAfter = observedNet
		if verdict.Relevant() {
			attributed = &models.AttributedFill{
				MatchID:      req.MatchID,
				UserID:       req.UserID,
				Symbol:       req.Symbol,
				Side:         req.Side,
				Amount:       verdict.Amount,
				RawAmount:    req.Amount,
				Price:        price,
				Fee:          fee.Mul(verdict.Factor),
				Pnl:          pnl.Mul(verdict.Factor),
				OrderID:      req.OrderID,
				SourceFillID: req.SourceFillID,
				FactPending:  factPending,
				ExecutedAt:   req.ExecutedAt,
			}
			rec.Attributed = attributed
			switch req.Side {
			case models.SideBuy:
				rec.BoughtDelta = verdict.Amount
			case models.SideSell:
				rec.SoldDelta = verdict.Amount
			}
			rec.OpeningNotionalDelta = verdict.Opening.Mul(price)
		}
	}

	recorded, err := s.Repo.RecordFill(ctx, rec)
	if err != nil {
		return err
	}
	if !recorded {
		if s.Logger != nil {
			s.Logger.Debug("duplicate fill ignored",
				zap.Int64("source_fill_id", req.SourceFillID))
		}
		return nil
	}
	if req.MatchID != "" && netAfter != nil {
		s.checkPositionDrift(ctx, req, *netAfter)
	}
	if attributed != nil && s.Notifier != nil {
		s.Notifier.FillAttributed(req.MatchID, *attributed)
	}
	return nil
}

func (s *Ingestor) classify(ctx context.Context, req IngestRequest) (Attribution, *decimal.Decimal, error) {
	flow, err := s.Repo.GetSymbolFlow(ctx, req.MatchID, req.UserID, req.Symbol)
	if err != nil {
		return Attribution{}, nil, err
	}
	matchNet := decimal.Zero
	if flow != nil {
		matchNet = flow.Net()
	}

	var netAfter *decimal.Decimal
	if s.Facts != nil {
		positions, err := s.Facts.Positions(ctx, req.UserID)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("position snapshot unavailable, falling back to match net",
					zap.String("user_id", req.UserID),
					zap.Error(err))
			}
		} else {
			net := exchange.NetAfter(positions, req.Symbol)
			netAfter = &net
		}
	}

	return Classify(ClassifyInput{
		Side:             req.Side,
		Amount:           req.Amount,
		MatchNet:         matchNet,
		ExchangeNetAfter: netAfter,
	}), netAfter, nil
}

// checkPositionDrift compares the venue-reported position after this fill
// with the engine's reconstruction: the pre-match snapshot plus every fill it
// has itself ingested for the symbol since the match started. A residual
// beyond tolerance means trades reached the venue without passing through the
// engine, and the participant's external-trade counter is advanced. Runs only
// on freshly recorded fills, so replays cannot double-count.
func (s *Ingestor) checkPositionDrift(ctx context.Context, req IngestRequest, netAfter decimal.Decimal) {
	match, err := s.Repo.GetMatch(ctx, req.MatchID)
	if err != nil || match == nil || match.StartedAt == nil {
		return
	}
	participant, err := s.Repo.GetParticipant(ctx, req.MatchID, req.UserID)
	if err != nil || participant == nil {
		return
	}
	ingestedNet, err := s.Repo.PlatformNetFlow(ctx, req.UserID, req.Symbol, *match.StartedAt, req.ExecutedAt)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("platform net flow unavailable, skipping drift check",
				zap.String("match_id", req.MatchID),
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
		return
	}
	expected := preMatchNet(participant, req.Symbol).Add(ingestedNet)
	drift := netAfter.Sub(expected)
	if drift.Abs().LessThanOrEqual(amountTolerance) {
		return
	}
	if s.Logger != nil {
		s.Logger.Warn("venue position drift, external trade recorded",
			zap.String("match_id", req.MatchID),
			zap.String("user_id", req.UserID),
			zap.String("symbol", req.Symbol),
			zap.String("drift", drift.String()))
	}
	if err := s.Repo.RecordExternalTrade(ctx, req.MatchID, req.UserID); err != nil && s.Logger != nil {
		s.Logger.Error("external trade record failed",
			zap.String("match_id", req.MatchID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
	}
}

// preMatchNet reads the signed join-time position for the symbol out of the
// participant snapshot.
func preMatchNet(participant *models.Participant, symbol string) decimal.Decimal {
	var positions []models.PreMatchPosition
	if len(participant.PreMatchPositions) > 0 {
		if err := json.Unmarshal(participant.PreMatchPositions, &positions); err != nil {
			return decimal.Zero
		}
	}
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos.Amount
		}
	}
	return decimal.Zero
}
