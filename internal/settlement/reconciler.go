package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// ReconcilerStore is the persistence slice the reconciler needs.
type ReconcilerStore interface {
	ListLiveMatchesEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Match, error)
	ListFactPendingFills(ctx context.Context, limit int) ([]models.PlatformFill, error)
	ResolveFillFact(ctx context.Context, sourceFillID int64, price, fee, pnl decimal.Decimal) error
}

// Reconciler is the periodic sweep: it settles live matches whose window has
// elapsed and backfills venue facts for fills recorded before the fact was
// visible. Per-item failures are logged and retried on the next run.
type Reconciler struct {
	Repo      ReconcilerStore
	Validator *Validator
	Facts     exchange.FactSource
	Logger    *zap.Logger
	Config    config.ReconcilerConfig
}

func (r *Reconciler) RunOnce(ctx context.Context) {
	if r == nil || r.Repo == nil {
		return
	}
	r.settleElapsed(ctx)
	r.resolvePendingFacts(ctx)
}

func (r *Reconciler) settleElapsed(ctx context.Context) {
	if r.Validator == nil {
		return
	}
	matches, err := r.Repo.ListLiveMatchesEndedBefore(ctx, time.Now().UTC(), r.Config.BatchSize)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("reconciler: list elapsed matches failed", zap.Error(err))
		}
		return
	}
	for _, match := range matches {
		if ctx.Err() != nil {
			return
		}
		if err := r.Validator.Settle(ctx, match.ID); err != nil {
			if r.Logger != nil {
				r.Logger.Warn("reconciler: settle failed",
					zap.String("match_id", match.ID),
					zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) resolvePendingFacts(ctx context.Context) {
	if r.Facts == nil {
		return
	}
	fills, err := r.Repo.ListFactPendingFills(ctx, r.Config.BatchSize)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("reconciler: list pending fills failed", zap.Error(err))
		}
		return
	}
	for _, fill := range fills {
		if ctx.Err() != nil {
			return
		}
		fact, err := r.Facts.FillFact(ctx, fill.SourceFillID)
		if err != nil || fact == nil {
			continue
		}
		if err := r.Repo.ResolveFillFact(ctx, fill.SourceFillID, fact.Price, fact.Fee, fact.Pnl); err != nil {
			if r.Logger != nil {
				r.Logger.Warn("reconciler: resolve fill fact failed",
					zap.Int64("source_fill_id", fill.SourceFillID),
					zap.Error(err))
			}
		}
	}
}
