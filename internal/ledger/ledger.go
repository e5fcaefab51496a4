package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// ErrCapacityExceeded rejects an order that would push the participant's
// cumulative opening notional above the committed stake.
var ErrCapacityExceeded = errors.New("stake capacity exceeded")

// ErrUnknownParticipant rejects orders referencing a match the user never
// joined.
var ErrUnknownParticipant = errors.New("participant not found")

// Store is the persistence slice the ledger needs.
type Store interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error)
	RaiseOpeningNotionalMark(ctx context.Context, matchID, userID string, newMark decimal.Decimal) error
	ListSymbolFlows(ctx context.Context, matchID, userID string) ([]models.SymbolFlow, error)
	LastAttributedPrices(ctx context.Context, matchID, userID string) (map[string]decimal.Decimal, error)
}

// Ledger tracks per-participant capital commitment against the match stake.
// The ceiling check uses the lifetime opening-notional high-water mark, not
// current exposure: capital freed by closing positions is not handed back.
type Ledger struct {
	Repo   Store
	Logger *zap.Logger
}

// CheckCapacity answers whether an order may commit notional more capital.
// Reduce-only orders are exempt since they can only shrink exposure. The
// check is read-only; the mark only advances once the fill is attributed.
func (l *Ledger) CheckCapacity(ctx context.Context, matchID, userID string, notional decimal.Decimal, reduceOnly bool) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	if reduceOnly {
		return nil
	}
	match, err := l.Repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("%w: match %s", ErrUnknownParticipant, matchID)
	}
	participant, err := l.Repo.GetParticipant(ctx, matchID, userID)
	if err != nil {
		return err
	}
	if participant == nil {
		return fmt.Errorf("%w: user %s in match %s", ErrUnknownParticipant, userID, matchID)
	}
	projected := participant.OpeningNotionalMark.Add(notional)
	if projected.GreaterThan(match.Stake) {
		return fmt.Errorf("%w: committed %s + order %s exceeds stake %s",
			ErrCapacityExceeded,
			participant.OpeningNotionalMark.String(),
			notional.String(),
			match.Stake.String(),
		)
	}
	return nil
}

// RecordOpeningNotional advances the high-water mark to newMark when larger.
// Safe to call with stale values in any order; the mark never decreases.
func (l *Ledger) RecordOpeningNotional(ctx context.Context, matchID, userID string, newMark decimal.Decimal) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	if newMark.IsNegative() {
		return nil
	}
	return l.Repo.RaiseOpeningNotionalMark(ctx, matchID, userID, newMark)
}

// CurrentExposure values the participant's open match positions at the last
// attributed price per symbol. Display only; the capacity ceiling never
// consults it.
func (l *Ledger) CurrentExposure(ctx context.Context, matchID, userID string) (decimal.Decimal, error) {
	if l == nil || l.Repo == nil {
		return decimal.Zero, nil
	}
	flows, err := l.Repo.ListSymbolFlows(ctx, matchID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(flows) == 0 {
		return decimal.Zero, nil
	}
	prices, err := l.Repo.LastAttributedPrices(ctx, matchID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, flow := range flows {
		net := flow.Net()
		if net.IsZero() {
			continue
		}
		price, ok := prices[flow.Symbol]
		if !ok {
			continue
		}
		total = total.Add(net.Abs().Mul(price))
	}
	return total, nil
}
