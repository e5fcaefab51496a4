package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

type reconcilerStubStore struct {
	*stubStore

	pending  []models.PlatformFill
	resolved map[int64]decimal.Decimal
}

func (s *reconcilerStubStore) ListLiveMatchesEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Match, error) {
	if s.match != nil && s.match.Status == models.MatchStatusLive && s.match.WindowEnd().Before(cutoff) {
		return []models.Match{*s.match}, nil
	}
	return nil, nil
}

func (s *reconcilerStubStore) ListFactPendingFills(ctx context.Context, limit int) ([]models.PlatformFill, error) {
	return s.pending, nil
}

func (s *reconcilerStubStore) ResolveFillFact(ctx context.Context, sourceFillID int64, price, fee, pnl decimal.Decimal) error {
	if s.resolved == nil {
		s.resolved = map[int64]decimal.Decimal{}
	}
	s.resolved[sourceFillID] = price
	return nil
}

type reconcilerStubFacts struct {
	facts map[int64]*exchange.FillFact
}

func (s *reconcilerStubFacts) FillFact(ctx context.Context, sourceFillID int64) (*exchange.FillFact, error) {
	fact, ok := s.facts[sourceFillID]
	if !ok {
		return nil, errors.New("not visible")
	}
	return fact, nil
}

func (s *reconcilerStubFacts) Positions(ctx context.Context, userID string) ([]exchange.Position, error) {
	return nil, nil
}

func TestReconcilerSettlesElapsedMatch(t *testing.T) {
	match := liveMatch()
	elapsed := time.Now().UTC().Add(-2 * time.Hour)
	match.StartedAt = &elapsed
	inner := &stubStore{
		match:        match,
		participants: twoParticipants(),
		fills: []models.AttributedFill{
			{
				MatchID:    "match-1",
				UserID:     "alice",
				Amount:     decimal.NewFromInt(1),
				Price:      decimal.NewFromInt(2000),
				Pnl:        decimal.NewFromInt(5),
				ExecutedAt: elapsed.Add(10 * time.Minute),
			},
		},
	}
	store := &reconcilerStubStore{stubStore: inner}
	r := &Reconciler{
		Repo:      store,
		Validator: testValidator(inner),
		Facts:     &reconcilerStubFacts{},
		Config:    config.ReconcilerConfig{BatchSize: 50},
	}

	r.RunOnce(context.Background())
	if inner.finalized == nil {
		t.Fatalf("elapsed match not settled")
	}
	if match.Status == models.MatchStatusLive {
		t.Fatalf("match still live after sweep")
	}
}

func TestReconcilerResolvesPendingFacts(t *testing.T) {
	// Fill 13 was never attributed to a match; it still carries the pending
	// flag on its platform row and gets backfilled like any other.
	store := &reconcilerStubStore{
		stubStore: &stubStore{},
		pending: []models.PlatformFill{
			{SourceFillID: 11, FactPending: true},
			{SourceFillID: 12, FactPending: true},
			{SourceFillID: 13, FactPending: true},
		},
	}
	facts := &reconcilerStubFacts{
		facts: map[int64]*exchange.FillFact{
			11: {Price: decimal.NewFromInt(2100), Fee: decimal.NewFromInt(1)},
			13: {Price: decimal.NewFromInt(1950)},
		},
	}
	r := &Reconciler{
		Repo:   store,
		Facts:  facts,
		Config: config.ReconcilerConfig{BatchSize: 50},
	}

	r.RunOnce(context.Background())
	if price, ok := store.resolved[11]; !ok || !price.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("fill 11 not resolved with venue price")
	}
	if _, ok := store.resolved[12]; ok {
		t.Fatalf("fill 12 has no visible fact and must stay pending")
	}
	if price, ok := store.resolved[13]; !ok || !price.Equal(decimal.NewFromInt(1950)) {
		t.Fatalf("platform-only fill 13 not resolved")
	}
}
