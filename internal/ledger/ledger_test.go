package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// stubStore is a test-only in-memory participant store. The mark update
// mirrors the SQL GREATEST semantics.
type stubStore struct {
	match       *models.Match
	participant *models.Participant

	flows  []models.SymbolFlow
	prices map[string]decimal.Decimal
}

func (s *stubStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	return s.match, nil
}

func (s *stubStore) GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error) {
	return s.participant, nil
}

func (s *stubStore) RaiseOpeningNotionalMark(ctx context.Context, matchID, userID string, newMark decimal.Decimal) error {
	if s.participant == nil {
		return errors.New("no participant")
	}
	if newMark.GreaterThan(s.participant.OpeningNotionalMark) {
		s.participant.OpeningNotionalMark = newMark
	}
	return nil
}

func (s *stubStore) ListSymbolFlows(ctx context.Context, matchID, userID string) ([]models.SymbolFlow, error) {
	return s.flows, nil
}

func (s *stubStore) LastAttributedPrices(ctx context.Context, matchID, userID string) (map[string]decimal.Decimal, error) {
	return s.prices, nil
}

func newTestLedger(stake, mark int64) (*Ledger, *stubStore) {
	store := &stubStore{
		match: &models.Match{
			ID:     "match-1",
			Stake:  decimal.NewFromInt(stake),
			Status: models.MatchStatusLive,
		},
		participant: &models.Participant{
			MatchID:             "match-1",
			UserID:              "alice",
			OpeningNotionalMark: decimal.NewFromInt(mark),
		},
	}
	return &Ledger{Repo: store}, store
}

// The ceiling uses lifetime committed capital, not current exposure: a $100
// stake that opened and fully closed $60 has $40 of headroom left, not $100.
func TestCapacityUsesHighWaterMark(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(100, 0)

	// Open $60: allowed, mark advances to 60.
	if err := l.CheckCapacity(ctx, "match-1", "alice", decimal.NewFromInt(60), false); err != nil {
		t.Fatalf("open 60: %v", err)
	}
	if err := l.RecordOpeningNotional(ctx, "match-1", "alice", decimal.NewFromInt(60)); err != nil {
		t.Fatalf("record 60: %v", err)
	}
	if !store.participant.OpeningNotionalMark.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("mark = %s, want 60", store.participant.OpeningNotionalMark)
	}

	// Close everything: the mark must not move.
	if err := l.CheckCapacity(ctx, "match-1", "alice", decimal.NewFromInt(60), true); err != nil {
		t.Fatalf("reduce-only close: %v", err)
	}
	if !store.participant.OpeningNotionalMark.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("mark moved on close: %s", store.participant.OpeningNotionalMark)
	}

	// Open $50: 60 + 50 > 100, rejected.
	err := l.CheckCapacity(ctx, "match-1", "alice", decimal.NewFromInt(50), false)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("open 50: err = %v, want ErrCapacityExceeded", err)
	}

	// Open $40: 60 + 40 = 100, accepted, mark becomes 100.
	if err := l.CheckCapacity(ctx, "match-1", "alice", decimal.NewFromInt(40), false); err != nil {
		t.Fatalf("open 40: %v", err)
	}
	if err := l.RecordOpeningNotional(ctx, "match-1", "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("record 100: %v", err)
	}
	if !store.participant.OpeningNotionalMark.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("mark = %s, want 100", store.participant.OpeningNotionalMark)
	}
}

func TestReduceOnlyAlwaysPasses(t *testing.T) {
	l, _ := newTestLedger(100, 100)
	err := l.CheckCapacity(context.Background(), "match-1", "alice", decimal.NewFromInt(500), true)
	if err != nil {
		t.Fatalf("reduce-only order rejected: %v", err)
	}
}

func TestCapacityUnknownParticipant(t *testing.T) {
	l, store := newTestLedger(100, 0)
	store.participant = nil
	err := l.CheckCapacity(context.Background(), "match-1", "ghost", decimal.NewFromInt(1), false)
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("err = %v, want ErrUnknownParticipant", err)
	}
}

// Feeding the same set of mark updates in any order lands on the same final
// mark, and the mark never decreases along the way.
func TestMarkMonotonicUnderPermutedDelivery(t *testing.T) {
	marks := []int64{10, 35, 20, 80, 55, 80, 5}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for trial := 0; trial < 20; trial++ {
		l, store := newTestLedger(1000, 0)
		perm := rng.Perm(len(marks))
		prev := decimal.Zero
		for _, idx := range perm {
			if err := l.RecordOpeningNotional(context.Background(), "match-1", "alice", decimal.NewFromInt(marks[idx])); err != nil {
				t.Fatalf("record: %v", err)
			}
			if store.participant.OpeningNotionalMark.LessThan(prev) {
				t.Fatalf("mark decreased: %s < %s", store.participant.OpeningNotionalMark, prev)
			}
			prev = store.participant.OpeningNotionalMark
		}
		if !store.participant.OpeningNotionalMark.Equal(decimal.NewFromInt(80)) {
			t.Fatalf("final mark = %s, want 80", store.participant.OpeningNotionalMark)
		}
	}
}

func TestCurrentExposureValuesOpenFlows(t *testing.T) {
	l, store := newTestLedger(100, 0)
	store.flows = []models.SymbolFlow{
		{Symbol: "ETH-PERP", Bought: decimal.NewFromInt(5), Sold: decimal.NewFromInt(2)},
		{Symbol: "BTC-PERP", Bought: decimal.NewFromInt(1), Sold: decimal.NewFromInt(3)},
		{Symbol: "SOL-PERP", Bought: decimal.NewFromInt(4), Sold: decimal.NewFromInt(4)},
	}
	store.prices = map[string]decimal.Decimal{
		"ETH-PERP": decimal.NewFromInt(10),
		"BTC-PERP": decimal.NewFromInt(100),
	}
	exposure, err := l.CurrentExposure(context.Background(), "match-1", "alice")
	if err != nil {
		t.Fatalf("exposure: %v", err)
	}
	// |3|*10 + |-2|*100, the flat SOL flow contributes nothing.
	if !exposure.Equal(decimal.NewFromInt(230)) {
		t.Fatalf("exposure = %s, want 230", exposure)
	}
}
