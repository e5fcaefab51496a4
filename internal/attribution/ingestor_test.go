package attribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// stubStore is a test-only in-memory fill store keyed by source fill id.
type stubStore struct {
	flows map[string]models.SymbolFlow
	seen  map[int64]repository.FillRecord

	match          *models.Match
	participants   map[string]*models.Participant
	externalTrades map[string]int
}

func newStubStore() *stubStore {
	started := time.Now().UTC().Add(-time.Hour)
	return &stubStore{
		flows: map[string]models.SymbolFlow{},
		seen:  map[int64]repository.FillRecord{},
		match: &models.Match{
			ID:        "match-1",
			Status:    models.MatchStatusLive,
			StartedAt: &started,
			Duration:  2 * time.Hour,
		},
		participants: map[string]*models.Participant{
			"match-1/alice": {
				MatchID:           "match-1",
				UserID:            "alice",
				PreMatchPositions: datatypes.JSON("[]"),
			},
		},
		externalTrades: map[string]int{},
	}
}

func (s *stubStore) GetSymbolFlow(ctx context.Context, matchID, userID, symbol string) (*models.SymbolFlow, error) {
	flow, ok := s.flows[matchID+"/"+userID+"/"+symbol]
	if !ok {
		return nil, nil
	}
	return &flow, nil
}

func (s *stubStore) RecordFill(ctx context.Context, rec repository.FillRecord) (bool, error) {
	if _, ok := s.seen[rec.Platform.SourceFillID]; ok {
		return false, nil
	}
	s.seen[rec.Platform.SourceFillID] = rec
	if rec.Attributed != nil {
		key := rec.Attributed.MatchID + "/" + rec.Attributed.UserID + "/" + rec.Attributed.Symbol
		flow := s.flows[key]
		flow.Bought = flow.Bought.Add(rec.BoughtDelta)
		flow.Sold = flow.Sold.Add(rec.SoldDelta)
		s.flows[key] = flow
	}
	return true, nil
}

func (s *stubStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	if s.match != nil && s.match.ID == id {
		return s.match, nil
	}
	return nil, nil
}

func (s *stubStore) GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error) {
	return s.participants[matchID+"/"+userID], nil
}

func (s *stubStore) PlatformNetFlow(ctx context.Context, userID, symbol string, from, to time.Time) (decimal.Decimal, error) {
	net := decimal.Zero
	for _, rec := range s.seen {
		fill := rec.Platform
		if fill.UserID != userID || fill.Symbol != symbol {
			continue
		}
		if fill.ExecutedAt.Before(from) || fill.ExecutedAt.After(to) {
			continue
		}
		if fill.Side == models.SideBuy {
			net = net.Add(fill.Amount)
		} else {
			net = net.Sub(fill.Amount)
		}
	}
	return net, nil
}

func (s *stubStore) RecordExternalTrade(ctx context.Context, matchID, userID string) error {
	s.externalTrades[matchID+"/"+userID]++
	return nil
}

type stubFacts struct {
	fact      *exchange.FillFact
	factErr   error
	positions []exchange.Position
	posErr    error

	factCalls int
}

func (s *stubFacts) FillFact(ctx context.Context, sourceFillID int64) (*exchange.FillFact, error) {
	s.factCalls++
	return s.fact, s.factErr
}

func (s *stubFacts) Positions(ctx context.Context, userID string) ([]exchange.Position, error) {
	return s.positions, s.posErr
}

type stubNotifier struct {
	events []models.AttributedFill
}

func (s *stubNotifier) FillAttributed(matchID string, fill models.AttributedFill) {
	if s == nil {
		return
	}
	s.events = append(s.events, fill)
}

func testIngestor(store *stubStore, facts *stubFacts, notifier *stubNotifier) *Ingestor {
	return &Ingestor{
		Repo:     store,
		Facts:    facts,
		Notifier: notifier,
		Config: config.ExchangeConfig{
			FactRetries: 2,
			RetryDelay:  time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func flatBuyRequest(sourceFillID int64) IngestRequest {
	return IngestRequest{
		MatchID:      "match-1",
		UserID:       "alice",
		OrderID:      "ord-1",
		SourceFillID: sourceFillID,
		Symbol:       "ETH-PERP",
		Side:         models.SideBuy,
		Amount:       decimal.NewFromInt(5),
		Price:        decimal.NewFromInt(2000),
		ExecutedAt:   time.Now().UTC(),
	}
}

func TestIngestRecordsAttributedFill(t *testing.T) {
	store := newStubStore()
	facts := &stubFacts{
		fact: &exchange.FillFact{
			Price: decimal.NewFromInt(2100),
			Fee:   decimal.NewFromInt(2),
			Pnl:   decimal.NewFromInt(10),
		},
		positions: []exchange.Position{{Symbol: "ETH-PERP", Amount: decimal.NewFromInt(5)}},
	}
	notifier := &stubNotifier{}
	ing := testIngestor(store, facts, notifier)

	if err := ing.Ingest(context.Background(), flatBuyRequest(101)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rec, ok := store.seen[101]
	if !ok {
		t.Fatalf("platform fill not recorded")
	}
	if rec.Attributed == nil {
		t.Fatalf("expected attributed fill")
	}
	if !rec.Attributed.Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("attributed amount = %s, want 5", rec.Attributed.Amount)
	}
	if rec.Attributed.FactPending {
		t.Fatalf("fact should be resolved")
	}
	if !rec.Attributed.Price.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("price = %s, want venue fact price", rec.Attributed.Price)
	}
	if !rec.OpeningNotionalDelta.Equal(decimal.NewFromInt(10500)) {
		t.Fatalf("opening notional delta = %s, want 10500", rec.OpeningNotionalDelta)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("notifier events = %d, want 1", len(notifier.events))
	}
}

func TestIngestDuplicateIsNoOp(t *testing.T) {
	store := newStubStore()
	facts := &stubFacts{
		fact:      &exchange.FillFact{Price: decimal.NewFromInt(2100)},
		positions: []exchange.Position{{Symbol: "ETH-PERP", Amount: decimal.NewFromInt(5)}},
	}
	notifier := &stubNotifier{}
	ing := testIngestor(store, facts, notifier)

	if err := ing.Ingest(context.Background(), flatBuyRequest(77)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := ing.Ingest(context.Background(), flatBuyRequest(77)); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(store.seen) != 1 {
		t.Fatalf("fill rows = %d, want 1", len(store.seen))
	}
	if len(notifier.events) != 1 {
		t.Fatalf("notifier events = %d, want 1 (duplicate must not rebroadcast)", len(notifier.events))
	}
	flow := store.flows["match-1/alice/ETH-PERP"]
	if !flow.Bought.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("bought = %s, want 5 (duplicate must not double-count)", flow.Bought)
	}
}

func TestIngestFactUnresolvedRecordsPending(t *testing.T) {
	store := newStubStore()
	facts := &stubFacts{
		factErr:   errors.New("not visible yet"),
		positions: []exchange.Position{{Symbol: "ETH-PERP", Amount: decimal.NewFromInt(5)}},
	}
	ing := testIngestor(store, facts, nil)

	if err := ing.Ingest(context.Background(), flatBuyRequest(55)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if facts.factCalls != 2 {
		t.Fatalf("fact lookups = %d, want bounded retries (2)", facts.factCalls)
	}
	rec := store.seen[55]
	if rec.Attributed == nil || !rec.Attributed.FactPending {
		t.Fatalf("expected fact-pending attributed fill")
	}
	if !rec.Platform.FactPending {
		t.Fatalf("platform row must carry the pending flag too")
	}
	// Order price hint keeps the mark advancing until reconciliation.
	if !rec.Attributed.Price.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("price = %s, want order hint 2000", rec.Attributed.Price)
	}
	if !rec.Attributed.Fee.IsZero() || !rec.Attributed.Pnl.IsZero() {
		t.Fatalf("fee/pnl must be zero while pending")
	}
}

func TestIngestWithoutMatchRecordsPlatformOnly(t *testing.T) {
	store := newStubStore()
	facts := &stubFacts{fact: &exchange.FillFact{Price: decimal.NewFromInt(2100)}}
	ing := testIngestor(store, facts, nil)

	req := flatBuyRequest(9)
	req.MatchID = ""
	if err := ing.Ingest(context.Background(), req); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rec := store.seen[9]
	if rec.Attributed != nil {
		t.Fatalf("fill without match must not be attributed")
	}
	if rec.Platform.MatchID != nil {
		t.Fatalf("platform match id must be nil")
	}
}

// Closing a position that predates the match attributes nothing, and because
// the engine ingested the fill it must not be counted as external either.
func TestIngestPreMatchCloseNotFlaggedExternal(t *testing.T) {
	store := newStubStore()
	store.participants["match-1/alice"].PreMatchPositions = datatypes.JSON(
		`[{"symbol":"ETH-PERP","amount":"10","entry_price":"1900"}]`)
	facts := &stubFacts{
		fact:      &exchange.FillFact{Price: decimal.NewFromInt(2100)},
		positions: []exchange.Position{{Symbol: "ETH-PERP", Amount: decimal.NewFromInt(6)}},
	}
	ing := testIngestor(store, facts, nil)

	req := flatBuyRequest(301)
	req.Side = models.SideSell
	req.Amount = decimal.NewFromInt(4)
	if err := ing.Ingest(context.Background(), req); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rec, ok := store.seen[301]
	if !ok {
		t.Fatalf("platform fill not recorded")
	}
	if rec.Attributed != nil {
		t.Fatalf("pre-match close must not be attributed, got amount %s", rec.Attributed.Amount)
	}
	if store.externalTrades["match-1/alice"] != 0 {
		t.Fatalf("external trades = %d, want 0: the engine saw this fill", store.externalTrades["match-1/alice"])
	}
}

// A venue position that cannot be explained by the pre-match snapshot plus
// the fills the engine ingested means the user traded around the engine.
func TestIngestPositionDriftRecordsExternalTrade(t *testing.T) {
	store := newStubStore()
	facts := &stubFacts{
		fact: &exchange.FillFact{Price: decimal.NewFromInt(2100)},
		// Engine flow after this buy of 5 is +5 from zero, the venue
		// reports 12: seven contracts arrived some other way.
		positions: []exchange.Position{{Symbol: "ETH-PERP", Amount: decimal.NewFromInt(12)}},
	}
	ing := testIngestor(store, facts, nil)

	if err := ing.Ingest(context.Background(), flatBuyRequest(302)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := store.externalTrades["match-1/alice"]; got != 1 {
		t.Fatalf("external trades = %d, want 1", got)
	}
	// Replaying the fill must not double-count the drift.
	if err := ing.Ingest(context.Background(), flatBuyRequest(302)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := store.externalTrades["match-1/alice"]; got != 1 {
		t.Fatalf("external trades after replay = %d, want 1", got)
	}
}
