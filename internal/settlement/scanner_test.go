package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// scannerStubStore backs the consistency scanner. Violations inserted during
// the run are visible to subsequent reads, matching the real store.
type scannerStubStore struct {
	terminal     []models.Match
	live         []models.Match
	participants map[string][]models.Participant
	fills        []models.AttributedFill
	fillCounts   map[string]int64

	violations []models.Violation
}

func (s *scannerStubStore) ListTerminalMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error) {
	return s.terminal, nil
}

func (s *scannerStubStore) ListMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error) {
	if params.Status != nil && *params.Status == models.MatchStatusLive {
		return s.live, nil
	}
	return nil, nil
}

func (s *scannerStubStore) ListParticipants(ctx context.Context, matchID string) ([]models.Participant, error) {
	return s.participants[matchID], nil
}

func (s *scannerStubStore) CountAttributedFills(ctx context.Context, matchID, userID string) (int64, error) {
	return s.fillCounts[matchID+"/"+userID], nil
}

func (s *scannerStubStore) ListAttributedFills(ctx context.Context, params repository.ListFillsParams) ([]models.AttributedFill, error) {
	var out []models.AttributedFill
	for _, fill := range s.fills {
		if params.MatchID != nil && fill.MatchID != *params.MatchID {
			continue
		}
		if params.From != nil && fill.ExecutedAt.Before(*params.From) {
			continue
		}
		if params.To != nil && fill.ExecutedAt.After(*params.To) {
			continue
		}
		out = append(out, fill)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (s *scannerStubStore) ListViolations(ctx context.Context, params repository.ListViolationsParams) ([]models.Violation, error) {
	var out []models.Violation
	for _, v := range s.violations {
		if params.MatchID != nil && v.MatchID != *params.MatchID {
			continue
		}
		if params.Rule != nil && v.Rule != *params.Rule {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *scannerStubStore) CountViolations(ctx context.Context, params repository.ListViolationsParams) (int64, error) {
	found, err := s.ListViolations(ctx, params)
	return int64(len(found)), err
}

func (s *scannerStubStore) InsertViolation(ctx context.Context, item *models.Violation) error {
	s.violations = append(s.violations, *item)
	return nil
}

func (s *scannerStubStore) integrityFlags(matchID string) []models.Violation {
	var out []models.Violation
	for _, v := range s.violations {
		if v.MatchID == matchID && v.Rule == models.RuleIntegrity {
			out = append(out, v)
		}
	}
	return out
}

func testScanner(store *scannerStubStore) *Scanner {
	return &Scanner{
		Repo: store,
		Config: config.ScannerConfig{
			Lookback: 24 * time.Hour,
			Limit:    200,
		},
	}
}

func finishedMatch(winner string) models.Match {
	start := time.Now().UTC().Add(-2 * time.Hour)
	m := models.Match{
		ID:            "match-1",
		CreatorUserID: "alice",
		Stake:         decimal.NewFromInt(100),
		Duration:      time.Hour,
		Status:        models.MatchStatusFinished,
		StartedAt:     &start,
	}
	if winner != "" {
		m.WinnerUserID = &winner
	}
	return m
}

func finalized(user string, roi string, trades int) models.Participant {
	pnl := decimal.RequireFromString(roi)
	now := time.Now().UTC()
	return models.Participant{
		MatchID:         "match-1",
		UserID:          user,
		TradesCount:     trades,
		FinalPnlPercent: &pnl,
		FinalizedAt:     &now,
	}
}

func TestScannerFlagsWinnerOrdering(t *testing.T) {
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("alice")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "-3", 2), finalized("bob", "4", 2)},
		},
		fillCounts: map[string]int64{"match-1/alice": 2, "match-1/bob": 2},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	flags := store.integrityFlags("match-1")
	if len(flags) != 1 {
		t.Fatalf("integrity flags = %d, want 1", len(flags))
	}
	if flags[0].Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want critical", flags[0].Severity)
	}
}

func TestScannerSkipsAlreadyFlaggedMatch(t *testing.T) {
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("alice")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "-3", 2), finalized("bob", "4", 2)},
		},
		fillCounts: map[string]int64{"match-1/alice": 2, "match-1/bob": 2},
		violations: []models.Violation{
			{MatchID: "match-1", Rule: models.RuleIntegrity, Severity: models.SeverityCritical},
		},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if n := len(store.integrityFlags("match-1")); n != 1 {
		t.Fatalf("integrity flags = %d, want the pre-existing 1 only", n)
	}
}

func TestScannerFlagsCriticalOnFinished(t *testing.T) {
	// A finished match with a critical violation and no winner is the
	// impossible combination: the forfeit path always declares one.
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "1", 1), finalized("bob", "2", 1)},
		},
		fillCounts: map[string]int64{"match-1/alice": 1, "match-1/bob": 1},
		violations: []models.Violation{
			{MatchID: "match-1", Rule: models.RuleExternalTrades, Severity: models.SeverityCritical},
		},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if len(store.integrityFlags("match-1")) != 1 {
		t.Fatalf("expected critical_on_finished flag")
	}
}

func TestScannerAllowsForfeitWinner(t *testing.T) {
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("bob")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "1", 1), finalized("bob", "2", 1)},
		},
		fillCounts: map[string]int64{"match-1/alice": 1, "match-1/bob": 1},
		violations: []models.Violation{
			{MatchID: "match-1", Rule: models.RuleExternalTrades, Severity: models.SeverityCritical},
		},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if n := len(store.integrityFlags("match-1")); n != 0 {
		t.Fatalf("forfeit with declared winner flagged: %d", n)
	}
}

func TestScannerFlagsWindowBounds(t *testing.T) {
	match := finishedMatch("alice")
	store := &scannerStubStore{
		terminal: []models.Match{match},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "2", 1), finalized("bob", "1", 0)},
		},
		fills: []models.AttributedFill{
			{
				MatchID:    "match-1",
				UserID:     "alice",
				ExecutedAt: match.WindowEnd().Add(5 * time.Minute),
			},
		},
		fillCounts: map[string]int64{"match-1/alice": 1},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if len(store.integrityFlags("match-1")) == 0 {
		t.Fatalf("out-of-window fill not flagged")
	}
}

// Fills executed exactly at the window start or end are legal: both bounds
// are inclusive.
func TestScannerAllowsBoundaryFills(t *testing.T) {
	match := finishedMatch("alice")
	store := &scannerStubStore{
		terminal: []models.Match{match},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "2", 2), finalized("bob", "1", 0)},
		},
		fills: []models.AttributedFill{
			{MatchID: "match-1", UserID: "alice", ExecutedAt: *match.StartedAt},
			{MatchID: "match-1", UserID: "alice", ExecutedAt: match.WindowEnd()},
		},
		fillCounts: map[string]int64{"match-1/alice": 2},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if n := len(store.integrityFlags("match-1")); n != 0 {
		t.Fatalf("boundary fills flagged as out of window: %d", n)
	}
}

func TestScannerFlagsTradeCounterMismatch(t *testing.T) {
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("alice")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "2", 3), finalized("bob", "1", 1)},
		},
		fillCounts: map[string]int64{"match-1/alice": 2, "match-1/bob": 1},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	flags := store.integrityFlags("match-1")
	if len(flags) != 1 {
		t.Fatalf("integrity flags = %d, want 1", len(flags))
	}
	if flags[0].UserID == nil || *flags[0].UserID != "alice" {
		t.Fatalf("flag should name the mismatched participant")
	}
}

func TestScannerFlagsFinalsOnLiveMatch(t *testing.T) {
	live := finishedMatch("")
	live.ID = "match-2"
	live.Status = models.MatchStatusLive
	live.WinnerUserID = nil
	p := finalized("alice", "2", 1)
	p.MatchID = "match-2"
	store := &scannerStubStore{
		live: []models.Match{live},
		participants: map[string][]models.Participant{
			"match-2": {p},
		},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if len(store.integrityFlags("match-2")) != 1 {
		t.Fatalf("finalized participant on live match not flagged")
	}
}

func TestScannerCleanMatchStaysClean(t *testing.T) {
	store := &scannerStubStore{
		terminal: []models.Match{finishedMatch("bob")},
		participants: map[string][]models.Participant{
			"match-1": {finalized("alice", "1", 1), finalized("bob", "2", 1)},
		},
		fillCounts: map[string]int64{"match-1/alice": 1, "match-1/bob": 1},
	}
	s := testScanner(store)

	s.RunOnce(context.Background())
	if n := len(store.violations); n != 0 {
		t.Fatalf("clean match produced %d violations", n)
	}
}
