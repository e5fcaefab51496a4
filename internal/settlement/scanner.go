package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// ScannerStore is the persistence slice the consistency scanner needs.
type ScannerStore interface {
	ListTerminalMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error)
	ListMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error)
	ListParticipants(ctx context.Context, matchID string) ([]models.Participant, error)
	CountAttributedFills(ctx context.Context, matchID, userID string) (int64, error)
	ListAttributedFills(ctx context.Context, params repository.ListFillsParams) ([]models.AttributedFill, error)
	ListViolations(ctx context.Context, params repository.ListViolationsParams) ([]models.Violation, error)
	CountViolations(ctx context.Context, params repository.ListViolationsParams) (int64, error)
	InsertViolation(ctx context.Context, item *models.Violation) error
}

// Scanner is the standing auditor over settled state. It only records
// integrity violations for manual remediation; correcting a settlement after
// the fact risks compounding the inconsistency, so it never writes back.
type Scanner struct {
	Repo   ScannerStore
	Logger *zap.Logger
	Config config.ScannerConfig
}

func (s *Scanner) RunOnce(ctx context.Context) {
	if s == nil || s.Repo == nil {
		return
	}
	since := time.Now().UTC().Add(-s.Config.Lookback)
	limit := s.Config.Limit
	if limit <= 0 {
		limit = 200
	}

	terminal, err := s.Repo.ListTerminalMatches(ctx, repository.ListMatchesParams{
		Since: &since,
		Limit: limit,
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("scanner: list terminal matches failed", zap.Error(err))
		}
		return
	}
	for _, match := range terminal {
		if ctx.Err() != nil {
			return
		}
		if err := s.auditTerminal(ctx, match); err != nil && s.Logger != nil {
			s.Logger.Warn("scanner: audit failed",
				zap.String("match_id", match.ID),
				zap.Error(err))
		}
	}

	s.auditLiveFinals(ctx, since, limit)
}

func (s *Scanner) auditTerminal(ctx context.Context, match models.Match) error {
	alreadyFlagged, err := s.hasIntegrityViolation(ctx, match.ID)
	if err != nil {
		return err
	}
	if alreadyFlagged {
		return nil
	}

	participants, err := s.Repo.ListParticipants(ctx, match.ID)
	if err != nil {
		return err
	}

	if err := s.checkWinnerOrdering(ctx, match, participants); err != nil {
		return err
	}
	if err := s.checkCriticalOnFinished(ctx, match); err != nil {
		return err
	}
	if err := s.checkWindowBounds(ctx, match); err != nil {
		return err
	}
	return s.checkTradeCounters(ctx, match, participants)
}

// checkWinnerOrdering flags a declared winner whose final pnl percent is
// below the loser's. The zero-trade rule can produce this legitimately, which
// is exactly why it goes to a human instead of being corrected.
func (s *Scanner) checkWinnerOrdering(ctx context.Context, match models.Match, participants []models.Participant) error {
	if match.WinnerUserID == nil || len(participants) != 2 {
		return nil
	}
	var winner, loser *models.Participant
	for i := range participants {
		if participants[i].UserID == *match.WinnerUserID {
			winner = &participants[i]
		} else {
			loser = &participants[i]
		}
	}
	if winner == nil || loser == nil || winner.FinalPnlPercent == nil || loser.FinalPnlPercent == nil {
		return nil
	}
	if !winner.FinalPnlPercent.LessThan(*loser.FinalPnlPercent) {
		return nil
	}
	return s.flag(ctx, match.ID, map[string]any{
		"check":       "winner_ordering",
		"winner_roi":  winner.FinalPnlPercent.String(),
		"loser_roi":   loser.FinalPnlPercent.String(),
		"winner_user": winner.UserID,
	}, "winner's final pnl percent below loser's")
}

func (s *Scanner) checkCriticalOnFinished(ctx context.Context, match models.Match) error {
	if match.Status != models.MatchStatusFinished {
		return nil
	}
	matchID := match.ID
	violations, err := s.Repo.ListViolations(ctx, repository.ListViolationsParams{
		MatchID: &matchID,
		Limit:   100,
	})
	if err != nil {
		return err
	}
	for _, violation := range violations {
		if violation.Severity != models.SeverityCritical || violation.Rule == models.RuleIntegrity {
			continue
		}
		// External-trade forfeits legitimately finish with a forced
		// winner; mutual offenses must not end up Finished.
		if violation.Rule == models.RuleExternalTrades && match.WinnerUserID != nil {
			continue
		}
		return s.flag(ctx, match.ID, map[string]any{
			"check":    "critical_on_finished",
			"rule":     violation.Rule,
			"severity": violation.Severity,
		}, "no-contest grade violation on a finished match")
	}
	return nil
}

func (s *Scanner) checkWindowBounds(ctx context.Context, match models.Match) error {
	if match.StartedAt == nil {
		return nil
	}
	matchID := match.ID
	// The window is inclusive on both ends, so the boundary queries step one
	// nanosecond outside it.
	beforeStart := match.StartedAt.Add(-time.Nanosecond)
	afterEnd := match.WindowEnd().Add(time.Nanosecond)

	before, err := s.Repo.ListAttributedFills(ctx, repository.ListFillsParams{
		MatchID: &matchID,
		To:      &beforeStart,
		Limit:   1,
	})
	if err != nil {
		return err
	}
	after, err := s.Repo.ListAttributedFills(ctx, repository.ListFillsParams{
		MatchID: &matchID,
		From:    &afterEnd,
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(before) == 0 && len(after) == 0 {
		return nil
	}
	return s.flag(ctx, match.ID, map[string]any{
		"check":        "window_bounds",
		"before_start": len(before) > 0,
		"after_end":    len(after) > 0,
	}, "attributed fills outside the match window")
}

func (s *Scanner) checkTradeCounters(ctx context.Context, match models.Match, participants []models.Participant) error {
	for _, p := range participants {
		count, err := s.Repo.CountAttributedFills(ctx, match.ID, p.UserID)
		if err != nil {
			return err
		}
		if count == int64(p.TradesCount) {
			continue
		}
		userID := p.UserID
		if err := s.flagUser(ctx, match.ID, &userID, map[string]any{
			"check":     "trade_counter",
			"counter":   p.TradesCount,
			"fill_rows": count,
		}, "trade counter does not match attributed fill rows"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) auditLiveFinals(ctx context.Context, since time.Time, limit int) {
	status := models.MatchStatusLive
	live, err := s.Repo.ListMatches(ctx, repository.ListMatchesParams{
		Status: &status,
		Since:  &since,
		Limit:  limit,
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("scanner: list live matches failed", zap.Error(err))
		}
		return
	}
	for _, match := range live {
		if ctx.Err() != nil {
			return
		}
		participants, err := s.Repo.ListParticipants(ctx, match.ID)
		if err != nil {
			continue
		}
		for _, p := range participants {
			if p.FinalizedAt == nil {
				continue
			}
			flagged, err := s.hasIntegrityViolation(ctx, match.ID)
			if err != nil || flagged {
				break
			}
			userID := p.UserID
			_ = s.flagUser(ctx, match.ID, &userID, map[string]any{
				"check": "finals_on_live",
			}, "participant finalized while match still live")
			break
		}
	}
}

func (s *Scanner) hasIntegrityViolation(ctx context.Context, matchID string) (bool, error) {
	rule := models.RuleIntegrity
	count, err := s.Repo.CountViolations(ctx, repository.ListViolationsParams{
		MatchID: &matchID,
		Rule:    &rule,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Scanner) flag(ctx context.Context, matchID string, detail map[string]any, recommendation string) error {
	return s.flagUser(ctx, matchID, nil, detail, recommendation)
}

func (s *Scanner) flagUser(ctx context.Context, matchID string, userID *string, detail map[string]any, recommendation string) error {
	return s.Repo.InsertViolation(ctx, &models.Violation{
		MatchID:        matchID,
		Rule:           models.RuleIntegrity,
		Severity:       models.SeverityCritical,
		UserID:         userID,
		Detail:         mustDetail(detail),
		Recommendation: recommendation,
	})
}
