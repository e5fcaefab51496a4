package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

// Store is the persistence slice the validator needs.
type Store interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListParticipants(ctx context.Context, matchID string) ([]models.Participant, error)
	ListAttributedFills(ctx context.Context, params repository.ListFillsParams) ([]models.AttributedFill, error)
	CountPairingsSince(ctx context.Context, userA, userB string, since time.Time) (int64, error)
	InsertViolation(ctx context.Context, item *models.Violation) error
	FinalizeMatch(ctx context.Context, matchID string, outcome repository.FinalizeOutcome) (bool, error)
}

// Validator settles live matches: aggregates in-window attributed fills,
// applies the fairness rules and writes the terminal transition exactly once.
type Validator struct {
	Repo   Store
	Logger *zap.Logger
	Config config.SettlementConfig
}

// tally is one participant's aggregated in-window activity.
type tally struct {
	participant models.Participant

	realized   decimal.Decimal
	roiPercent decimal.Decimal
	notional   decimal.Decimal
	trades     int

	externalFills int64
}

// Settle drives a live match to its terminal state. Invoking it on a match
// that is already terminal (or was settled concurrently) is a no-op.
func (v *Validator) Settle(ctx context.Context, matchID string) error {
	if v == nil || v.Repo == nil {
		return nil
	}
	match, err := v.Repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("match %s not found", matchID)
	}
	if match.Terminal() {
		return nil
	}
	if match.Status != models.MatchStatusLive || match.StartedAt == nil {
		return nil
	}

	participants, err := v.Repo.ListParticipants(ctx, matchID)
	if err != nil {
		return err
	}
	if len(participants) != 2 {
		return fmt.Errorf("match %s has %d participants, want 2", matchID, len(participants))
	}

	windowStart := *match.StartedAt
	windowEnd := match.WindowEnd()

	tallies := make([]tally, 0, 2)
	for _, p := range participants {
		t, err := v.tallyParticipant(ctx, match, p, windowStart, windowEnd)
		if err != nil {
			return err
		}
		tallies = append(tallies, t)
	}

	outcome, err := v.decide(ctx, match, tallies, windowEnd)
	if err != nil {
		return err
	}

	applied, err := v.Repo.FinalizeMatch(ctx, matchID, outcome)
	if err != nil {
		return err
	}
	if v.Logger != nil {
		if applied {
			winner := ""
			if outcome.WinnerUserID != nil {
				winner = *outcome.WinnerUserID
			}
			v.Logger.Info("match settled",
				zap.String("match_id", matchID),
				zap.String("status", outcome.Status),
				zap.String("winner", winner),
				zap.Bool("draw", outcome.IsDraw))
		} else {
			v.Logger.Info("match already settled", zap.String("match_id", matchID))
		}
	}
	return nil
}

func (v *Validator) tallyParticipant(ctx context.Context, match *models.Match, p models.Participant, from, to time.Time) (tally, error) {
	t := tally{
		participant: p,
		realized:    decimal.Zero,
		roiPercent:  decimal.Zero,
		notional:    decimal.Zero,
	}
	matchID := match.ID
	userID := p.UserID
	params := repository.ListFillsParams{
		MatchID: &matchID,
		UserID:  &userID,
		From:    &from,
		To:      &to,
		Limit:   500,
	}
	for {
		fills, err := v.Repo.ListAttributedFills(ctx, params)
		if err != nil {
			return t, err
		}
		for _, fill := range fills {
			t.realized = t.realized.Add(fill.Pnl).Sub(fill.Fee)
			t.notional = t.notional.Add(fill.Amount.Mul(fill.Price))
			t.trades++
		}
		if len(fills) < params.Limit {
			break
		}
		params.Offset += len(fills)
	}
	if match.Stake.IsPositive() {
		t.roiPercent = t.realized.Div(match.Stake).Mul(decimal.NewFromInt(100))
	}

	// External trades are detected at ingest time by venue position drift
	// and accumulated on the participant row.
	t.externalFills = int64(p.ExternalTradeCount)
	return t, nil
}

// decide evaluates the fairness rules and computes the terminal outcome.
// Violations are written before the status write so the audit trail survives
// a failed-and-retried finalization.
func (v *Validator) decide(ctx context.Context, match *models.Match, tallies []tally, settledAt time.Time) (repository.FinalizeOutcome, error) {
	outcome := repository.FinalizeOutcome{
		Status:    models.MatchStatusFinished,
		SettledAt: settledAt,
	}
	for _, t := range tallies {
		outcome.Participants = append(outcome.Participants, repository.ParticipantFinal{
			UserID:     t.participant.UserID,
			PnlPercent: t.roiPercent,
			Score:      t.realized,
		})
	}

	verdict, err := v.applyRules(ctx, match, tallies)
	if err != nil {
		return outcome, err
	}

	switch {
	case verdict.noContest:
		outcome.Status = models.MatchStatusNoContest
		return outcome, nil
	case verdict.forcedWinner != "":
		winner := verdict.forcedWinner
		outcome.WinnerUserID = &winner
		outcome.WinnerPayout = v.winnerPayout(match, winner)
		return outcome, nil
	}

	winner, isDraw := v.pickWinner(tallies)
	outcome.IsDraw = isDraw
	if winner != "" {
		w := winner
		outcome.WinnerUserID = &w
		outcome.WinnerPayout = v.winnerPayout(match, winner)
	}
	return outcome, nil
}

// pickWinner ranks by ROI on stake, not absolute pnl. A participant who made
// zero attributed trades beats an opponent with negative ROI: sitting out is
// still a win against a net-losing trader.
func (v *Validator) pickWinner(tallies []tally) (winner string, isDraw bool) {
	a, b := tallies[0], tallies[1]

	if a.trades == 0 && b.trades > 0 && b.roiPercent.IsNegative() {
		return a.participant.UserID, false
	}
	if b.trades == 0 && a.trades > 0 && a.roiPercent.IsNegative() {
		return b.participant.UserID, false
	}

	epsilon := decimal.NewFromFloat(v.Config.DrawEpsilon)
	if a.roiPercent.Sub(b.roiPercent).Abs().LessThan(epsilon) {
		return "", true
	}
	if a.roiPercent.GreaterThan(b.roiPercent) {
		return a.participant.UserID, false
	}
	return b.participant.UserID, false
}

func (v *Validator) winnerPayout(match *models.Match, winner string) *models.Payout {
	multiplier := decimal.NewFromFloat(v.Config.WinnerMultiplier)
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(2)
	}
	matchID := match.ID
	return &models.Payout{
		ID:      uuid.NewString(),
		UserID:  winner,
		MatchID: &matchID,
		Kind:    models.PayoutKindWinnings,
		Amount:  match.Stake.Mul(multiplier),
		Status:  models.PayoutStatusEarned,
	}
}
