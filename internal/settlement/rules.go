package settlement

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// verdict is the combined result of the anti-cheat rules. A forced winner
// wins regardless of ROI; noContest overrides everything.
type verdict struct {
	noContest    bool
	forcedWinner string
}

// applyRules evaluates every fairness rule and records a Violation for each
// rule that trips. Rules that only flag for review never change the outcome.
func (v *Validator) applyRules(ctx context.Context, match *models.Match, tallies []tally) (verdict, error) {
	var out verdict

	idle, err := v.ruleIdleMatch(ctx, match, tallies)
	if err != nil {
		return out, err
	}
	if idle {
		out.noContest = true
	}

	if err := v.ruleLowActivity(ctx, match, tallies); err != nil {
		return out, err
	}

	forced, mutual, err := v.ruleExternalTrades(ctx, match, tallies)
	if err != nil {
		return out, err
	}
	if mutual {
		out.noContest = true
	} else if forced != "" && !out.noContest {
		out.forcedWinner = forced
	}

	if err := v.ruleRepeatPairing(ctx, match); err != nil {
		return out, err
	}
	if err := v.ruleSharedOrigin(ctx, match, tallies); err != nil {
		return out, err
	}

	return out, nil
}

// ruleIdleMatch routes the match to NoContest when both participants' final
// pnl is below the materiality threshold.
func (v *Validator) ruleIdleMatch(ctx context.Context, match *models.Match, tallies []tally) (bool, error) {
	threshold := decimal.NewFromFloat(v.Config.MaterialityPnl)
	for _, t := range tallies {
		if t.realized.Abs().GreaterThanOrEqual(threshold) {
			return false, nil
		}
	}
	violation := &models.Violation{
		MatchID:  match.ID,
		Rule:     models.RuleIdleMatch,
		Severity: models.SeverityWarning,
		Detail: mustDetail(map[string]any{
			"threshold": threshold.String(),
			"pnl_a":     tallies[0].realized.String(),
			"pnl_b":     tallies[1].realized.String(),
		}),
		Recommendation: "no contest: both participants below materiality threshold",
	}
	if err := v.Repo.InsertViolation(ctx, violation); err != nil {
		return false, err
	}
	return true, nil
}

// ruleLowActivity flags a participant whose attributed notional stayed under
// the minimum-activity threshold. Flag only, the outcome stands.
func (v *Validator) ruleLowActivity(ctx context.Context, match *models.Match, tallies []tally) error {
	threshold := decimal.NewFromFloat(v.Config.MinNotional)
	if !threshold.IsPositive() {
		return nil
	}
	for _, t := range tallies {
		if t.trades == 0 || t.notional.GreaterThanOrEqual(threshold) {
			continue
		}
		userID := t.participant.UserID
		violation := &models.Violation{
			MatchID:  match.ID,
			Rule:     models.RuleLowActivity,
			Severity: models.SeverityInfo,
			UserID:   &userID,
			Detail: mustDetail(map[string]any{
				"notional":  t.notional.String(),
				"threshold": threshold.String(),
			}),
			Recommendation: "review: attributed notional below minimum activity",
		}
		if err := v.Repo.InsertViolation(ctx, violation); err != nil {
			return err
		}
	}
	return nil
}

// ruleExternalTrades detects fills executed on the venue during the window
// that never passed through this engine's attribution path. The offender
// forfeits; if both offend the match is NoContest.
func (v *Validator) ruleExternalTrades(ctx context.Context, match *models.Match, tallies []tally) (forcedWinner string, mutual bool, err error) {
	var offenders []int
	for i, t := range tallies {
		if t.externalFills <= 0 {
			continue
		}
		offenders = append(offenders, i)
		userID := t.participant.UserID
		violation := &models.Violation{
			MatchID:  match.ID,
			Rule:     models.RuleExternalTrades,
			Severity: models.SeverityCritical,
			UserID:   &userID,
			Detail: mustDetail(map[string]any{
				"external_fills": t.externalFills,
				"match_fills":    t.trades,
			}),
			Recommendation: "forfeit: trades executed outside the engine during the match window",
		}
		if err := v.Repo.InsertViolation(ctx, violation); err != nil {
			return "", false, err
		}
	}
	switch len(offenders) {
	case 0:
		return "", false, nil
	case 1:
		other := 1 - offenders[0]
		return tallies[other].participant.UserID, false, nil
	default:
		return "", true, nil
	}
}

// ruleRepeatPairing flags the same two users meeting more than the allowed
// number of times inside the trailing window. Review flag only.
func (v *Validator) ruleRepeatPairing(ctx context.Context, match *models.Match) error {
	if v.Config.RepeatPairLimit <= 0 || match.OpponentUserID == nil {
		return nil
	}
	window := v.Config.RepeatPairWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)
	count, err := v.Repo.CountPairingsSince(ctx, match.CreatorUserID, *match.OpponentUserID, since)
	if err != nil {
		return err
	}
	if count <= int64(v.Config.RepeatPairLimit) {
		return nil
	}
	violation := &models.Violation{
		MatchID:  match.ID,
		Rule:     models.RuleRepeatPairing,
		Severity: models.SeverityWarning,
		Detail: mustDetail(map[string]any{
			"pairings": count,
			"limit":    v.Config.RepeatPairLimit,
			"window":   window.String(),
		}),
		Recommendation: "review: repeated pairing between the same participants",
	}
	return v.Repo.InsertViolation(ctx, violation)
}

// ruleSharedOrigin flags both participants joining from the same network
// origin. Review flag only.
func (v *Validator) ruleSharedOrigin(ctx context.Context, match *models.Match, tallies []tally) error {
	a, b := tallies[0].participant, tallies[1].participant
	sharedIP := a.SessionIP != "" && strings.EqualFold(a.SessionIP, b.SessionIP)
	sharedFingerprint := a.SessionFingerprint != "" && a.SessionFingerprint == b.SessionFingerprint
	if !sharedIP && !sharedFingerprint {
		return nil
	}
	violation := &models.Violation{
		MatchID:  match.ID,
		Rule:     models.RuleSharedOrigin,
		Severity: models.SeverityWarning,
		Detail: mustDetail(map[string]any{
			"shared_ip":          sharedIP,
			"shared_fingerprint": sharedFingerprint,
		}),
		Recommendation: "review: participants share a session origin",
	}
	return v.Repo.InsertViolation(ctx, violation)
}

func mustDetail(payload map[string]any) datatypes.JSON {
	raw, err := json.Marshal(payload)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}
