package attribution

import (
	"github.com/shopspring/decimal"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// amountTolerance is the threshold below which an attributed amount is
// treated as zero and no fill record is created.
var amountTolerance = decimal.NewFromFloat(1e-7)

// ClassifyInput is the state the classifier needs for one raw fill.
type ClassifyInput struct {
	Side   string
	Amount decimal.Decimal

	// MatchNet is the signed position built exclusively from amounts this
	// engine has attributed to the match (bought - sold).
	MatchNet decimal.Decimal

	// ExchangeNetAfter is the venue-reported signed net position for the
	// symbol immediately after this fill. Nil when the venue could not be
	// read; the classifier then assumes all existing exposure is
	// match-originated, which over-attributes but never drops activity.
	ExchangeNetAfter *decimal.Decimal
}

// Attribution is the classifier verdict for one raw fill.
type Attribution struct {
	// Amount is the competition-relevant sub-amount, always <= the raw
	// fill amount.
	Amount decimal.Decimal
	// Opening is the sub-amount of Amount that commits fresh exposure
	// rather than closing match-originated exposure. It is what advances
	// the opening-notional high-water mark.
	Opening decimal.Decimal
	// Factor is Amount/raw, the proration applied to fee and pnl.
	Factor decimal.Decimal
}

// Relevant reports whether the attributed amount clears the tolerance.
func (a Attribution) Relevant() bool {
	return a.Amount.GreaterThan(amountTolerance)
}

// Classify decides how much of a raw fill counts toward the match.
//
// A single signed ledger position per symbol is maintained from attributed
// amounts only. The true exchange position before the fill is derived from
// the post-fill snapshot; a sell against a pre-existing long (or a buy
// against a pre-existing short) only counts for the sub-amount that closes
// match-originated exposure or pushes past the full existing position into
// fresh exposure. The remainder closes a position that predates the match or
// was opened off-platform and is not attributed.
func Classify(in ClassifyInput) Attribution {
	amount := in.Amount
	if amount.LessThanOrEqual(decimal.Zero) {
		return Attribution{Amount: decimal.Zero, Factor: decimal.Zero}
	}

	var attributed, opening decimal.Decimal
	switch in.Side {
	case models.SideSell:
		positionBefore := in.MatchNet
		if in.ExchangeNetAfter != nil {
			positionBefore = in.ExchangeNetAfter.Add(amount)
		}
		if positionBefore.LessThanOrEqual(decimal.Zero) {
			// Already flat or short: the whole sell opens or extends a
			// short.
			attributed = amount
			opening = amount
		} else {
			closesMatchLong := decimal.Min(amount, decimal.Max(decimal.Zero, in.MatchNet))
			opensShort := decimal.Max(decimal.Zero, amount.Sub(positionBefore))
			attributed = closesMatchLong.Add(opensShort)
			opening = opensShort
		}
	case models.SideBuy:
		positionBefore := in.MatchNet
		if in.ExchangeNetAfter != nil {
			positionBefore = in.ExchangeNetAfter.Sub(amount)
		}
		if positionBefore.GreaterThanOrEqual(decimal.Zero) {
			attributed = amount
			opening = amount
		} else {
			closesMatchShort := decimal.Min(amount, decimal.Max(decimal.Zero, in.MatchNet.Neg()))
			opensLong := decimal.Max(decimal.Zero, amount.Add(positionBefore))
			attributed = closesMatchShort.Add(opensLong)
			opening = opensLong
		}
	default:
		return Attribution{Amount: decimal.Zero, Factor: decimal.Zero}
	}

	if attributed.GreaterThan(amount) {
		attributed = amount
	}
	if opening.GreaterThan(attributed) {
		opening = attributed
	}
	if !attributed.GreaterThan(amountTolerance) {
		return Attribution{Amount: decimal.Zero, Factor: decimal.Zero}
	}
	return Attribution{
		Amount:  attributed,
		Opening: opening,
		Factor:  attributed.Div(amount),
	}
}
