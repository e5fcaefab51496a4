package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// MatchRepository covers match and participant lifecycle reads/writes that are
// not part of settlement finalization.
type MatchRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	CreateMatch(ctx context.Context, item *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListMatches(ctx context.Context, params ListMatchesParams) ([]models.Match, error)
	CountMatches(ctx context.Context, params ListMatchesParams) (int64, error)

	// JoinMatch inserts the second participant and flips the match live in a
	// single transaction. Returns false if the match was not joinable.
	JoinMatch(ctx context.Context, matchID string, participant *models.Participant, startedAt time.Time) (bool, error)
	CreateParticipant(ctx context.Context, item *models.Participant) error

	GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, matchID string) ([]models.Participant, error)

	// RaiseOpeningNotionalMark is the monotonic high-water-mark write:
	// mark = GREATEST(mark, newMark). Safe to retry, never decreases.
	RaiseOpeningNotionalMark(ctx context.Context, matchID, userID string, newMark decimal.Decimal) error

	// RecordExternalTrade increments the participant's external-trade
	// counter after a venue position drift observation.
	RecordExternalTrade(ctx context.Context, matchID, userID string) error

	// CountPairingsSince counts matches in which the same two users faced each
	// other with a start time at or after since.
	CountPairingsSince(ctx context.Context, userA, userB string, since time.Time) (int64, error)
}

// FillRepository covers attributed/platform fill persistence and the
// per-symbol match ledger.
type FillRepository interface {
	// RecordFill persists one raw fill and its attribution atomically:
	// platform fill insert (dedup on source_fill_id), optional attributed
	// fill insert, symbol-flow increment, opening-notional advance, trade
	// counter. Returns false when the source fill was already recorded.
	RecordFill(ctx context.Context, rec FillRecord) (bool, error)

	ListAttributedFills(ctx context.Context, params ListFillsParams) ([]models.AttributedFill, error)
	CountAttributedFills(ctx context.Context, matchID, userID string) (int64, error)

	GetSymbolFlow(ctx context.Context, matchID, userID, symbol string) (*models.SymbolFlow, error)
	ListSymbolFlows(ctx context.Context, matchID, userID string) ([]models.SymbolFlow, error)

	// LastAttributedPrices returns the most recent attributed price per
	// symbol for the participant, for display-exposure valuation.
	LastAttributedPrices(ctx context.Context, matchID, userID string) (map[string]decimal.Decimal, error)

	// ListFactPendingFills scans the platform table, which carries a row for
	// every engine-ingested fill, so attributed and platform-only pendings
	// are both picked up.
	ListFactPendingFills(ctx context.Context, limit int) ([]models.PlatformFill, error)
	// ResolveFillFact fills in price/fee/pnl for a fill recorded before the
	// exchange fact was visible and clears its pending flag on both the
	// platform row and the attributed row, when one exists.
	ResolveFillFact(ctx context.Context, sourceFillID int64, price, fee, pnl decimal.Decimal) error

	// PlatformNetFlow sums the signed raw amounts (buys positive) of every
	// engine-ingested fill for the user and symbol inside the window. Used to
	// reconstruct the expected venue position for external-trade detection.
	PlatformNetFlow(ctx context.Context, userID, symbol string, from, to time.Time) (decimal.Decimal, error)
}

// SettlementRepository is the single writer of terminal match state.
type SettlementRepository interface {
	// FinalizeMatch applies the terminal transition, participant finals and
	// winner payout in one transaction guarded by status='live'. Returns
	// false when the match was already terminal (idempotent no-op).
	FinalizeMatch(ctx context.Context, matchID string, outcome FinalizeOutcome) (bool, error)

	ListLiveMatchesEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Match, error)
	ListTerminalMatches(ctx context.Context, params ListMatchesParams) ([]models.Match, error)
}

// ViolationRepository is the append-only audit trail.
type ViolationRepository interface {
	InsertViolation(ctx context.Context, item *models.Violation) error
	ListViolations(ctx context.Context, params ListViolationsParams) ([]models.Violation, error)
	CountViolations(ctx context.Context, params ListViolationsParams) (int64, error)
}

// PayoutRepository owns the payout rows. All distributed-state writes go
// through WithPayoutLock.
type PayoutRepository interface {
	CreatePayout(ctx context.Context, item *models.Payout) error
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	ListPayouts(ctx context.Context, params ListPayoutsParams) ([]models.Payout, error)

	// WithPayoutLock runs fn inside a serializable transaction holding an
	// exclusive row lock on the payout. A concurrent claim on the same row
	// surfaces as ErrSerialization.
	WithPayoutLock(ctx context.Context, payoutID string, fn func(tx PayoutTx) error) error
}

// PayoutTx is the view of a locked payout row inside a claim transaction.
type PayoutTx interface {
	Payout() *models.Payout
	MarkDistributed(ref string, at time.Time) error
}

// Repository is the unified store handed to process wiring; components accept
// the narrow slice they need.
type Repository interface {
	MatchRepository
	FillRepository
	SettlementRepository
	ViolationRepository
	PayoutRepository
}

// FillRecord is the atomic unit RecordFill persists.
type FillRecord struct {
	Platform   models.PlatformFill
	Attributed *models.AttributedFill

	// Symbol-flow increments (attributed amounts only).
	BoughtDelta decimal.Decimal
	SoldDelta   decimal.Decimal

	// OpeningNotionalDelta advances the participant's cumulative opening
	// notional; applied as mark = GREATEST(mark, mark + delta) so a zero or
	// negative delta is a no-op and retries cannot decrease the mark.
	OpeningNotionalDelta decimal.Decimal
}

// FinalizeOutcome carries everything the terminal transition writes.
type FinalizeOutcome struct {
	Status       string
	WinnerUserID *string
	IsDraw       bool
	SettledAt    time.Time

	Participants []ParticipantFinal
	// WinnerPayout, when set, is created in the same transaction.
	WinnerPayout *models.Payout
}

type ParticipantFinal struct {
	UserID     string
	PnlPercent decimal.Decimal
	Score      decimal.Decimal
}

type ListMatchesParams struct {
	Limit   int
	Offset  int
	Status  *string
	UserID  *string
	Since   *time.Time
	Until   *time.Time
	OrderBy string
	Asc     *bool
}

type ListFillsParams struct {
	Limit   int
	Offset  int
	MatchID *string
	UserID  *string
	Symbol  *string
	From    *time.Time
	To      *time.Time
	OrderBy string
	Asc     *bool
}

type ListViolationsParams struct {
	Limit    int
	Offset   int
	MatchID  *string
	Rule     *string
	Severity *string
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ListPayoutsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Status  *string
	Kind    *string
	OrderBy string
	Asc     *bool
}
