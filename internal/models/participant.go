package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Participant is the per-(match,user) competition state. Counters and the
// opening-notional mark are advanced incrementally as fills are attributed;
// the Final* fields are written exactly once, at settlement.
type Participant struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID string `gorm:"type:uuid;not null;index:idx_participant_match_user,unique"`
	UserID  string `gorm:"type:varchar(100);not null;index:idx_participant_match_user,unique"`
	Slot    int    `gorm:"not null"`

	// PreMatchPositions is the exchange position snapshot taken at join time:
	// [{"symbol":..., "amount":signed, "entry_price":...}].
	PreMatchPositions datatypes.JSON `gorm:"type:jsonb;not null"`

	// Exposure is the current open-notional valuation, refreshed in the same
	// transaction as each attributed fill. Display state, never a ceiling.
	Exposure            decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	OpeningNotionalMark decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	TradesCount int `gorm:"not null;default:0"`
	// ExternalTradeCount counts fills at which the venue position snapshot
	// drifted from the engine's reconstruction, meaning trades reached the
	// venue without passing through this engine.
	ExternalTradeCount int `gorm:"not null;default:0"`

	FinalPnlPercent *decimal.Decimal `gorm:"type:numeric(20,10)"`
	FinalScore      *decimal.Decimal `gorm:"type:numeric(30,10)"`
	FinalizedAt     *time.Time       `gorm:"type:timestamptz"`

	// Session metadata captured at join, read by the shared-origin rule.
	SessionIP          string `gorm:"type:varchar(64)"`
	SessionFingerprint string `gorm:"type:varchar(128)"`

	JoinedAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Participant) TableName() string {
	return "participants"
}

// PreMatchPosition is one entry of the join-time snapshot.
type PreMatchPosition struct {
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"` // signed: >0 long, <0 short
	EntryPrice decimal.Decimal `json:"entry_price"`
}
