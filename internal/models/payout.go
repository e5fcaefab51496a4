package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusPending     = "pending"
	PayoutStatusEarned      = "earned"
	PayoutStatusDistributed = "distributed"
)

const (
	PayoutKindPrize    = "prize"
	PayoutKindWinnings = "winnings"
)

// Payout is a prize or match winnings owed to a user. Status transitions are
// monotonic (pending -> earned -> distributed) and a non-null TransferRef
// means the payout is permanently distributed; the claim ledger enforces that
// the distributed transition happens at most once.
type Payout struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	UserID string `gorm:"type:varchar(100);not null;index"`

	MatchID *string `gorm:"type:uuid;index"`
	Kind    string  `gorm:"type:varchar(20);not null"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Status string          `gorm:"type:varchar(20);not null;default:'pending';index"`

	TransferRef   *string    `gorm:"type:varchar(120)"`
	DistributedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Payout) TableName() string {
	return "payouts"
}
