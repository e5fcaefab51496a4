package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// AttributedFill is the portion of a raw exchange fill that counts toward a
// match. Amount is always <= RawAmount; price/fee/pnl are prorated by
// Amount/RawAmount when the attribution is partial. Rows are immutable and
// deduplicated on SourceFillID, so re-processing the same exchange fill is a
// no-op.
type AttributedFill struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID string `gorm:"type:uuid;not null;index"`
	UserID  string `gorm:"type:varchar(100);not null;index"`

	Symbol string `gorm:"type:varchar(30);not null;index"`
	Side   string `gorm:"type:varchar(10);not null"`

	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RawAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price     decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Fee       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Pnl       decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null;default:0"`

	OrderID      string `gorm:"type:varchar(100);not null;index"`
	SourceFillID int64  `gorm:"not null;uniqueIndex"`

	// FactPending marks fills recorded before the exchange fact became
	// visible (zero price/fee); reconciliation corrects them later.
	FactPending bool `gorm:"not null;default:false"`

	ExecutedAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (AttributedFill) TableName() string {
	return "attributed_fills"
}

// PlatformFill records every raw fill seen by the engine regardless of match
// association, for platform-wide accounting. Same dedup key as AttributedFill.
type PlatformFill struct {
	ID      uint64  `gorm:"primaryKey;autoIncrement"`
	UserID  string  `gorm:"type:varchar(100);not null;index"`
	MatchID *string `gorm:"type:uuid;index"`

	Symbol string `gorm:"type:varchar(30);not null;index"`
	Side   string `gorm:"type:varchar(10);not null"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price  decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Fee    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Pnl    decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null;default:0"`

	OrderID      string `gorm:"type:varchar(100);not null;index"`
	SourceFillID int64  `gorm:"not null;uniqueIndex"`

	// FactPending mirrors the flag on the attributed row so fills with no
	// attributed portion still get their price/fee/pnl backfilled.
	FactPending bool `gorm:"not null;default:false"`

	ExecutedAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PlatformFill) TableName() string {
	return "platform_fills"
}

// SymbolFlow is the per-(match,user,symbol) cumulative bought/sold ledger the
// classifier reads: matchNet = Bought - Sold, built exclusively from amounts
// this engine has itself attributed.
type SymbolFlow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID string `gorm:"type:uuid;not null;index:idx_symbol_flow,unique"`
	UserID  string `gorm:"type:varchar(100);not null;index:idx_symbol_flow,unique"`
	Symbol  string `gorm:"type:varchar(30);not null;index:idx_symbol_flow,unique"`

	Bought decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Sold   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SymbolFlow) TableName() string {
	return "symbol_flows"
}

// Net returns the signed match-originated position for the symbol.
func (f SymbolFlow) Net() decimal.Decimal {
	return f.Bought.Sub(f.Sold)
}
