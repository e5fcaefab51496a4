package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillFact is the venue's record of an executed fill. It is the source of
// truth for price, fee and realized pnl; the engine only derives attribution
// amounts on top of it.
type FillFact struct {
	SourceFillID int64           `json:"source_fill_id"`
	OrderID      string          `json:"order_id"`
	UserID       string          `json:"user_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	Pnl          decimal.Decimal `json:"pnl"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// OrderRequest is an already-authorized order descriptor forwarded to the
// venue. Signing and authentication happen upstream.
type OrderRequest struct {
	Account    string           `json:"account"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Type       string           `json:"type"`
	Amount     decimal.Decimal  `json:"amount"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	ReduceOnly bool             `json:"reduce_only"`
}

// OrderAck is the venue's immediate execution report.
type OrderAck struct {
	OrderID      string          `json:"order_id"`
	SourceFillID int64           `json:"source_fill_id"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Position is a venue-side open position snapshot. Amount is signed: positive
// long, negative short.
type Position struct {
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// NetAfter returns the exchange-wide signed position for symbol out of a
// snapshot taken after a fill, zero when the symbol is absent.
func NetAfter(positions []Position, symbol string) decimal.Decimal {
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Amount
		}
	}
	return decimal.Zero
}
