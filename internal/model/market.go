package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar 代表一根K线
type Bar struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Open      decimal.Decimal `json:"o" db:"open"`
	High      decimal.Decimal `json:"h" db:"high"`
	Low       decimal.Decimal `json:"l" db:"low"`
	Close     decimal.Decimal `json:"c" db:"close"`
	Volume    decimal.Decimal `json:"v" db:"volume"`
	Timestamp time.Time       `json:"t" db:"time"`
}

// Quote 最新报价快照
type Quote struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Timestamp time.Time       `json:"ts"`
}

// Mid returns the bid/ask midpoint, or whichever side is non-zero.
func (q Quote) Mid() decimal.Decimal {
	if q.BidPrice.IsZero() {
		return q.AskPrice
	}
	if q.AskPrice.IsZero() {
		return q.BidPrice
	}
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}
