// Package domain defines the core market and accounting types shared across
// the backtesting system: bars, orders, fill records, equity points, and
// matched round-trip trades.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV sample for one instrument at a point in time. Bars
// are immutable once ingested; the engine only ever reads them.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Validate checks the structural bar invariants: low ≤ {open, close} ≤ high
// and a non-negative volume.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s has zero timestamp", b.Symbol)
	}
	if b.Low > b.Open || b.Low > b.Close || b.Open > b.High || b.Close > b.High {
		return fmt.Errorf("bar %s@%s violates low ≤ open/close ≤ high (o=%g h=%g l=%g c=%g)",
			b.Symbol, b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s@%s has negative volume %d", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// OrderSide identifies the direction of an order or fill.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Order is a request to trade a quantity of one instrument. Orders are
// ephemeral: a strategy produces them each timestep and the portfolio
// consumes them immediately; they are never persisted on their own.
type Order struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity int64     `json:"quantity"`
}

// Validate checks that the order names an instrument, carries a known side,
// and requests a strictly positive quantity.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order has empty symbol")
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("order %s has invalid side %q", o.Symbol, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s has non-positive quantity %d", o.Symbol, o.Quantity)
	}
	return nil
}

// Trade is the record of one executed fill, created exactly once per
// successful order and immutable afterwards. TotalCost is positive for a BUY
// (cash outflow) and negative for a SELL (magnitude of the net cash inflow).
// Slippage is the total slippage cost across the filled quantity.
type Trade struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	TotalCost  float64   `json:"total_cost"`
}

// ---------------------------------------------------------------------------
// Derived series
// ---------------------------------------------------------------------------

// EquityPoint is one sample of total portfolio value (cash plus marked
// positions) at a timestamp. The ordered sequence of points is the equity
// curve, the principal input to the performance metrics.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// MatchedTrade is a round trip reconstructed from the fill ledger by FIFO
// lot matching: one SELL matched against the oldest open BUY lots. Derived
// and read-only; never part of live engine state.
type MatchedTrade struct {
	Symbol     string    `json:"symbol"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"` // quantity-weighted average across matched lots
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int64     `json:"quantity"`
	PnL        float64   `json:"pnl"`     // net of entry and exit commissions
	PnLPct     float64   `json:"pnl_pct"` // net P&L relative to total entry cost, in percent
	Side       string    `json:"side"`    // always "LONG"; the ledger is long-only
}
