// Package backtest implements the event-driven simulation core: the
// portfolio ledger, the replay engine, FIFO trade matching, and the
// performance-metrics battery.
package backtest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/domain"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// InsufficientCapitalError is returned by Buy when the total cost of a fill
// exceeds the available cash. The fill is rejected in full; there are no
// partial fills.
type InsufficientCapitalError struct {
	Symbol    string
	Required  float64
	Available float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital to buy %s: required $%.2f, available $%.2f",
		e.Symbol, e.Required, e.Available)
}

// InsufficientSharesError is returned by Sell when the requested quantity
// exceeds the currently held position.
type InsufficientSharesError struct {
	Symbol    string
	Requested int64
	Held      int64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares to sell %d %s: current position %d",
		e.Requested, e.Symbol, e.Held)
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Portfolio tracks cash, long-only positions, the fill ledger, and the
// equity history for one backtest run. It applies commission and slippage to
// every fill and enforces solvency and share availability: a rejected order
// leaves the portfolio untouched.
//
// A Portfolio is created once per run and never reused or reset mid-run. All
// mutating calls are single-threaded and sequential.
type Portfolio struct {
	initialCapital float64
	cash           float64
	commissionPct  float64
	slippagePct    float64

	positions     map[string]int64
	trades        []domain.Trade
	equityHistory []domain.EquityPoint
}

// Summary is a snapshot of portfolio-level accounting totals.
type Summary struct {
	InitialCapital      float64          `json:"initial_capital"`
	CurrentCash         float64          `json:"current_cash"`
	Positions           map[string]int64 `json:"positions"`
	TotalTrades         int              `json:"total_trades"`
	BuyTrades           int              `json:"buy_trades"`
	SellTrades          int              `json:"sell_trades"`
	TotalCommissionPaid float64          `json:"total_commission_paid"`
}

// NewPortfolio creates a portfolio with the given starting cash and
// transaction-cost rates (e.g. commissionPct 0.001 = 0.1%, slippagePct
// 0.0005 = 0.05%).
func NewPortfolio(initialCapital, commissionPct, slippagePct float64) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		commissionPct:  commissionPct,
		slippagePct:    slippagePct,
		positions:      make(map[string]int64),
	}
}

// Buy executes a buy fill at the quoted price. Slippage moves the effective
// price against the buyer:
//
//	effective = price × (1 + slippagePct)
//	totalCost = quantity × effective × (1 + commissionPct)
//
// It returns an InsufficientCapitalError when totalCost exceeds cash.
func (p *Portfolio) Buy(symbol string, quantity int64, price float64, ts time.Time) (domain.Trade, error) {
	if err := validateFill(symbol, quantity, price); err != nil {
		return domain.Trade{}, err
	}

	perShareSlip := price * p.slippagePct
	effectivePrice := price + perShareSlip
	grossCost := float64(quantity) * effectivePrice
	commission := grossCost * p.commissionPct
	totalCost := grossCost + commission

	if totalCost > p.cash {
		return domain.Trade{}, &InsufficientCapitalError{Symbol: symbol, Required: totalCost, Available: p.cash}
	}

	p.cash -= totalCost
	p.positions[symbol] += quantity

	trade := domain.Trade{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Symbol:     symbol,
		Side:       domain.OrderSideBuy,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Slippage:   perShareSlip * float64(quantity),
		TotalCost:  totalCost,
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// Sell executes a sell fill at the quoted price. Slippage favours the buyer
// of the shares:
//
//	effective    = price × (1 − slippagePct)
//	netProceeds  = quantity × effective × (1 − commissionPct)
//
// The recorded TotalCost is −netProceeds. It returns an
// InsufficientSharesError when quantity exceeds the held position.
func (p *Portfolio) Sell(symbol string, quantity int64, price float64, ts time.Time) (domain.Trade, error) {
	if err := validateFill(symbol, quantity, price); err != nil {
		return domain.Trade{}, err
	}

	held := p.positions[symbol]
	if quantity > held {
		return domain.Trade{}, &InsufficientSharesError{Symbol: symbol, Requested: quantity, Held: held}
	}

	perShareSlip := price * p.slippagePct
	effectivePrice := price - perShareSlip
	grossProceeds := float64(quantity) * effectivePrice
	commission := grossProceeds * p.commissionPct
	netProceeds := grossProceeds - commission

	p.cash += netProceeds
	p.positions[symbol] -= quantity
	if p.positions[symbol] == 0 {
		delete(p.positions, symbol)
	}

	trade := domain.Trade{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Symbol:     symbol,
		Side:       domain.OrderSideSell,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Slippage:   perShareSlip * float64(quantity),
		TotalCost:  -netProceeds,
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

func validateFill(symbol string, quantity int64, price float64) error {
	if symbol == "" {
		return fmt.Errorf("fill has empty symbol")
	}
	if quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", quantity)
	}
	if price <= 0 {
		return fmt.Errorf("fill price must be positive, got %g", price)
	}
	return nil
}

// Position returns the held share count for a symbol; zero when the symbol
// is absent from the position map.
func (p *Portfolio) Position(symbol string) int64 {
	return p.positions[symbol]
}

// Positions returns a copy of the position map.
func (p *Portfolio) Positions() map[string]int64 {
	out := make(map[string]int64, len(p.positions))
	for sym, qty := range p.positions {
		out[sym] = qty
	}
	return out
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// InitialCapital returns the starting cash balance of the run.
func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}

// Equity computes total portfolio value against the supplied mark prices:
// cash plus the sum of position quantity × price. A symbol missing from the
// price map contributes zero, the conservative valuation.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	equity := p.cash
	for sym, qty := range p.positions {
		equity += float64(qty) * prices[sym]
	}
	return equity
}

// RecordEquity appends one equity point valued at the supplied mark prices.
// The engine calls this exactly once per simulated timestep, before that
// step's orders execute, so the curve reflects start-of-bar valuation.
func (p *Portfolio) RecordEquity(ts time.Time, prices map[string]float64) {
	p.equityHistory = append(p.equityHistory, domain.EquityPoint{Timestamp: ts, Equity: p.Equity(prices)})
}

// EquityHistory returns the recorded equity curve.
func (p *Portfolio) EquityHistory() []domain.EquityPoint {
	return p.equityHistory
}

// Trades returns the fill ledger in execution order.
func (p *Portfolio) Trades() []domain.Trade {
	return p.trades
}

// GetSummary returns portfolio-level accounting totals.
func (p *Portfolio) GetSummary() Summary {
	s := Summary{
		InitialCapital: p.initialCapital,
		CurrentCash:    p.cash,
		Positions:      p.Positions(),
		TotalTrades:    len(p.trades),
	}
	for _, t := range p.trades {
		if t.Side == domain.OrderSideBuy {
			s.BuyTrades++
		} else {
			s.SellTrades++
		}
		s.TotalCommissionPaid += t.Commission
	}
	return s
}
