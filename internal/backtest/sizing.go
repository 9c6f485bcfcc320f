package backtest

import (
	"fmt"

	"quantsim/internal/domain"
)

// SizingMethod selects how a Sizer allocates capital to a new position.
type SizingMethod string

const (
	SizeFixedPct    SizingMethod = "fixed_pct"
	SizeEqualWeight SizingMethod = "equal_weight"
	SizeKelly       SizingMethod = "kelly"
)

// Sizer computes entry quantities from portfolio state. The zero value is
// not usable; construct with NewSizer.
type Sizer struct {
	Method SizingMethod

	// fixed_pct
	AllocationPct float64 // fraction of cash per position (default 0.10)

	// equal_weight
	MaxPositions int // concurrent position cap (default 10)

	// kelly priors, used until real trade history exists
	WinRate float64 // default 0.55
	AvgWin  float64 // default 0.02
	AvgLoss float64 // default 0.01
}

// NewSizer creates a Sizer for the given method with conservative defaults.
func NewSizer(method SizingMethod) *Sizer {
	return &Sizer{
		Method:        method,
		AllocationPct: 0.10,
		MaxPositions:  10,
		WinRate:       0.55,
		AvgWin:        0.02,
		AvgLoss:       0.01,
	}
}

// CalculateSize returns the whole number of shares to buy at the given
// price. signalStrength in [0,1] scales the fixed-percentage and Kelly
// allocations; equal-weight ignores it.
func (s *Sizer) CalculateSize(price float64, pf *Portfolio, signalStrength float64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("sizing price must be positive, got %g", price)
	}
	switch s.Method {
	case SizeFixedPct:
		return int64(pf.Cash() * s.AllocationPct * signalStrength / price), nil
	case SizeEqualWeight:
		held := len(pf.Positions())
		if held >= s.MaxPositions {
			return 0, nil
		}
		return int64(pf.Cash() / float64(s.MaxPositions-held) / price), nil
	case SizeKelly:
		return s.kellySize(price, pf, signalStrength), nil
	default:
		return 0, fmt.Errorf("unknown sizing method: %s", s.Method)
	}
}

// kellySize applies the simplified Kelly criterion
// (win% × avgWin − loss% × avgLoss) / avgWin, capped at 25% of cash.
func (s *Sizer) kellySize(price float64, pf *Portfolio, signalStrength float64) int64 {
	kelly := (s.WinRate*s.AvgWin - (1-s.WinRate)*s.AvgLoss) / s.AvgWin
	if kelly < 0 {
		kelly = 0
	}
	if kelly > 0.25 {
		kelly = 0.25
	}
	kelly *= signalStrength
	return int64(pf.Cash() * kelly / price)
}

// TradeAnalytics summarizes closing-fill quality from the ledger. Holding
// periods pair each SELL against the most recent unpaired BUY of the same
// symbol.
type TradeAnalytics struct {
	AvgHoldingPeriodDays float64 `json:"avg_holding_period"`
	TradeFrequency       int     `json:"trade_frequency"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	LargestWin           float64 `json:"largest_win"`
	LargestLoss          float64 `json:"largest_loss"`
}

// CalculateTradeAnalytics computes TradeAnalytics from the fill ledger.
func CalculateTradeAnalytics(trades []domain.Trade) TradeAnalytics {
	var a TradeAnalytics

	buyTimes := make(map[string]domain.Trade)
	var holdingDays []float64
	var wins, losses []float64

	for _, t := range trades {
		switch t.Side {
		case domain.OrderSideBuy:
			buyTimes[t.Symbol] = t
		case domain.OrderSideSell:
			a.TradeFrequency++
			if entry, ok := buyTimes[t.Symbol]; ok {
				holdingDays = append(holdingDays, t.Timestamp.Sub(entry.Timestamp).Hours()/24)
				delete(buyTimes, t.Symbol)
			}
			pnl := -t.TotalCost
			if pnl > 0 {
				wins = append(wins, pnl)
				if pnl > a.LargestWin {
					a.LargestWin = pnl
				}
			} else {
				loss := -pnl
				losses = append(losses, loss)
				if loss > a.LargestLoss {
					a.LargestLoss = loss
				}
			}
		}
	}

	a.AvgHoldingPeriodDays = mean(holdingDays)
	a.AvgWin = mean(wins)
	a.AvgLoss = mean(losses)
	return a
}
