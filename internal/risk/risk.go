// Package risk provides stateless advisory pre-trade checks. A caller runs
// ApproveTrade before submitting an order; the manager never touches the
// portfolio itself and callers decide how to react to a rejection.
package risk

import (
	"fmt"
	"math"

	"quantsim/internal/domain"
	"quantsim/internal/indicators"
)

// Signal is the proposed trading action under evaluation.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// volatilityPeriod is the rolling window, in return samples, for the
// volatility check.
const volatilityPeriod = 20

// Default thresholds.
const (
	DefaultMaxPositionPct    = 0.10
	DefaultMaxVolatility     = 0.03
	DefaultMinSentimentScore = 0.5
)

// Manager evaluates a fixed set of gating checks against a trade snapshot.
// It holds thresholds only; every evaluation is a pure function of its
// inputs.
type Manager struct {
	maxPositionPct    float64
	maxVolatility     float64
	minSentimentScore float64
}

// NewManager creates a Manager with the given thresholds. Non-positive
// values fall back to the defaults (10% position cap, 3% volatility cap,
// 0.5 sentiment floor).
func NewManager(maxPositionPct, maxVolatility, minSentimentScore float64) *Manager {
	if maxPositionPct <= 0 {
		maxPositionPct = DefaultMaxPositionPct
	}
	if maxVolatility <= 0 {
		maxVolatility = DefaultMaxVolatility
	}
	if minSentimentScore <= 0 {
		minSentimentScore = DefaultMinSentimentScore
	}
	return &Manager{
		maxPositionPct:    maxPositionPct,
		maxVolatility:     maxVolatility,
		minSentimentScore: minSentimentScore,
	}
}

// Snapshot is the state a trade proposal is judged against.
type Snapshot struct {
	Signal         Signal
	Symbol         string
	Bars           []domain.Bar // price history for the instrument, oldest first
	SentimentScore float64
	CurrentCapital float64
	Quantity       int64 // proposed shares; ≤0 derives the maximum the position cap allows
}

// CheckPositionSize verifies the proposed position value stays within the
// per-position fraction of current capital. Non-BUY signals pass trivially.
func (m *Manager) CheckPositionSize(signal Signal, price float64, quantity int64, capital float64) (bool, string) {
	if signal != SignalBuy {
		return true, "not a BUY signal"
	}

	maxValue := capital * m.maxPositionPct
	value := float64(quantity) * price
	if value > maxValue {
		return false, fmt.Sprintf("position size $%.2f exceeds maximum $%.2f (%.0f%% of portfolio)",
			value, maxValue, m.maxPositionPct*100)
	}
	return true, fmt.Sprintf("position size $%.2f is within limits", value)
}

// CheckVolatility verifies the rolling 20-period return standard deviation
// is at or below the cap. Fewer than 21 price samples cannot produce the
// rolling window, and insufficient data is a rejection, not a pass.
func (m *Manager) CheckVolatility(bars []domain.Bar) (bool, string) {
	if len(bars) < volatilityPeriod+1 {
		return false, "insufficient data to calculate volatility"
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	vol := indicators.RollingVolatility(closes, volatilityPeriod)
	current := vol[len(vol)-1]
	if math.IsNaN(current) {
		return false, "unable to calculate volatility"
	}

	if current > m.maxVolatility {
		return false, fmt.Sprintf("volatility %.4f (%.2f%%) exceeds maximum %.4f (%.2f%%)",
			current, current*100, m.maxVolatility, m.maxVolatility*100)
	}
	return true, fmt.Sprintf("volatility %.4f (%.2f%%) is acceptable", current, current*100)
}

// CheckSentiment verifies the sentiment score meets the floor for BUY
// signals. SELL and HOLD always pass.
func (m *Manager) CheckSentiment(signal Signal, score float64) (bool, string) {
	if signal != SignalBuy {
		return true, "not a BUY signal"
	}
	if score < m.minSentimentScore {
		return false, fmt.Sprintf("sentiment score %.2f below minimum %.2f for BUY signals",
			score, m.minSentimentScore)
	}
	return true, fmt.Sprintf("sentiment score %.2f meets threshold", score)
}

// CheckCapital verifies that price × quantity does not exceed the current
// capital. Non-BUY signals pass trivially.
func (m *Manager) CheckCapital(signal Signal, price float64, quantity int64, capital float64) (bool, string) {
	if signal != SignalBuy {
		return true, "not a BUY signal"
	}
	required := price * float64(quantity)
	if required > capital {
		return false, fmt.Sprintf("insufficient capital: required $%.2f, available $%.2f", required, capital)
	}
	return true, fmt.Sprintf("sufficient capital available ($%.2f)", capital)
}

// ApproveTrade runs every check against the snapshot. A HOLD signal
// short-circuits to approval; otherwise all four checks must pass. Each
// returned reason is prefixed PASS:/FAIL: for auditability.
func (m *Manager) ApproveTrade(s Snapshot) (bool, []string) {
	if s.Signal == SignalHold {
		return true, []string{"signal is HOLD - no trade to approve"}
	}
	if len(s.Bars) == 0 {
		return false, []string{"no market data available for risk assessment"}
	}

	price := s.Bars[len(s.Bars)-1].Close
	quantity := s.Quantity
	if quantity <= 0 && price > 0 {
		quantity = int64(s.CurrentCapital * m.maxPositionPct / price)
	}

	approved := true
	var reasons []string
	record := func(passed bool, reason string) {
		if passed {
			reasons = append(reasons, "PASS: "+reason)
		} else {
			reasons = append(reasons, "FAIL: "+reason)
			approved = false
		}
	}

	record(m.CheckPositionSize(s.Signal, price, quantity, s.CurrentCapital))
	record(m.CheckVolatility(s.Bars))
	record(m.CheckSentiment(s.Signal, s.SentimentScore))
	record(m.CheckCapital(s.Signal, price, quantity, s.CurrentCapital))

	return approved, reasons
}
