package builtins

import (
	"math"
	"time"

	"quantsim/internal/backtest"
	"quantsim/internal/domain"
	"quantsim/internal/indicators"
)

// Compile-time interface check.
var _ backtest.Strategy = (*RSIReversion)(nil)

// RSIReversion is a mean-reversion strategy: it buys when RSI drops below
// the oversold level and exits when RSI rises above the overbought level.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64

	sizer      *backtest.Sizer
	lastSignal map[string]string
}

// NewRSIReversion creates an RSIReversion with the given lookback period
// and oversold/overbought levels (e.g. 14, 30, 70).
func NewRSIReversion(period int, oversold, overbought float64) *RSIReversion {
	return &RSIReversion{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		sizer:      backtest.NewSizer(backtest.SizeFixedPct),
		lastSignal: make(map[string]string),
	}
}

// Name returns "rsi-reversion".
func (s *RSIReversion) Name() string {
	return "rsi-reversion"
}

// GenerateOrders implements backtest.Strategy.
func (s *RSIReversion) GenerateOrders(_ time.Time, history map[string][]domain.Bar, pf *backtest.Portfolio) ([]domain.Order, []backtest.StrategyLog, error) {
	var orders []domain.Order
	var logs []backtest.StrategyLog

	for _, symbol := range sortedSymbols(history) {
		bars := history[symbol]
		if len(bars) <= s.period {
			continue
		}

		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		rsi := indicators.RSI(closes, s.period)

		i := len(closes) - 1
		current := rsi[i]
		if math.IsNaN(current) {
			continue
		}

		signal := "HOLD"
		switch {
		case current < s.oversold:
			signal = "BUY"
		case current > s.overbought:
			signal = "SELL"
		}
		if signal == s.lastSignal[symbol] {
			continue
		}
		s.lastSignal[symbol] = signal

		price := closes[i]
		switch signal {
		case "BUY":
			if pf.Position(symbol) != 0 {
				continue
			}
			qty, err := s.sizer.CalculateSize(price, pf, 1.0)
			if err != nil || qty <= 0 {
				continue
			}
			orders = append(orders, domain.Order{Symbol: symbol, Side: domain.OrderSideBuy, Quantity: qty})
			logs = append(logs, backtest.StrategyLog{
				"strategy": s.Name(), "symbol": symbol, "signal": signal, "close": price, "rsi": current,
			})
		case "SELL":
			held := pf.Position(symbol)
			if held <= 0 {
				continue
			}
			orders = append(orders, domain.Order{Symbol: symbol, Side: domain.OrderSideSell, Quantity: held})
			logs = append(logs, backtest.StrategyLog{
				"strategy": s.Name(), "symbol": symbol, "signal": signal, "close": price, "rsi": current,
			})
		}
	}

	return orders, logs, nil
}
