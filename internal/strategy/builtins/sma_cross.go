// Package builtins provides built-in reference strategies. They exist to
// exercise the engine end to end and to document the Strategy contract;
// production decision processes plug in through the same interface.
package builtins

import (
	"math"
	"sort"
	"time"

	"quantsim/internal/backtest"
	"quantsim/internal/domain"
	"quantsim/internal/indicators"
)

// Compile-time interface check.
var _ backtest.Strategy = (*SMACross)(nil)

// SMACross is a simple moving average crossover strategy: it buys when the
// short SMA crosses above the long SMA and closes the position when it
// crosses back below. Entries are sized at a fixed fraction of cash.
//
// The strategy acts only on signal changes, tracking its last signal per
// instrument across calls; the engine guarantees in-order, non-reentrant
// invocation, so that state needs no locking.
type SMACross struct {
	short int
	long  int

	sizer      *backtest.Sizer
	lastSignal map[string]string
}

// NewSMACross creates an SMACross with the given short and long periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		short:      short,
		long:       long,
		sizer:      backtest.NewSizer(backtest.SizeFixedPct),
		lastSignal: make(map[string]string),
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// GenerateOrders implements backtest.Strategy.
func (s *SMACross) GenerateOrders(_ time.Time, history map[string][]domain.Bar, pf *backtest.Portfolio) ([]domain.Order, []backtest.StrategyLog, error) {
	var orders []domain.Order
	var logs []backtest.StrategyLog

	for _, symbol := range sortedSymbols(history) {
		bars := history[symbol]
		// Need one bar beyond the long window to detect a cross.
		if len(bars) < s.long+1 {
			continue
		}

		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		shortMA := indicators.SMA(closes, s.short)
		longMA := indicators.SMA(closes, s.long)

		i := len(closes) - 1
		if math.IsNaN(longMA[i]) || math.IsNaN(longMA[i-1]) {
			continue
		}

		signal := "HOLD"
		switch {
		case shortMA[i] > longMA[i] && shortMA[i-1] <= longMA[i-1]:
			signal = "BUY"
		case shortMA[i] < longMA[i] && shortMA[i-1] >= longMA[i-1]:
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
				"strategy": s.Name(), "symbol": symbol, "signal": signal,
				"close": price, "sma_short": shortMA[i], "sma_long": longMA[i],
			})
		case "SELL":
			held := pf.Position(symbol)
			if held <= 0 {
				continue
			}
			orders = append(orders, domain.Order{Symbol: symbol, Side: domain.OrderSideSell, Quantity: held})
			logs = append(logs, backtest.StrategyLog{
				"strategy": s.Name(), "symbol": symbol, "signal": signal,
				"close": price, "sma_short": shortMA[i], "sma_long": longMA[i],
			})
		}
	}

	return orders, logs, nil
}

// sortedSymbols gives deterministic iteration order over the history map.
func sortedSymbols(history map[string][]domain.Bar) []string {
	symbols := make([]string, 0, len(history))
	for symbol := range history {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
