package backtest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dailyBars(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// strategyFunc adapts a function to the Strategy interface for tests.
type strategyFunc func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error)

func (f strategyFunc) GenerateOrders(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
	return f(ts, history, pf)
}

var holdStrategy = strategyFunc(func(time.Time, map[string][]domain.Bar, *Portfolio) ([]domain.Order, []StrategyLog, error) {
	return nil, nil, nil
})

func TestEngineRunWithoutDataFails(t *testing.T) {
	e := NewEngine(DefaultConfig(), discardLogger())
	if _, err := e.Run(holdStrategy); !errors.Is(err, ErrNoDataLoaded) {
		t.Errorf("Run() error = %v, want ErrNoDataLoaded", err)
	}
	if e.State() != StateCreated {
		t.Errorf("State() = %v, want %v", e.State(), StateCreated)
	}
}

func TestEngineLoadBarsValidation(t *testing.T) {
	e := NewEngine(DefaultConfig(), discardLogger())
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	if err := e.LoadBars("", dailyBars("AAPL", start, 100)); err == nil {
		t.Error("LoadBars() accepted an empty symbol")
	}
	if err := e.LoadBars("AAPL", nil); err == nil {
		t.Error("LoadBars() accepted an empty series")
	}

	bad := dailyBars("AAPL", start, 100)
	bad[0].Low = 200 // low above high
	if err := e.LoadBars("AAPL", bad); err == nil {
		t.Error("LoadBars() accepted an invalid bar")
	}

	// Out-of-order input is sorted on load.
	bars := dailyBars("AAPL", start, 100, 101, 102)
	bars[0], bars[2] = bars[2], bars[0]
	if err := e.LoadBars("AAPL", bars); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}
	if e.State() != StateDataLoaded {
		t.Errorf("State() = %v, want %v", e.State(), StateDataLoaded)
	}
}

func TestEngineBuyAndHoldRun(t *testing.T) {
	// 31 daily bars: flat at $100 through day 30, then $110 on the last day.
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	closes := make([]float64, 31)
	for i := range closes {
		closes[i] = 100
	}
	closes[30] = 110

	e := NewEngine(DefaultConfig(), discardLogger())
	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, closes...)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}

	bought := false
	strategy := strategyFunc(func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
		if !bought {
			bought = true
			return []domain.Order{{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 900}},
				[]StrategyLog{{"signal": "BUY"}}, nil
		}
		return nil, nil, nil
	})

	res, err := e.Run(strategy)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if e.State() != StateComplete {
		t.Errorf("State() = %v, want %v", e.State(), StateComplete)
	}

	// Buy cost: 900 × 100 × 1.0005 × 1.001 = 90135.045.
	// Final equity: cash 9864.955 + 900 × 110 = 108864.955.
	if !almostEqual(res.FinalEquity, 108864.955) {
		t.Errorf("FinalEquity = %v, want 108864.955", res.FinalEquity)
	}
	if !almostEqual(res.TotalReturn, 108864.955/100000-1) {
		t.Errorf("TotalReturn = %v, want %v", res.TotalReturn, 108864.955/100000-1)
	}

	// One start-of-bar point per step plus the final snapshot.
	if len(res.EquityCurve) != 32 {
		t.Fatalf("equity curve has %d points, want 32", len(res.EquityCurve))
	}
	// The first point is valued before any order executes.
	if !almostEqual(res.EquityCurve[0].Equity, 100000) {
		t.Errorf("first equity point = %v, want 100000", res.EquityCurve[0].Equity)
	}
	if !almostEqual(res.EquityCurve[31].Equity, 108864.955) {
		t.Errorf("last equity point = %v, want 108864.955", res.EquityCurve[31].Equity)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("ledger has %d fills, want 1", len(res.Trades))
	}
	if res.PortfolioSummary.BuyTrades != 1 || res.PortfolioSummary.SellTrades != 0 {
		t.Errorf("summary counts = %d/%d, want 1/0",
			res.PortfolioSummary.BuyTrades, res.PortfolioSummary.SellTrades)
	}

	// Strategy logs are stamped with the step timestamp.
	if len(res.StrategyLogs) != 1 {
		t.Fatalf("strategy logs = %d, want 1", len(res.StrategyLogs))
	}
	if _, ok := res.StrategyLogs[0]["step_timestamp"]; !ok {
		t.Error("strategy log missing step_timestamp")
	}
}

func TestEngineUnionTimelineCarriesPricesForward(t *testing.T) {
	// AAPL trades on days 0, 1, 2, 3; MSFT only on days 0 and 3. On the gap
	// days MSFT keeps its last close for valuation.
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	e := NewEngine(Config{InitialCapital: 100000}, discardLogger())
	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, 100, 101, 102, 103)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}
	msft := []domain.Bar{
		{Symbol: "MSFT", Timestamp: start, Open: 200, High: 201, Low: 199, Close: 200, Volume: 500},
		{Symbol: "MSFT", Timestamp: start.AddDate(0, 0, 3), Open: 220, High: 221, Low: 219, Close: 220, Volume: 500},
	}
	if err := e.LoadBars("MSFT", msft); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}

	var steps []time.Time
	var visibleMSFT []int
	strategy := strategyFunc(func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
		steps = append(steps, ts)
		visibleMSFT = append(visibleMSFT, len(history["MSFT"]))
		if len(steps) == 1 {
			return []domain.Order{{Symbol: "MSFT", Side: domain.OrderSideBuy, Quantity: 100}}, nil, nil
		}
		return nil, nil, nil
	})

	res, err := e.Run(strategy)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	// Union of timestamps, not intersection: 4 distinct days.
	if len(steps) != 4 {
		t.Fatalf("strategy invoked %d times, want 4", len(steps))
	}
	// MSFT history stays at one bar through the gap, never previews day 3.
	want := []int{1, 1, 1, 2}
	for i, got := range visibleMSFT {
		if got != want[i] {
			t.Errorf("step %d: visible MSFT bars = %d, want %d", i, got, want[i])
		}
	}

	// Gap-day equity marks MSFT at its carried-forward close of 200.
	// cash 80000 + 100 × 200 = 100000 on days 1 and 2.
	if !almostEqual(res.EquityCurve[1].Equity, 100000) {
		t.Errorf("gap-day equity = %v, want 100000", res.EquityCurve[1].Equity)
	}
	// Final equity picks up MSFT's day-3 close of 220.
	if !almostEqual(res.FinalEquity, 80000+100*220) {
		t.Errorf("FinalEquity = %v, want 102000", res.FinalEquity)
	}
}

func TestEngineStrategyErrorSkipsStep(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	e := NewEngine(Config{InitialCapital: 100000}, discardLogger())
	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, 100, 101, 102)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}

	calls := 0
	strategy := strategyFunc(func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
		calls++
		if calls == 2 {
			return nil, nil, fmt.Errorf("transient failure")
		}
		return nil, nil, nil
	})

	res, err := e.Run(strategy)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("strategy invoked %d times, want 3 (error skips the step only)", calls)
	}
	if len(res.EquityCurve) != 4 {
		t.Errorf("equity curve has %d points, want 4 (errored step still valued)", len(res.EquityCurve))
	}
}

func TestEngineOrderFailuresAreIsolated(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := NewEngine(Config{InitialCapital: 100000}, logger)
	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, 100, 101)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}

	issued := false
	strategy := strategyFunc(func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
		if issued {
			return nil, nil, nil
		}
		issued = true
		return []domain.Order{
			{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: -1},      // invalid
			{Symbol: "ZZZZ", Side: domain.OrderSideBuy, Quantity: 10},      // no price
			{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1000000}, // rejected
			{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 10},      // fills
		}, nil, nil
	})

	res, err := e.Run(strategy)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("ledger has %d fills, want 1 (only the valid order)", len(res.Trades))
	}
	if res.Trades[0].Quantity != 10 {
		t.Errorf("filled quantity = %d, want 10", res.Trades[0].Quantity)
	}

	out := buf.String()
	for _, msg := range []string{"invalid order skipped", "no price data", "order rejected"} {
		if !strings.Contains(out, msg) {
			t.Errorf("log output missing %q", msg)
		}
	}
}

func TestEngineReloadReplacesSeries(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	e := NewEngine(Config{InitialCapital: 100000}, discardLogger())

	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, 100, 101)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}
	if err := e.LoadBars("AAPL", dailyBars("AAPL", start, 100, 101, 102, 103, 104)); err != nil {
		t.Fatalf("LoadBars() returned error: %v", err)
	}

	calls := 0
	strategy := strategyFunc(func(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error) {
		calls++
		return nil, nil, nil
	})
	if _, err := e.Run(strategy); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if calls != 5 {
		t.Errorf("strategy invoked %d times, want 5 (reload replaces, not merges)", calls)
	}
}

func TestWriteResultsJSON(t *testing.T) {
	res := &Result{
		EquityCurve: curveOf(100000, 101000),
		FinalEquity: 101000,
		TotalReturn: 0.01,
		PortfolioSummary: Summary{
			InitialCapital: 100000,
			CurrentCash:    101000,
			Positions:      map[string]int64{},
		},
	}

	var buf strings.Builder
	if err := WriteResultsJSON(&buf, res); err != nil {
		t.Fatalf("WriteResultsJSON() returned error: %v", err)
	}
	out := buf.String()
	for _, key := range []string{"equity_curve", "final_equity", "total_return", "portfolio_summary"} {
		if !strings.Contains(out, key) {
			t.Errorf("JSON output missing key %q", key)
		}
	}
}
