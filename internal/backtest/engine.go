package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/store"
)

// ErrNoDataLoaded is returned by Run when no historical bars have been
// loaded into the engine.
var ErrNoDataLoaded = errors.New("no market data loaded")

// State tracks the engine lifecycle. Transitions are one-way:
// created → data_loaded → running → complete.
type State string

const (
	StateCreated    State = "created"
	StateDataLoaded State = "data_loaded"
	StateRunning    State = "running"
	StateComplete   State = "complete"
)

// StrategyLog is an opaque diagnostic record emitted by a strategy at one
// timestep. The engine stamps each record with the step timestamp and passes
// it through to the results bundle unmodified otherwise.
type StrategyLog map[string]any

// Strategy is the decision-process contract. At each timestep the engine
// hands the strategy the current timestamp, the visible bar history per
// instrument (never any future bar), and the live portfolio, and receives
// zero or more orders plus optional diagnostic logs.
//
// Histories are shared read-only views; implementations must not mutate
// them. Invocations are sequential and in timeline order, so a strategy may
// keep per-run state (e.g. its last signal per instrument) in the value
// itself.
type Strategy interface {
	GenerateOrders(ts time.Time, history map[string][]domain.Bar, pf *Portfolio) ([]domain.Order, []StrategyLog, error)
}

// Config holds the simulation parameters for an engine.
type Config struct {
	InitialCapital float64
	CommissionPct  float64
	SlippagePct    float64
	RiskFreeRate   float64
}

// DefaultConfig returns the standard simulation parameters: $100k capital,
// 0.1% commission, 0.05% slippage, 2% risk-free rate.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		CommissionPct:  0.001,
		SlippagePct:    0.0005,
		RiskFreeRate:   0.02,
	}
}

// Result is the bundle returned by a completed run, consumed by downstream
// reporting layers.
type Result struct {
	EquityCurve      []domain.EquityPoint  `json:"equity_curve"`
	Trades           []domain.Trade        `json:"trades"`
	MatchedTrades    []domain.MatchedTrade `json:"matched_trades"`
	StrategyLogs     []StrategyLog         `json:"strategy_logs,omitempty"`
	PortfolioSummary Summary               `json:"portfolio_summary"`
	FinalEquity      float64               `json:"final_equity"`
	TotalReturn      float64               `json:"total_return"`
}

// Engine replays historical bars chronologically, invoking a strategy at
// each timestep and applying its orders through the portfolio. One engine
// drives one run at a time; it must not be shared across concurrent runs.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	bars          map[string][]domain.Bar // sorted ascending per symbol
	currentPrices map[string]float64
	portfolio     *Portfolio
	state         State
}

// NewEngine creates an engine in the created state. A nil logger falls back
// to slog.Default().
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultConfig().InitialCapital
	}
	return &Engine{
		cfg:           cfg,
		logger:        logger,
		bars:          make(map[string][]domain.Bar),
		currentPrices: make(map[string]float64),
		state:         StateCreated,
	}
}

// State returns the engine lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Portfolio returns the run's portfolio, nil before the first Run. Retained
// after completion for inspection; never reused across runs.
func (e *Engine) Portfolio() *Portfolio {
	return e.portfolio
}

// LoadBars registers the historical series for one instrument. Bars are
// validated, copied, and sorted chronologically; instruments may have gaps
// and need not cover the same date range. Loading the same symbol again
// replaces its series.
func (e *Engine) LoadBars(symbol string, bars []domain.Bar) error {
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars supplied for %s", symbol)
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("loading %s: %w", symbol, err)
		}
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	e.bars[symbol] = sorted
	e.state = StateDataLoaded
	e.logger.Debug("loaded bars", "symbol", symbol, "bars", len(sorted))
	return nil
}

// LoadBarsFromStore hydrates the engine from a BarStore for the given
// symbols and date range. Symbols with no stored bars in the range are
// reported as errors; previously loaded symbols are kept.
func (e *Engine) LoadBarsFromStore(ctx context.Context, st store.BarStore, symbols []string, start, end time.Time) error {
	for _, symbol := range symbols {
		bars, err := st.ReadBars(ctx, symbol, start, end)
		if err != nil {
			return fmt.Errorf("reading bars for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return fmt.Errorf("no stored bars for %s in [%s, %s]",
				symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
		if err := e.LoadBars(symbol, bars); err != nil {
			return err
		}
	}
	return nil
}

// Run replays the union timeline of all loaded instruments through the
// strategy and returns the results bundle. Per step it marks prices forward,
// records equity, hands the strategy its look-ahead-safe history view, and
// executes the returned orders; a strategy error skips the step and a
// rejected order is logged without aborting the rest of its batch. Run fails
// only when no data has been loaded.
func (e *Engine) Run(strategy Strategy) (*Result, error) {
	if len(e.bars) == 0 || e.state == StateCreated {
		return nil, ErrNoDataLoaded
	}

	e.portfolio = NewPortfolio(e.cfg.InitialCapital, e.cfg.CommissionPct, e.cfg.SlippagePct)
	e.currentPrices = make(map[string]float64)
	e.state = StateRunning

	timeline := e.unionTimeline()
	e.logger.Info("starting backtest",
		"instruments", len(e.bars),
		"steps", len(timeline),
		"from", timeline[0].Format("2006-01-02"),
		"to", timeline[len(timeline)-1].Format("2006-01-02"),
		"initial_capital", e.cfg.InitialCapital,
	)

	// visible[symbol] = count of bars at or before the current timestamp.
	visible := make(map[string]int, len(e.bars))
	var strategyLogs []StrategyLog

	for _, ts := range timeline {
		e.advanceTo(ts, visible)

		// Start-of-bar valuation, before this step's orders execute.
		e.portfolio.RecordEquity(ts, e.currentPrices)

		history := make(map[string][]domain.Bar, len(e.bars))
		for symbol, bars := range e.bars {
			history[symbol] = bars[:visible[symbol]]
		}

		orders, logs, err := strategy.GenerateOrders(ts, history, e.portfolio)
		if err != nil {
			e.logger.Warn("strategy error, skipping step", "timestamp", ts, "error", err)
			continue
		}
		for _, l := range logs {
			if l == nil {
				l = StrategyLog{}
			}
			l["step_timestamp"] = ts
			strategyLogs = append(strategyLogs, l)
		}

		e.executeOrders(orders, ts)
	}

	// Final snapshot so the curve's last point reflects end-of-run state.
	last := timeline[len(timeline)-1]
	e.portfolio.RecordEquity(last, e.currentPrices)
	e.state = StateComplete

	finalEquity := e.portfolio.Equity(e.currentPrices)
	totalReturn := finalEquity/e.cfg.InitialCapital - 1

	e.logger.Info("backtest complete",
		"final_equity", finalEquity,
		"total_return", totalReturn,
		"trades", len(e.portfolio.Trades()),
	)

	return &Result{
		EquityCurve:      e.portfolio.EquityHistory(),
		Trades:           e.portfolio.Trades(),
		MatchedTrades:    MatchTrades(e.portfolio.Trades()),
		StrategyLogs:     strategyLogs,
		PortfolioSummary: e.portfolio.GetSummary(),
		FinalEquity:      finalEquity,
		TotalReturn:      totalReturn,
	}, nil
}

// unionTimeline returns the sorted distinct timestamps across all loaded
// instruments. A union, not an intersection: instruments with gaps simply
// carry their last known price forward on steps they miss.
func (e *Engine) unionTimeline() []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range e.bars {
		for _, b := range bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	timeline := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}

// advanceTo moves each instrument's visibility cursor up to ts and marks its
// price to the close of the most recent bar at or before ts. Instruments
// with no bar yet keep no price and contribute nothing to equity.
func (e *Engine) advanceTo(ts time.Time, visible map[string]int) {
	for symbol, bars := range e.bars {
		i := visible[symbol]
		for i < len(bars) && !bars[i].Timestamp.After(ts) {
			i++
		}
		if i > visible[symbol] {
			e.currentPrices[symbol] = bars[i-1].Close
		}
		visible[symbol] = i
	}
}

// executeOrders applies one timestep's order batch at current mark prices.
// Failures are isolated per order: a skipped or rejected order never stops
// the remaining orders in the batch.
func (e *Engine) executeOrders(orders []domain.Order, ts time.Time) {
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			e.logger.Warn("invalid order skipped", "timestamp", ts, "error", err)
			continue
		}
		price, ok := e.currentPrices[o.Symbol]
		if !ok {
			e.logger.Warn("no price data for symbol, skipping order", "timestamp", ts, "symbol", o.Symbol)
			continue
		}

		var err error
		switch o.Side {
		case domain.OrderSideBuy:
			_, err = e.portfolio.Buy(o.Symbol, o.Quantity, price, ts)
		case domain.OrderSideSell:
			_, err = e.portfolio.Sell(o.Symbol, o.Quantity, price, ts)
		}
		if err != nil {
			e.logger.Warn("order rejected", "timestamp", ts, "symbol", o.Symbol, "side", o.Side, "error", err)
			continue
		}
		e.logger.Debug("order filled", "timestamp", ts, "symbol", o.Symbol, "side", o.Side, "quantity", o.Quantity, "price", price)
	}
}

// WriteResultsJSON writes the results bundle as indented JSON.
func WriteResultsJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
