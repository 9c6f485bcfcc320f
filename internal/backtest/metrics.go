package backtest

import (
	"math"
	"sort"

	"quantsim/internal/domain"
)

// tradingPeriodsPerYear is the annualization convention for daily data.
const tradingPeriodsPerYear = 252

// Metrics is the full performance battery computed from an equity curve and
// a fill ledger. The JSON keys are the contract consumed by reporting
// layers. Every metric degrades to a neutral value (0, or +Inf/0 for the
// profit factor) on degenerate input; nothing here panics or errors.
type Metrics struct {
	TotalReturn         float64 `json:"total_return"`
	CAGR                float64 `json:"cagr"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	VaR95               float64 `json:"var_95"`
	CVaR95              float64 `json:"cvar_95"`
	TotalTrades         int     `json:"total_trades"`
}

// CalculateAllMetrics computes the whole battery. riskFreeRate is annual
// (e.g. 0.02 for 2%); trade counting covers closing (SELL) fills only.
func CalculateAllMetrics(curve []domain.EquityPoint, trades []domain.Trade, riskFreeRate float64) Metrics {
	returns := equityReturns(curve)
	totalReturn, cagr := CalculateReturns(curve)
	maxDD, ddDuration := MaxDrawdown(curve)

	closing := 0
	for _, t := range trades {
		if t.Side == domain.OrderSideSell {
			closing++
		}
	}

	return Metrics{
		TotalReturn:         totalReturn,
		CAGR:                cagr,
		Volatility:          Volatility(returns),
		SharpeRatio:         SharpeRatio(returns, riskFreeRate),
		SortinoRatio:        SortinoRatio(returns, riskFreeRate),
		MaxDrawdown:         maxDD,
		MaxDrawdownDuration: ddDuration,
		WinRate:             WinRate(trades),
		ProfitFactor:        ProfitFactor(trades),
		VaR95:               ValueAtRisk(returns, 0.95),
		CVaR95:              ConditionalVaR(returns, 0.95),
		TotalTrades:         closing,
	}
}

// equityReturns converts an equity curve into its period-over-period
// percentage-change series.
func equityReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// CalculateReturns computes the total return and the compound annual growth
// rate of an equity curve. CAGR uses the calendar span of the timestamp
// index (365.25-day years); when the span is zero or negative it falls back
// to counting periods at 252 per year, and is 0 when still degenerate.
func CalculateReturns(curve []domain.EquityPoint) (totalReturn, cagr float64) {
	if len(curve) < 2 {
		return 0, 0
	}
	initial := curve[0].Equity
	final := curve[len(curve)-1].Equity
	if initial <= 0 {
		return 0, 0
	}

	totalReturn = final/initial - 1

	growth := final / initial
	if growth <= 0 {
		return totalReturn, 0
	}

	days := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24
	years := days / 365.25
	if years <= 0 {
		years = float64(len(curve)) / tradingPeriodsPerYear
	}
	if years <= 0 {
		return totalReturn, 0
	}
	return totalReturn, math.Pow(growth, 1/years) - 1
}

// Volatility is the annualized sample standard deviation of period returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return sampleStdDev(returns) * math.Sqrt(tradingPeriodsPerYear)
}

// SharpeRatio is the annualized mean excess return over its standard
// deviation. The annual risk-free rate is de-annualized to a per-period
// rate at 252 periods per year. Returns 0 when the deviation is zero or
// there are fewer than two observations.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate)
	sd := sampleStdDev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingPeriodsPerYear)
}

// SortinoRatio is the Sharpe variant that penalizes only downside: the
// denominator is the standard deviation of the negative excess returns.
// Returns 0 when there are no negative observations or their deviation is
// zero.
func SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate)

	var downside []float64
	for _, r := range excess {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sd := sampleStdDev(downside)
	if len(downside) == 0 || sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingPeriodsPerYear)
}

// MaxDrawdown computes the deepest peak-to-trough decline of the equity
// curve as a positive fraction of the running peak, and the longest run of
// consecutive timeline steps spent in strictly positive drawdown.
func MaxDrawdown(curve []domain.EquityPoint) (maxDD float64, duration int) {
	if len(curve) < 2 {
		return 0, 0
	}

	runningMax := curve[0].Equity
	current := 0
	for _, pt := range curve {
		if pt.Equity > runningMax {
			runningMax = pt.Equity
		}
		dd := 0.0
		if runningMax > 0 {
			dd = (runningMax - pt.Equity) / runningMax
		}
		if dd > maxDD {
			maxDD = dd
		}
		if dd > 0 {
			current++
			if current > duration {
				duration = current
			}
		} else {
			current = 0
		}
	}
	return maxDD, duration
}

// WinRate is the fraction of closing (SELL) fills that were profitable,
// classified at the SELL leg: a recorded negative total cost is a net cash
// inflow and counts as a win. Note this is the ledger-level reading; see
// MatchedWinRate for the round-trip reading, which can differ when one sell
// consumes lots with mixed entry prices.
func WinRate(trades []domain.Trade) float64 {
	wins, closed := 0, 0
	for _, t := range trades {
		if t.Side != domain.OrderSideSell {
			continue
		}
		closed++
		if t.TotalCost < 0 {
			wins++
		}
	}
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

// MatchedWinRate is the fraction of round-trip trades with positive net
// P&L.
func MatchedWinRate(matched []domain.MatchedTrade) float64 {
	if len(matched) == 0 {
		return 0
	}
	wins := 0
	for _, m := range matched {
		if m.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(matched))
}

// ProfitFactor is gross profit over gross loss across closing fills,
// measured by each SELL's net cash flow. +Inf when there is profit and no
// loss; 0 when there is neither.
func ProfitFactor(trades []domain.Trade) float64 {
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.Side != domain.OrderSideSell {
			continue
		}
		pnl := -t.TotalCost
		if pnl > 0 {
			grossProfit += pnl
		} else {
			grossLoss += -pnl
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

// ValueAtRisk is the historical VaR at the given confidence level: the
// negated (1−confidence) quantile of the return distribution, floored at 0.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	v := -quantile(returns, 1-confidence)
	return math.Max(0, v)
}

// ConditionalVaR is the expected shortfall: the negated mean of all returns
// at or below −VaR, floored at 0. When no return breaches the VaR
// threshold, CVaR equals VaR.
func ConditionalVaR(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	v := ValueAtRisk(returns, confidence)

	var tail []float64
	for _, r := range returns {
		if r <= -v {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return v
	}
	return math.Max(0, -mean(tail))
}

// ---------------------------------------------------------------------------
// Numeric helpers
// ---------------------------------------------------------------------------

func excessReturns(returns []float64, riskFreeRate float64) []float64 {
	perPeriod := riskFreeRate / tradingPeriodsPerYear
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - perPeriod
	}
	return out
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// sampleStdDev is the n−1 standard deviation; 0 for fewer than two samples.
func sampleStdDev(x []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	m := mean(x)
	var ss float64
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// quantile computes the q-quantile (0 ≤ q ≤ 1) with linear interpolation
// between order statistics.
func quantile(x []float64, q float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
