package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"quantsim/internal/backtest"
	"quantsim/internal/config"
	"quantsim/internal/store"
	"quantsim/internal/strategy"
	"quantsim/internal/strategy/builtins"
	"quantsim/internal/util"
)

func main() {
	var (
		storeKind    = flag.String("store", "parquet", "bar store backend: parquet or sqlite")
		strategyName = flag.String("strategy", "sma-cross", "registered strategy to run")
		symbolsFlag  = flag.String("symbols", "", "comma-separated symbols, e.g. AAPL,MSFT")
		startFlag    = flag.String("start", "", "start date (YYYY-MM-DD)")
		endFlag      = flag.String("end", "", "end date (YYYY-MM-DD)")
		outPath      = flag.String("out", "", "write the results bundle as JSON to this file")
		listOnly     = flag.Bool("list", false, "list registered strategies and exit")
	)
	flag.Parse()

	cfgPath := "config/quantsim.yaml"
	if p := os.Getenv("QUANTSIM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if os.IsNotExist(err) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	registry := strategy.NewRegistry()
	registry.Register("sma-cross", builtins.NewSMACross(20, 50))
	registry.Register("rsi-reversion", builtins.NewRSIReversion(14, 30, 70))

	if *listOnly {
		for _, name := range registry.List() {
			fmt.Println(name)
		}
		return
	}

	strat, ok := registry.Get(*strategyName)
	if !ok {
		log.Fatalf("unknown strategy %q, registered: %s", *strategyName, strings.Join(registry.List(), ", "))
	}

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		log.Fatal("no symbols given, use -symbols AAPL,MSFT")
	}
	start, end, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		log.Fatal(err)
	}

	var barStore store.BarStore
	switch *storeKind {
	case "parquet":
		barStore = store.NewParquetStore(cfg.Storage.DataDir)
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite store: %v", err)
		}
		defer st.Close()
		barStore = st
	default:
		log.Fatalf("unknown store backend %q, want parquet or sqlite", *storeKind)
	}

	engine := backtest.NewEngine(backtest.Config{
		InitialCapital: cfg.Backtest.InitialCapital,
		CommissionPct:  cfg.Backtest.CommissionPct,
		SlippagePct:    cfg.Backtest.SlippagePct,
		RiskFreeRate:   cfg.Backtest.RiskFreeRate,
	}, logger)

	ctx := context.Background()
	if err := engine.LoadBarsFromStore(ctx, barStore, symbols, start, end); err != nil {
		log.Fatalf("failed to load bars: %v", err)
	}

	result, err := engine.Run(strat)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	metrics := backtest.CalculateAllMetrics(result.EquityCurve, result.Trades, cfg.Backtest.RiskFreeRate)
	printMetrics(result, metrics)

	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outPath, err)
		}
		defer f.Close()
		if err := backtest.WriteResultsJSON(f, result); err != nil {
			log.Fatalf("failed to write results: %v", err)
		}
		logger.Info("results written", "path", *outPath)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func parseRange(startFlag, endFlag string) (start, end time.Time, err error) {
	// Default: the last year up to today.
	end = time.Now().UTC().Truncate(24 * time.Hour)
	start = end.AddDate(-1, 0, 0)

	if startFlag != "" {
		start, err = time.Parse("2006-01-02", startFlag)
		if err != nil {
			return start, end, fmt.Errorf("invalid -start date %q: %w", startFlag, err)
		}
	}
	if endFlag != "" {
		end, err = time.Parse("2006-01-02", endFlag)
		if err != nil {
			return start, end, fmt.Errorf("invalid -end date %q: %w", endFlag, err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("-end %s is before -start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return start, end, nil
}

func printMetrics(res *backtest.Result, m backtest.Metrics) {
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Final equity:        $%.2f\n", res.FinalEquity)
	fmt.Printf("Total return:        %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("CAGR:                %.2f%%\n", m.CAGR*100)
	fmt.Printf("Volatility (ann.):   %.2f%%\n", m.Volatility*100)
	fmt.Printf("Sharpe ratio:        %.2f\n", m.SharpeRatio)
	fmt.Printf("Sortino ratio:       %.2f\n", m.SortinoRatio)
	fmt.Printf("Max drawdown:        %.2f%% (%d periods)\n", m.MaxDrawdown*100, m.MaxDrawdownDuration)
	fmt.Printf("Win rate:            %.2f%%\n", m.WinRate*100)
	fmt.Printf("Profit factor:       %.2f\n", m.ProfitFactor)
	fmt.Printf("VaR 95 / CVaR 95:    %.2f%% / %.2f%%\n", m.VaR95*100, m.CVaR95*100)
	fmt.Printf("Closed trades:       %d\n", m.TotalTrades)
	fmt.Printf("Matched round trips: %d (win rate %.2f%%)\n",
		len(res.MatchedTrades), backtest.MatchedWinRate(res.MatchedTrades)*100)
}
