package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"vwapbot/config"
	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/backtesting"
	"vwapbot/internal/strategy/optimization"
	"vwapbot/internal/utils"
)

var (
	barsPath    = flag.String("bars", "", "bar CSV to replay (required)")
	symbol      = flag.String("symbol", "", "symbol of the bars; defaults to the first configured symbol")
	unit        = flag.String("unit", "price", "threshold unit: price or money")
	tpMin       = flag.Float64("tp-min", 0.5, "take profit range start")
	tpMax       = flag.Float64("tp-max", 3, "take profit range end")
	tpStep      = flag.Float64("tp-step", 0.5, "take profit step")
	slMin       = flag.Float64("sl-min", -10, "stop loss range start")
	slMax       = flag.Float64("sl-max", -2, "stop loss range end")
	slStep      = flag.Float64("sl-step", 2, "stop loss step")
	concurrency = flag.Int("concurrency", 4, "parallel replays")
	top         = flag.Int("top", 10, "results to print")
)

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *barsPath == "" {
		log.Fatalf("FATAL: -bars is required")
	}
	if *symbol == "" {
		*symbol = cfg.Symbols[0]
	}
	model, err := risk.ParseProfitModel(*unit, cfg.ContractSize)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger; replays are chatty, so only warnings and up
	appLogger, err := logger.New(logger.LevelWarn, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	bars, err := utils.ReadBarsFromCSV(*barsPath)
	if err != nil {
		log.Fatalf("Error loading bars: %v", err)
	}

	// 3. Build and run the sweep
	opt, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: []optimization.ParameterRange{
			{Name: optimization.ParamTakeProfit, Min: *tpMin, Max: *tpMax, Step: *tpStep},
			{Name: optimization.ParamStopLoss, Min: *slMin, Max: *slMax, Step: *slStep},
		},
		Base: cfg.Thresholds(),
		Backtest: backtesting.BacktestConfig{
			Volume:         cfg.Volume,
			OneTradePerBar: cfg.OneTradePerBar,
		},
		Analysis:    cfg.Analysis(),
		Strategies:  cfg.Strategies,
		MagicBase:   cfg.MagicBase,
		Model:       model,
		Concurrency: *concurrency,
		Logger:      appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create optimizer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	results, err := opt.Optimize(ctx, *symbol, cfg.Timeframe, bars)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	// 4. Report
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCONVENTION\tTP\tSL\tCLOSED\tSUCCESS%\tOPEN\tPROFIT\tMAXDD")
	for i, r := range results {
		if i >= *top {
			break
		}
		m := r.Metrics
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%d\t%.2f\t%d\t%.4f\t%.4f\n",
			i+1, r.Convention, r.Thresholds.TakeProfit, r.Thresholds.StopLoss,
			m.TotalClosed, m.SuccessRate, m.OpenPositionsRemaining, m.TotalProfit, m.MaxDrawdown)
	}
	_ = w.Flush()
}
