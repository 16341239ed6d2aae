package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"vwapbot/config"
	"vwapbot/internal/adapters/csvlog"
	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/adapters/paper"
	"vwapbot/internal/adapters/sqlite"
	"vwapbot/internal/analysis"
	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/series"
	"vwapbot/internal/strategy/analytics"
	"vwapbot/internal/strategy/backtesting"
	"vwapbot/internal/strategy/strategies"
	"vwapbot/internal/utils"
)

var (
	barsPath   = flag.String("bars", "", "bar CSV to replay (required)")
	symbol     = flag.String("symbol", "", "symbol of the bars; defaults to the first configured symbol")
	convention = flag.String("convention", "", "prior_bar or same_bar; defaults to CONVENTION")
	unit       = flag.String("unit", "price", "threshold unit: price or money")
	outPath    = flag.String("out", "", "trade record CSV; defaults to data/<symbol>_<timeframe>_<convention>_records.csv")
	tradeLog   = flag.String("tradelog", "", "trade log CSV; empty disables it")
	persist    = flag.Bool("db", true, "store the run and its records in DB_PATH")
)

func main() {
	flag.Parse()
	ctx := context.Background()

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
	conv := cfg.Convention
	if *convention != "" {
		if conv, err = backtesting.ParseConvention(*convention); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	model, err := risk.ParseProfitModel(*unit, cfg.ContractSize)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Load bars
	bars, err := utils.ReadBarsFromCSV(*barsPath)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading bars", map[string]interface{}{"path": *barsPath})
		log.Fatalf("Error loading bars: %v", err)
	}
	s, err := series.FromBars(*symbol, cfg.Timeframe, bars)
	if err != nil {
		log.Fatalf("Invalid bar series: %v", err)
	}
	appLogger.Info(ctx, "Loaded bars", map[string]interface{}{"path": *barsPath, "count": s.Len()})

	// 4. Wire the replay
	var tl ports.TradeLog
	if *tradeLog != "" {
		csvTradeLog, err := csvlog.New(*tradeLog)
		if err != nil {
			log.Fatalf("FATAL: Failed to open trade log: %v", err)
		}
		tl = csvTradeLog
	}
	gateway := paper.New(1, appLogger)
	ledger, err := risk.NewLedger(risk.Config{
		Thresholds: cfg.Thresholds(),
		Model:      model,
		Closer:     gateway,
		TradeLog:   tl,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create ledger: %v", err)
	}
	strats, err := strategies.Build(cfg.Strategies, cfg.MagicBase, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to create strategies: %v", err)
	}
	analyzer := analysis.NewAnalyzer(cfg.Analysis(), appLogger)
	engine, err := backtesting.NewEngine(backtesting.BacktestConfig{
		Volume:         cfg.Volume,
		Convention:     conv,
		OneTradePerBar: cfg.OneTradePerBar,
	}, backtesting.Deps{
		Analyzer:   analyzer,
		Strategies: strats,
		Ledger:     ledger,
		Gateway:    gateway,
		TradeLog:   tl,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create backtest engine: %v", err)
	}

	// 5. Run
	started := time.Now().UTC()
	result, err := engine.Run(ctx, s)
	if err != nil {
		appLogger.Error(ctx, err, "Backtest error")
		log.Fatalf("Backtest error: %v", err)
	}
	metrics := analytics.AnalyzePerformance(result.Records, result.Summary.OpenPositionsRemaining)
	final := analyzer.AnalyzeWindow(ctx, *symbol, domain.BarWindow(bars))
	printReport(result, metrics, final, conv, model)

	// 6. Export records
	out := *outPath
	if out == "" {
		out = filepath.Join("data", fmt.Sprintf("%s_%s_%s_records.csv", *symbol, cfg.Timeframe, conv))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		log.Fatalf("Error creating output dir: %v", err)
	}
	if err := utils.WriteTradeRecordsToCSV(result.Records, out); err != nil {
		appLogger.Error(ctx, err, "Error writing records CSV")
	} else {
		appLogger.Info(ctx, "Records saved to", map[string]interface{}{"filename": out})
	}

	// 7. Persist the run
	if *persist {
		if err := persistRun(ctx, cfg.DBPath, appLogger, &domain.Run{
			ID:         uuid.NewString(),
			Mode:       domain.ModeBacktest,
			Symbols:    *symbol,
			Timeframe:  cfg.Timeframe,
			Convention: string(conv),
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Summary:    result.Summary,
		}, result.Records); err != nil {
			appLogger.Error(ctx, err, "Error persisting run")
		}
	}
}

func persistRun(ctx context.Context, dbPath string, l ports.Logger, run *domain.Run, records []domain.TradeRecord) error {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: l})
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.CreateRun(ctx, run); err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := repo.SaveRecord(ctx, run.ID, rec); err != nil {
			return err
		}
	}
	if err := repo.FinishRun(ctx, run); err != nil {
		return err
	}
	l.Info(ctx, "Run persisted", map[string]interface{}{"runID": run.ID, "records": len(records)})
	return nil
}

func printReport(result *backtesting.BacktestResult, m *analytics.PerformanceMetrics, final domain.MarketState, conv backtesting.Convention, model risk.ProfitModel) {
	fmt.Printf("\n=== Backtest %s (%s, profit in %s) ===\n", result.Symbol, conv, model.Name())
	fmt.Printf("Bars: %d  Signals: %d  Orders: %d  Rejected: %d\n", result.Bars, result.Signals, result.Orders, result.Rejected)
	fmt.Printf("Closed: %d  Success: %d  Failure: %d  Success rate: %.2f%%  Open at end: %d\n",
		m.TotalClosed, m.SuccessCount, m.FailureCount, m.SuccessRate, m.OpenPositionsRemaining)
	fmt.Printf("Total profit: %.4f  Profit factor: %.2f  Expectancy: %.4f  Max drawdown: %.4f\n",
		m.TotalProfit, m.ProfitFactor, m.Expectancy, m.MaxDrawdown)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nREASON\tTRADES\tSUCCESS\tFAILURE\tPROFIT")
	for _, r := range m.Reasons() {
		b := m.ByReason[r]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.4f\n", r, b.Trades, b.Success, b.Failure, b.Profit)
	}
	fmt.Fprintln(w, "\nSTRATEGY\tTRADES\tSUCCESS\tFAILURE\tPROFIT")
	for _, tag := range m.Strategies() {
		b := m.ByStrategy[tag]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.4f\n", tag, b.Trades, b.Success, b.Failure, b.Profit)
	}
	_ = w.Flush()

	st := final.Structure
	fmt.Printf("\nFinal state: trend %s, bias %s, %s\n", final.Trend, final.Bias, final.Confirmation)
	fmt.Printf("VWAP %.4f  bands [%.4f %.4f %.4f %.4f]  ATR %.4f  ATR z %.2f\n",
		final.VWAP, st.Lower2, st.Lower1, st.Upper1, st.Upper2, st.ATR, st.ATRZScore)
}
