package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"vwapbot/config"
	"vwapbot/internal/adapters/binanceclient"
	"vwapbot/internal/adapters/csvlog"
	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/adapters/sqlite"
	"vwapbot/internal/analysis"
	"vwapbot/internal/app"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/strategies"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Trade Log
	var tradeLog ports.TradeLog
	if cfg.TradeLogPath != "" {
		tl, err := csvlog.New(cfg.TradeLogPath)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to open trade log")
			log.Fatalf("FATAL: Failed to open trade log: %v", err)
		}
		tradeLog = tl
		appLogger.Info(ctx, "Trade log initialized", map[string]interface{}{"path": tl.Path()})
	}

	// 5. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerMinute: cfg.RequestsPerMinute,
		SymbolMap:         cfg.SymbolMap,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.Ping(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Binance is unreachable")
		log.Fatalf("FATAL: Binance is unreachable: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 6. Initialize Ledger and Strategies
	ledger, err := risk.NewLedger(risk.Config{
		Thresholds: cfg.Thresholds(),
		Model:      cfg.ProfitModel(),
		Closer:     binanceClient,
		TradeLog:   tradeLog,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position ledger")
		log.Fatalf("FATAL: Failed to initialize position ledger: %v", err)
	}
	strats, err := strategies.Build(cfg.Strategies, cfg.MagicBase, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize strategies")
		log.Fatalf("FATAL: Failed to initialize strategies: %v", err)
	}
	appLogger.Info(ctx, "Strategies initialized", map[string]interface{}{"strategies": cfg.Strategies, "profitUnit": cfg.ProfitUnit})

	// 7. Initialize Application Service
	tradingService, err := app.NewTradingService(app.Config{
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Timeframe,
		BarCount:       cfg.BarCount,
		Volume:         cfg.Volume,
		OneTradePerBar: cfg.OneTradePerBar,
		LoopInterval:   cfg.LoopInterval,
	}, app.Deps{
		Source:     binanceClient,
		Gateway:    binanceClient,
		Analyzer:   analysis.NewAnalyzer(cfg.Analysis(), appLogger),
		Strategies: strats,
		Ledger:     ledger,
		Runs:       repo,
		Records:    repo,
		Positions:  repo,
		TradeLog:   tradeLog,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(ctx, "Trading service initialized")

	// 8. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
