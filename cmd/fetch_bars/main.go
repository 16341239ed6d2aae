package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"vwapbot/config"
	"vwapbot/internal/adapters/binanceclient"
	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/utils"
)

var (
	symbolFlag = flag.String("symbol", "", "symbol to fetch; defaults to every configured symbol")
	interval   = flag.String("interval", "", "bar interval; defaults to TIMEFRAME")
	days       = flag.Int("days", 90, "days of history to fetch")
	outDir     = flag.String("out", "data", "output directory")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *interval == "" {
		*interval = cfg.Timeframe
	}
	symbols := cfg.Symbols
	if *symbolFlag != "" {
		symbols = []string{*symbolFlag}
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Exchange Client (Binance Adapter)
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
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Error creating output dir: %v", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	// 4. Fetch every symbol; the client's limiter paces the requests
	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		g.Go(func() error {
			fmt.Printf("Fetching bars for %s %s from %s to %s...\n", symbol, *interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
			bars, err := binanceClient.GetBarsRange(gctx, symbol, *interval, start, end)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", symbol, err)
			}
			filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", symbol, *interval, start.Format("20060102"), end.Format("20060102")))
			if err := utils.WriteBarsToCSV(bars, filename); err != nil {
				return fmt.Errorf("write %s: %w", filename, err)
			}
			appLogger.Info(gctx, "Saved to", map[string]interface{}{"symbol": symbol, "bars": len(bars), "filename": filename})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		appLogger.Error(ctx, err, "Error fetching bars")
		log.Fatalf("Error fetching bars: %v", err)
	}
}
