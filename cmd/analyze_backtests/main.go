package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/adapters/sqlite"
	"vwapbot/internal/domain"
	"vwapbot/internal/strategy/analytics"
	"vwapbot/internal/utils"
)

var (
	dir    = flag.String("dir", "data", "directory holding *_records.csv files")
	runID  = flag.String("run", "", "analyze a stored run instead of CSV files")
	dbPath = flag.String("db", "./data/vwapbot.db", "database used with -run")
)

// source is one named set of trade records.
type source struct {
	name    string
	records []domain.TradeRecord
	open    int
}

func main() {
	flag.Parse()

	var sources []source
	if *runID != "" {
		src, err := loadRun(context.Background(), *dbPath, *runID)
		if err != nil {
			log.Fatalf("Error loading run %s: %v", *runID, err)
		}
		sources = append(sources, src)
	} else {
		files, err := findRecordFiles(*dir)
		if err != nil {
			log.Fatalf("Error finding record files: %v", err)
		}
		if len(files) == 0 {
			log.Println("No record files found. Run the backtest runner first.")
			return
		}
		for _, file := range files {
			records, err := utils.ReadTradeRecordsFromCSV(file)
			if err != nil {
				log.Printf("Error reading records from %s: %v", file, err)
				continue
			}
			sources = append(sources, source{name: filepath.Base(file), records: records})
		}
	}

	// Create a tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Source\tClosed\tSuccess%\tOpen\tAvgWin\tAvgLoss\tTotal\tPF\tMaxDD\t")
	metrics := make([]*analytics.PerformanceMetrics, len(sources))
	for i, src := range sources {
		m := analytics.AnalyzePerformance(src.records, src.open)
		metrics[i] = m
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%d\t%.4f\t%.4f\t%.4f\t%.2f\t%.4f\t\n",
			src.name, m.TotalClosed, m.SuccessRate, m.OpenPositionsRemaining,
			m.AverageWin, m.AverageLoss, m.TotalProfit, m.ProfitFactor, m.MaxDrawdown)
	}
	w.Flush()

	// Print additional analysis
	fmt.Println("\n## Close Reason Analysis")
	for i, src := range sources {
		printBreakdown(src.name, metrics[i])
	}
}

func loadRun(ctx context.Context, path, id string) (source, error) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: path, Logger: logger.NewNop()})
	if err != nil {
		return source{}, err
	}
	defer repo.Close()

	run, err := repo.FindRun(ctx, id)
	if err != nil {
		return source{}, err
	}
	if run == nil {
		return source{}, fmt.Errorf("run %s not found", id)
	}
	records, err := repo.FindByRun(ctx, id)
	if err != nil {
		return source{}, err
	}
	name := fmt.Sprintf("%s %s %s %s", run.Mode, run.Symbols, run.Timeframe, run.Convention)
	return source{name: name, records: records, open: run.Summary.OpenPositionsRemaining}, nil
}

// findRecordFiles finds all trade record files in the specified directory
func findRecordFiles(dir string) ([]string, error) {
	var files []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), "_records.csv") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func printBreakdown(name string, m *analytics.PerformanceMetrics) {
	fmt.Printf("\nSource: %s\n", name)
	fmt.Println("Close Reason\tCount\tTotal\tAvg")
	for _, reason := range m.Reasons() {
		b := m.ByReason[reason]
		fmt.Printf("%s\t%d\t%.4f\t%.4f\n", reason, b.Trades, b.Profit, b.AverageProfit())
	}
	fmt.Println("Strategy\tCount\tSuccess\tFailure\tTotal")
	for _, tag := range m.Strategies() {
		b := m.ByStrategy[tag]
		fmt.Printf("%s\t%d\t%d\t%d\t%.4f\n", tag, b.Trades, b.Success, b.Failure, b.Profit)
	}
	for _, mr := range m.GetMonthlyReturns() {
		fmt.Printf("%s: %.4f\n", mr.Month.Format("2006-01"), mr.Return)
	}
}
