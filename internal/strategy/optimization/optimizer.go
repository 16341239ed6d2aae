package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"vwapbot/internal/adapters/paper"
	"vwapbot/internal/analysis"
	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/series"
	"vwapbot/internal/strategy/analytics"
	"vwapbot/internal/strategy/backtesting"
	"vwapbot/internal/strategy/strategies"
)

// Parameter names understood by the optimizer. Each maps to a ledger threshold.
const (
	ParamTakeProfit         = "take_profit"
	ParamStopLoss           = "stop_loss"
	ParamTrailingActivation = "trailing_activation"
	ParamTrailingStep       = "trailing_step"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the results of one parameter combination
type OptimizationResult struct {
	Parameters map[string]float64
	Convention backtesting.Convention
	Thresholds risk.Thresholds
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Base            risk.Thresholds          // values for parameters not swept
	Conventions     []backtesting.Convention // defaults to both
	Backtest        backtesting.BacktestConfig
	Analysis        analysis.Config
	Strategies      []string
	MagicBase       int
	Model           risk.ProfitModel
	Concurrency     int // parallel replays; <= 0 means 4
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	Logger          ports.Logger
}

// Optimizer runs the replay engine over a grid of ledger thresholds.
type Optimizer struct {
	config OptimizerConfig
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) (*Optimizer, error) {
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	for _, r := range config.ParameterRanges {
		switch r.Name {
		case ParamTakeProfit, ParamStopLoss, ParamTrailingActivation, ParamTrailingStep:
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ports.ErrConfigurationError, r.Name)
		}
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("%w: invalid range for %s", ports.ErrConfigurationError, r.Name)
		}
	}
	if len(config.Conventions) == 0 {
		config.Conventions = []backtesting.Convention{backtesting.PriorBar, backtesting.SameBar}
	}
	if config.Model == nil {
		config.Model = risk.PriceDistance{}
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if _, err := strategies.Build(config.Strategies, config.MagicBase, config.Logger); err != nil {
		return nil, err
	}
	return &Optimizer{config: config}, nil
}

type job struct {
	params     map[string]float64
	thresholds risk.Thresholds
	convention backtesting.Convention
}

// Optimize replays bars once per parameter combination and convention and
// returns the results ordered by score, best first. Every replay gets its
// own series cursor, gateway and ledger.
func (o *Optimizer) Optimize(ctx context.Context, symbol, timeframe string, bars []domain.Bar) ([]OptimizationResult, error) {
	op := "Optimize"
	jobs := o.jobs(ctx)
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no valid parameter combination", op, ports.ErrConfigurationError)
	}
	analyzer := analysis.NewAnalyzer(o.config.Analysis, o.config.Logger)
	results := make([]OptimizationResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			metrics, err := o.replay(gctx, analyzer, symbol, timeframe, bars, j)
			if err != nil {
				return err
			}
			results[i] = OptimizationResult{
				Parameters: j.params,
				Convention: j.convention,
				Thresholds: j.thresholds,
				Metrics:    metrics,
				Score:      o.config.ScoreFunction(metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	sortResultsByScore(results)
	o.config.Logger.Info(ctx, op+" complete", map[string]interface{}{
		"symbol": symbol, "runs": len(results), "bestScore": results[0].Score,
	})
	return results, nil
}

func (o *Optimizer) replay(ctx context.Context, analyzer *analysis.Analyzer, symbol, timeframe string, bars []domain.Bar, j job) (*analytics.PerformanceMetrics, error) {
	s, err := series.FromBars(symbol, timeframe, bars)
	if err != nil {
		return nil, err
	}
	gateway := paper.New(1, o.config.Logger)
	ledger, err := risk.NewLedger(risk.Config{
		Thresholds: j.thresholds,
		Model:      o.config.Model,
		Closer:     gateway,
		Logger:     o.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	strats, err := strategies.Build(o.config.Strategies, o.config.MagicBase, o.config.Logger)
	if err != nil {
		return nil, err
	}
	cfg := o.config.Backtest
	cfg.Convention = j.convention
	engine, err := backtesting.NewEngine(cfg, backtesting.Deps{
		Analyzer:   analyzer,
		Strategies: strats,
		Ledger:     ledger,
		Gateway:    gateway,
		Logger:     o.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, s)
	if err != nil {
		return nil, err
	}
	return analytics.AnalyzePerformance(result.Records, result.Summary.OpenPositionsRemaining), nil
}

// jobs expands the grid and drops combinations the ledger would reject.
func (o *Optimizer) jobs(ctx context.Context) []job {
	var out []job
	for _, params := range o.generateParameterCombinations() {
		th := applyParameters(o.config.Base, params)
		if err := th.Validate(); err != nil {
			o.config.Logger.Warn(ctx, "Optimize: skipping combination", map[string]interface{}{
				"parameters": params, "error": err.Error(),
			})
			continue
		}
		for _, c := range o.config.Conventions {
			out = append(out, job{params: params, thresholds: th, convention: c})
		}
	}
	return out
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	var currentCombination map[string]float64

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		for n := 0; ; n++ {
			value := param.Min + float64(n)*param.Step
			if value > param.Max+param.Step/2 {
				break
			}
			if param.IsInt {
				value = math.Round(value)
			} else {
				value = math.Round(value*1e8) / 1e8
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	currentCombination = make(map[string]float64)
	generate(0)
	return combinations
}

func applyParameters(base risk.Thresholds, params map[string]float64) risk.Thresholds {
	th := base
	for name, v := range params {
		switch name {
		case ParamTakeProfit:
			th.TakeProfit = v
		case ParamStopLoss:
			th.StopLoss = v
		case ParamTrailingActivation:
			th.TrailingActivation = v
		case ParamTrailingStep:
			th.TrailingStep = v
		}
	}
	return th
}

// sortResultsByScore orders results by score, then total profit, best first.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Metrics.TotalProfit > results[j].Metrics.TotalProfit
	})
}

// DefaultScoreFunction ranks by success rate.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	return metrics.SuccessRate
}
