package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vwapbot/internal/domain"
)

// PerformanceMetrics holds performance metrics over closed trade records.
// Profit figures are in the unit of the ledger that produced the records.
type PerformanceMetrics struct {
	domain.Summary

	TotalProfit  float64
	GrossProfit  float64
	GrossLoss    float64 // negative or zero
	AverageWin   float64
	AverageLoss  float64
	ProfitFactor float64 // 0 when nothing was lost
	Expectancy   float64
	MaxDrawdown  float64 // largest fall of cumulative profit from its peak

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration

	ByReason       map[domain.CloseReason]Breakdown
	ByStrategy     map[string]Breakdown
	MonthlyReturns map[string]float64
	EquityCurve    []EquityPoint
}

// Breakdown aggregates the records sharing one key.
type Breakdown struct {
	Trades  int
	Success int
	Failure int
	Profit  float64
}

// AverageProfit returns Profit / Trades, or 0.
func (b Breakdown) AverageProfit() float64 {
	if b.Trades == 0 {
		return 0
	}
	return b.Profit / float64(b.Trades)
}

// EquityPoint represents a point on the cumulative profit curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates metrics from records. open is the number of
// positions still open and is carried into the summary. The input slice is
// not modified.
func AnalyzePerformance(records []domain.TradeRecord, open int) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		Summary:        domain.NewSummary(records, open),
		ByReason:       make(map[domain.CloseReason]Breakdown),
		ByStrategy:     make(map[string]Breakdown),
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0, len(records)),
	}
	if len(records) == 0 {
		return metrics
	}

	sorted := make([]domain.TradeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})

	var (
		equity, peak, gross, loss decimal.Decimal
		wins, losses              int
		consecutiveWins           int
		consecutiveLosses         int
		totalDuration             time.Duration
	)

	for _, rec := range sorted {
		profit := decimal.NewFromFloat(rec.Profit)
		success := rec.Outcome == domain.OutcomeSuccess

		if success {
			wins++
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			losses++
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}
		if profit.IsPositive() {
			gross = gross.Add(profit)
		} else {
			loss = loss.Add(profit)
		}

		metrics.ByReason[rec.Reason] = accumulate(metrics.ByReason[rec.Reason], rec)
		metrics.ByStrategy[rec.StrategyTag] = accumulate(metrics.ByStrategy[rec.StrategyTag], rec)
		metrics.MonthlyReturns[rec.CloseTime.Format("2006-01")] += rec.Profit

		equity = equity.Add(profit)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := peak.Sub(equity)
		if dd := drawdown.InexactFloat64(); dd > metrics.MaxDrawdown {
			metrics.MaxDrawdown = dd
		}
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     rec.CloseTime,
			Value:    equity.InexactFloat64(),
			Drawdown: drawdown.InexactFloat64(),
		})

		if !rec.EntryTime.IsZero() && rec.CloseTime.After(rec.EntryTime) {
			totalDuration += rec.CloseTime.Sub(rec.EntryTime)
		}
	}

	metrics.TotalProfit = equity.InexactFloat64()
	metrics.GrossProfit = gross.InexactFloat64()
	metrics.GrossLoss = loss.InexactFloat64()
	if wins > 0 {
		metrics.AverageWin = sumProfit(sorted, domain.OutcomeSuccess) / float64(wins)
	}
	if losses > 0 {
		metrics.AverageLoss = sumProfit(sorted, domain.OutcomeFailure) / float64(losses)
	}
	if !loss.IsZero() {
		metrics.ProfitFactor = gross.Div(loss.Neg()).InexactFloat64()
	}
	metrics.Expectancy = equity.Div(decimal.NewFromInt(int64(len(sorted)))).InexactFloat64()
	metrics.AverageTradeDuration = totalDuration / time.Duration(len(sorted))

	return metrics
}

func accumulate(b Breakdown, rec domain.TradeRecord) Breakdown {
	b.Trades++
	if rec.Outcome == domain.OutcomeSuccess {
		b.Success++
	} else {
		b.Failure++
	}
	b.Profit = decimal.NewFromFloat(b.Profit).Add(decimal.NewFromFloat(rec.Profit)).InexactFloat64()
	return b
}

func sumProfit(records []domain.TradeRecord, outcome domain.Outcome) float64 {
	sum := decimal.Zero
	for _, r := range records {
		if r.Outcome == outcome {
			sum = sum.Add(decimal.NewFromFloat(r.Profit))
		}
	}
	return sum.InexactFloat64()
}

// Reasons returns the close reasons present, sorted by name.
func (m *PerformanceMetrics) Reasons() []domain.CloseReason {
	out := make([]domain.CloseReason, 0, len(m.ByReason))
	for r := range m.ByReason {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strategies returns the strategy tags present, sorted.
func (m *PerformanceMetrics) Strategies() []string {
	out := make([]string, 0, len(m.ByStrategy))
	for s := range m.ByStrategy {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
