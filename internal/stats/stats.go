// Package stats computes the statistics blob of a persistent transaction
// cluster: amount aggregates, inter-transaction gap analysis with
// recurrence detection, IQR outliers, and a linear-regression trend.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mlecarme/spendsort/internal/model"
)

// relativeSlopeBand is the per-month relative slope below which the amount
// series counts as stable.
const relativeSlopeBand = 0.05

// Compute derives the full statistics blob from cluster members. The
// input order does not matter; members are re-sorted by date. An empty
// slice yields a zeroed blob.
func Compute(transactions []model.Transaction) *model.ClusterStats {
	cs := &model.ClusterStats{Version: model.ClusterStatsVersion}
	if len(transactions) == 0 {
		return cs
	}

	sorted := make([]model.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	amounts := make([]float64, len(sorted))
	absAmounts := make([]float64, len(sorted))
	for i, t := range sorted {
		amounts[i] = t.Amount()
		absAmounts[i] = math.Abs(amounts[i])
	}

	cs.TransactionCount = len(sorted)
	cs.TotalAmount = round2(sum(amounts))
	cs.TotalAmountAbs = round2(sum(absAmounts))
	cs.AvgAmount = round2(stat.Mean(amounts, nil))
	cs.MinAmount = round2(minOf(amounts))
	cs.MaxAmount = round2(maxOf(amounts))
	if len(amounts) > 1 {
		cs.StdDevAmount = round2(stat.StdDev(amounts, nil))
	}

	cs.FirstDate = sorted[0].Date.Format("2006-01-02")
	cs.LastDate = sorted[len(sorted)-1].Date.Format("2006-01-02")

	if len(sorted) > 1 {
		gaps := make([]float64, len(sorted)-1)
		for i := 1; i < len(sorted); i++ {
			gaps[i-1] = sorted[i].Date.Sub(sorted[i-1].Date).Hours() / 24
		}
		avgGap := stat.Mean(gaps, nil)
		cs.AvgDaysBetween = round2(avgGap)
		cs.RecurrencePattern, cs.IsRecurring = detectRecurrence(gaps, avgGap)
	}

	cs.OutlierIDs = detectOutliers(sorted, absAmounts)

	if cs.AvgAmount != 0 && cs.StdDevAmount != 0 {
		cs.CoefVariation = round4(math.Abs(cs.StdDevAmount / cs.AvgAmount))
	}

	if len(sorted) >= 3 {
		cs.Trend, cs.TrendSlope = detectTrend(sorted, amounts)
	}

	return cs
}

// detectRecurrence classifies the gap series. A series is consistent when
// at least 70% of gaps fall within a tolerance of 30% of the average gap
// (never below two days), and the cadence is then read off the average.
func detectRecurrence(gaps []float64, avgGap float64) (model.RecurrencePattern, bool) {
	if len(gaps) == 0 {
		return "", false
	}

	tolerance := math.Max(2, avgGap*0.3)
	consistent := 0
	for _, g := range gaps {
		if math.Abs(g-avgGap) <= tolerance {
			consistent++
		}
	}
	if float64(consistent)/float64(len(gaps)) < 0.7 {
		return model.RecurrenceIrregular, false
	}

	switch {
	case avgGap >= 1 && avgGap <= 2:
		return model.RecurrenceDaily, true
	case avgGap >= 5 && avgGap <= 9:
		return model.RecurrenceWeekly, true
	case avgGap >= 12 && avgGap <= 18:
		return model.RecurrenceBiweekly, true
	case avgGap >= 25 && avgGap <= 35:
		return model.RecurrenceMonthly, true
	case avgGap >= 55 && avgGap <= 95:
		return model.RecurrenceQuarterly, true
	case avgGap >= 160 && avgGap <= 200:
		return model.RecurrenceBiannual, true
	case avgGap >= 330 && avgGap <= 400:
		return model.RecurrenceYearly, true
	default:
		return model.RecurrenceIrregular, true
	}
}

// detectOutliers flags members whose absolute amount falls outside
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR]. Needs at least four members; quartiles
// use the simple index method so small clusters behave predictably.
func detectOutliers(sorted []model.Transaction, absAmounts []float64) []string {
	if len(absAmounts) < 4 {
		return nil
	}

	ranked := make([]float64, len(absAmounts))
	copy(ranked, absAmounts)
	sort.Float64s(ranked)

	q1 := ranked[len(ranked)/4]
	q3 := ranked[3*len(ranked)/4]
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var outliers []string
	for i, a := range absAmounts {
		if a < lower || a > upper {
			outliers = append(outliers, sorted[i].ID)
		}
	}
	return outliers
}

// detectTrend fits amount against days-since-first and classifies the
// direction by the slope relative to the mean amount, scaled to a month.
func detectTrend(sorted []model.Transaction, amounts []float64) (model.Trend, float64) {
	x := make([]float64, len(sorted))
	base := sorted[0].Date
	for i, t := range sorted {
		x[i] = t.Date.Sub(base).Hours() / 24
	}

	// Degenerate x spread (all same day) has no defined slope.
	if minOf(x) == maxOf(x) {
		return model.TrendStable, 0
	}

	_, slope := stat.LinearRegression(x, amounts, nil, false)
	slope = round6(slope)

	meanY := stat.Mean(amounts, nil)
	relative := 0.0
	if meanY != 0 {
		relative = slope / math.Abs(meanY) * 30
	}

	switch {
	case relative > relativeSlopeBand:
		return model.TrendIncreasing, slope
	case relative < -relativeSlopeBand:
		return model.TrendDecreasing, slope
	default:
		return model.TrendStable, slope
	}
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
func round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }
