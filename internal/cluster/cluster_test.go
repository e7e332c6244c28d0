package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit returns a unit vector at the given angle in the plane.
func unit(angle float64) []float64 {
	return []float64{math.Cos(angle), math.Sin(angle)}
}

func testItems() []Item {
	// Two tight groups far apart, plus one outlier.
	return []Item{
		{ID: "a1", Label: "AMAZON", Vector: unit(0.00), AmountAbs: 10},
		{ID: "a2", Label: "AMAZON", Vector: unit(0.02), AmountAbs: 20},
		{ID: "a3", Label: "AMAZON EU", Vector: unit(0.04), AmountAbs: 30},
		{ID: "s1", Label: "SNCF", Vector: unit(1.50), AmountAbs: 100},
		{ID: "s2", Label: "SNCF", Vector: unit(1.52), AmountAbs: 50},
		{ID: "x1", Label: "MYSTERY", Vector: unit(3.00), AmountAbs: 5},
	}
}

func TestRunGroupsSimilarItems(t *testing.T) {
	result := Run(testItems(), Config{DistanceThreshold: 0.3, MinClusterSize: 2})

	require.Len(t, result.Groups, 2)
	assert.Equal(t, []int{0, 1, 2}, result.Groups[0].Members)
	assert.Equal(t, []int{3, 4}, result.Groups[1].Members)
	assert.Equal(t, []int{5}, result.Unclustered)

	// Sorted by total absolute amount descending: SNCF (150) before AMAZON (60).
	assert.Equal(t, "SNCF", result.Groups[0].RepresentativeLabel)
	assert.InDelta(t, 150, result.Groups[0].TotalAmountAbs, 1e-9)
	assert.Equal(t, "AMAZON", result.Groups[1].RepresentativeLabel)
}

func TestRunDeterministic(t *testing.T) {
	cfg := Config{DistanceThreshold: 0.3, MinClusterSize: 2}
	first := Run(testItems(), cfg)
	second := Run(testItems(), cfg)
	assert.Equal(t, first, second)
}

func TestRunThresholdMonotonicity(t *testing.T) {
	items := testItems()
	thresholds := []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.5}

	var prevMax int
	for i, threshold := range thresholds {
		result := Run(items, Config{DistanceThreshold: threshold, MinClusterSize: 1})

		maxSize := 0
		for _, g := range result.Groups {
			if len(g.Members) > maxSize {
				maxSize = len(g.Members)
			}
		}
		if i > 0 {
			assert.GreaterOrEqual(t, maxSize, prevMax,
				"raising threshold to %v shrank the largest cluster", threshold)
		}
		prevMax = maxSize
	}
}

func TestRunPartitionsInput(t *testing.T) {
	items := testItems()
	result := Run(items, Config{DistanceThreshold: 0.3, MinClusterSize: 2})

	seen := make(map[int]int)
	for _, g := range result.Groups {
		for _, idx := range g.Members {
			seen[idx]++
		}
	}
	for _, idx := range result.Unclustered {
		seen[idx]++
	}

	require.Len(t, seen, len(items))
	for idx, count := range seen {
		assert.Equal(t, 1, count, "item %d assigned %d times", idx, count)
	}
}

func TestRunSingletonsAllowed(t *testing.T) {
	// Min size 1 is the split configuration: no noise bucket.
	result := Run(testItems(), Config{DistanceThreshold: 0.3, MinClusterSize: 1})
	assert.Empty(t, result.Unclustered)
}

func TestRunTieBreaksBySize(t *testing.T) {
	items := []Item{
		{ID: "a", Label: "A", Vector: unit(0), AmountAbs: 30},
		{ID: "b", Label: "B", Vector: unit(1.5), AmountAbs: 10},
		{ID: "c", Label: "B", Vector: unit(1.52), AmountAbs: 10},
		{ID: "d", Label: "B", Vector: unit(1.54), AmountAbs: 10},
	}
	result := Run(items, Config{DistanceThreshold: 0.2, MinClusterSize: 1})

	// Equal totals (30): the larger group surfaces first.
	require.Len(t, result.Groups, 2)
	assert.Equal(t, []int{1, 2, 3}, result.Groups[0].Members)
	assert.Equal(t, []int{0}, result.Groups[1].Members)
}

func TestRunEmptyInput(t *testing.T) {
	result := Run(nil, Config{DistanceThreshold: 0.3, MinClusterSize: 2})
	assert.Empty(t, result.Groups)
	assert.Empty(t, result.Unclustered)
}

func TestRepresentativeLabelMostFrequent(t *testing.T) {
	items := []Item{
		{Label: "NETFLIX.COM"},
		{Label: "NETFLIX"},
		{Label: "NETFLIX"},
	}
	assert.Equal(t, "NETFLIX", representativeLabel(items, []int{0, 1, 2}))

	// Tie resolves to the label seen first.
	items = []Item{{Label: "B"}, {Label: "A"}}
	assert.Equal(t, "B", representativeLabel(items, []int{0, 1}))
}
