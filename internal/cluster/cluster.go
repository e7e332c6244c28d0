// Package cluster groups embedded transactions with distance-threshold
// agglomerative clustering over a cosine-distance matrix.
package cluster

import (
	"sort"

	"github.com/mlecarme/spendsort/internal/embedding"
)

// Item is one embedded transaction to cluster.
type Item struct {
	ID        string
	Label     string // display label used for representative election
	Vector    []float64
	AmountAbs float64
}

// Config controls a clustering run.
type Config struct {
	// DistanceThreshold stops merging once the closest pair of groups is
	// farther apart than this. Lower values give stricter, smaller groups.
	DistanceThreshold float64
	// MinClusterSize relabels smaller groups as unclustered noise.
	MinClusterSize int
}

// Group is one resulting cluster.
type Group struct {
	RepresentativeLabel string
	Centroid            []float64
	Members             []int // indices into the input items, input order
	TotalAmountAbs      float64
}

// Result holds the outcome of a clustering run.
type Result struct {
	Groups      []Group
	Unclustered []int // item indices relabeled as noise
}

// node is one active group during the agglomerative merge loop.
type node struct {
	leaves  []int
	minLeaf int
}

// Run clusters the items. The algorithm is deterministic: ties in merge
// distance break on the lowest member indices, so identical input always
// yields identical grouping. Groups are sorted by total absolute amount
// descending, then size descending.
func Run(items []Item, cfg Config) Result {
	if len(items) == 0 {
		return Result{}
	}
	minSize := cfg.MinClusterSize
	if minSize < 1 {
		minSize = 1
	}

	dist := distanceMatrix(items)
	nodes := merge(dist, cfg.DistanceThreshold)

	var result Result
	for _, n := range nodes {
		if len(n.leaves) < minSize {
			result.Unclustered = append(result.Unclustered, n.leaves...)
			continue
		}
		result.Groups = append(result.Groups, buildGroup(items, n.leaves))
	}
	sort.Ints(result.Unclustered)

	sort.SliceStable(result.Groups, func(i, j int) bool {
		a, b := result.Groups[i], result.Groups[j]
		if a.TotalAmountAbs != b.TotalAmountAbs {
			return a.TotalAmountAbs > b.TotalAmountAbs
		}
		if len(a.Members) != len(b.Members) {
			return len(a.Members) > len(b.Members)
		}
		return a.Members[0] < b.Members[0]
	})

	return result
}

// distanceMatrix builds the pairwise cosine-distance matrix: distance is
// 1 - cosine similarity clamped to [0, 2], with a zero diagonal.
func distanceMatrix(items []Item) [][]float64 {
	n := len(items)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := embedding.CosineDistance(items[i].Vector, items[j].Vector)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// merge runs bottom-up average-linkage merging until the closest pair of
// groups is farther apart than the threshold. Average linkage is monotone,
// so merge distances never decrease along the sequence; a lower threshold
// therefore always yields a refinement of a higher one.
func merge(dist [][]float64, threshold float64) []*node {
	nodes := make([]*node, 0, len(dist))
	for i := range dist {
		nodes = append(nodes, &node{leaves: []int{i}, minLeaf: i})
	}

	for len(nodes) > 1 {
		bestI, bestJ := 0, 1
		bestD := averageDistance(dist, nodes[0], nodes[1])

		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				d := averageDistance(dist, nodes[i], nodes[j])
				if d < bestD || (d == bestD && pairLess(nodes[i], nodes[j], nodes[bestI], nodes[bestJ])) {
					bestD = d
					bestI = i
					bestJ = j
				}
			}
		}

		if bestD > threshold {
			break
		}

		a, b := nodes[bestI], nodes[bestJ]
		mergedLeaves := make([]int, 0, len(a.leaves)+len(b.leaves))
		mergedLeaves = append(mergedLeaves, a.leaves...)
		mergedLeaves = append(mergedLeaves, b.leaves...)
		minLeaf := a.minLeaf
		if b.minLeaf < minLeaf {
			minLeaf = b.minLeaf
		}
		merged := &node{leaves: mergedLeaves, minLeaf: minLeaf}

		next := make([]*node, 0, len(nodes)-1)
		for k := range nodes {
			if k == bestI || k == bestJ {
				continue
			}
			next = append(next, nodes[k])
		}
		nodes = append(next, merged)
	}

	return nodes
}

func averageDistance(dist [][]float64, a, b *node) float64 {
	sum := 0.0
	for _, i := range a.leaves {
		for _, j := range b.leaves {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a.leaves)*len(b.leaves))
}

// pairLess orders candidate merge pairs by their lowest member indices so
// equal-distance ties resolve the same way on every run.
func pairLess(a1, b1, a2, b2 *node) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func buildGroup(items []Item, leaves []int) Group {
	sort.Ints(leaves)

	vecs := make([][]float64, 0, len(leaves))
	total := 0.0
	for _, idx := range leaves {
		vecs = append(vecs, items[idx].Vector)
		total += items[idx].AmountAbs
	}

	return Group{
		Members:             leaves,
		Centroid:            embedding.Centroid(vecs),
		TotalAmountAbs:      total,
		RepresentativeLabel: representativeLabel(items, leaves),
	}
}

// representativeLabel elects the most frequent display label in the group;
// equal counts resolve to the label seen first in input order.
func representativeLabel(items []Item, leaves []int) string {
	counts := make(map[string]int, len(leaves))
	firstSeen := make(map[string]int, len(leaves))
	for _, idx := range leaves {
		label := items[idx].Label
		counts[label]++
		if _, ok := firstSeen[label]; !ok {
			firstSeen[label] = idx
		}
	}

	best := ""
	for _, idx := range leaves {
		label := items[idx].Label
		if best == "" {
			best = label
			continue
		}
		if counts[label] > counts[best] ||
			(counts[label] == counts[best] && firstSeen[label] < firstSeen[best]) {
			best = label
		}
	}
	return best
}
