// Package suggest implements the category suggestion waterfall: a weighted
// nearest-neighbor vote over already-classified transactions, then a
// semantic match against category descriptions, then an optional
// language-model delegation.
package suggest

import (
	"context"
	"log/slog"
	"sort"

	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/llm"
	"github.com/mlecarme/spendsort/internal/model"
)

// Config carries the similarity thresholds of the waterfall.
type Config struct {
	// SimilarityHigh and SimilarityMedium map the best neighbor similarity
	// to a confidence tier. SimilarityLow is the floor below which the
	// neighbor vote abstains.
	SimilarityHigh   float64
	SimilarityMedium float64
	SimilarityLow    float64

	// CategoryThreshold is the floor for the category-semantics fallback.
	CategoryThreshold float64

	// PreferCategoryThreshold short-circuits the neighbor vote when the
	// semantic match is unusually strong. Guards against spurious votes
	// on thin classified data.
	PreferCategoryThreshold float64

	// NeighborK caps the vote to the top K classified neighbors.
	NeighborK int
}

// DefaultConfig mirrors the shipped threshold defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityHigh:          0.80,
		SimilarityMedium:        0.65,
		SimilarityLow:           0.50,
		CategoryThreshold:       0.40,
		PreferCategoryThreshold: 0.75,
		NeighborK:               5,
	}
}

// Neighbor is one already-classified transaction usable as vote evidence.
type Neighbor struct {
	Vector     []float64
	CategoryID int64
}

// CategoryVector pairs a leaf category with the embedding of its semantic
// text (path plus description).
type CategoryVector struct {
	Vector   []float64
	Category model.EnrichedCategory
}

// Engine runs the waterfall. The classifier is optional; without it the
// waterfall stops after category semantics.
type Engine struct {
	cfg        Config
	classifier *llm.Classifier
	logger     *slog.Logger
}

func NewEngine(cfg Config, classifier *llm.Classifier, logger *slog.Logger) *Engine {
	if cfg.NeighborK <= 0 {
		cfg.NeighborK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, classifier: classifier, logger: logger}
}

// Classifier returns the configured language-model classifier, nil when
// the waterfall runs embedding-only.
func (e *Engine) Classifier() *llm.Classifier {
	return e.classifier
}

// Suggest runs the embedding-only part of the waterfall for one vector.
// Returns nil when neither strategy clears its floor.
func (e *Engine) Suggest(vector []float64, neighbors []Neighbor, categories []CategoryVector) *model.Suggestion {
	semantic := e.fromCategories(vector, categories)
	if semantic != nil && semantic.Similarity != nil && *semantic.Similarity >= e.cfg.PreferCategoryThreshold {
		return semantic
	}

	if s := e.fromNeighbors(vector, neighbors, categories); s != nil {
		return s
	}
	return semantic
}

// SuggestForCluster runs the full waterfall for a cluster centroid,
// including the language-model delegation when a reachable backend is
// configured. enriched is the category allow-list handed to the model.
func (e *Engine) SuggestForCluster(
	ctx context.Context,
	centroid []float64,
	representativeLabel string,
	samples []model.TransactionSnapshot,
	neighbors []Neighbor,
	categories []CategoryVector,
	enriched []model.EnrichedCategory,
) *model.Suggestion {
	if s := e.Suggest(centroid, neighbors, categories); s != nil {
		return s
	}

	if e.classifier == nil || !e.classifier.Available(ctx) {
		return nil
	}

	s, err := e.classifier.SuggestCategory(ctx, llm.CategoryRequest{
		RepresentativeLabel: representativeLabel,
		Samples:             samples,
		Categories:          enriched,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "llm suggestion failed", "label", representativeLabel, "error", err)
		return nil
	}
	return s
}

// fromNeighbors is the weighted k-NN vote. The best neighbor similarity
// gates both participation (floor) and the confidence tier.
func (e *Engine) fromNeighbors(vector []float64, neighbors []Neighbor, categories []CategoryVector) *model.Suggestion {
	if len(neighbors) == 0 {
		return nil
	}

	type scored struct {
		sim float64
		idx int
	}
	scores := make([]scored, len(neighbors))
	for i, n := range neighbors {
		scores[i] = scored{sim: embedding.CosineSimilarity(vector, n.Vector), idx: i}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })

	best := scores[0].sim
	if best < e.cfg.SimilarityLow {
		return nil
	}

	k := e.cfg.NeighborK
	if k > len(scores) {
		k = len(scores)
	}

	votes := make(map[int64]float64)
	order := make(map[int64]int)
	for rank, s := range scores[:k] {
		if s.sim < e.cfg.SimilarityLow {
			break
		}
		catID := neighbors[s.idx].CategoryID
		votes[catID] += s.sim
		if _, seen := order[catID]; !seen {
			order[catID] = rank
		}
	}

	var winner int64
	bestScore := -1.0
	for catID, score := range votes {
		if score > bestScore || (score == bestScore && order[catID] < order[winner]) {
			winner = catID
			bestScore = score
		}
	}

	tier := model.TierLow
	switch {
	case best >= e.cfg.SimilarityHigh:
		tier = model.TierHigh
	case best >= e.cfg.SimilarityMedium:
		tier = model.TierMedium
	}

	sim := best
	return &model.Suggestion{
		CategoryID:   winner,
		CategoryName: categoryName(categories, winner),
		Confidence:   tier,
		Similarity:   &sim,
		Source:       model.SourceSimilarTransactions,
	}
}

// fromCategories matches the vector against leaf category embeddings.
// Matches are capped at medium confidence: a description match is weaker
// evidence than agreeing classified transactions.
func (e *Engine) fromCategories(vector []float64, categories []CategoryVector) *model.Suggestion {
	bestIdx := -1
	bestSim := -1.0
	for i, c := range categories {
		if !c.Category.IsLeaf {
			continue
		}
		if sim := embedding.CosineSimilarity(vector, c.Vector); sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestSim < e.cfg.CategoryThreshold {
		return nil
	}

	tier := model.TierLow
	if bestSim >= e.cfg.SimilarityMedium {
		tier = model.TierMedium
	}

	sim := bestSim
	cat := categories[bestIdx].Category
	return &model.Suggestion{
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		Confidence:   tier,
		Similarity:   &sim,
		Source:       model.SourceCategorySemantics,
	}
}

func categoryName(categories []CategoryVector, id int64) string {
	for _, c := range categories {
		if c.Category.ID == id {
			return c.Category.Name
		}
	}
	return ""
}
