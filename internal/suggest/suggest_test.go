package suggest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/llm"
	"github.com/mlecarme/spendsort/internal/model"
)

// Unit vectors in a 3-dimensional space keep the cosine arithmetic obvious:
// identical axes give similarity 1, orthogonal axes give 0.
var (
	axisX = []float64{1, 0, 0}
	axisY = []float64{0, 1, 0}
	axisZ = []float64{0, 0, 1}
)

// tilted returns a unit vector at a known cosine similarity to axisX.
func tilted(cos float64) []float64 {
	sin := 1 - cos*cos
	if sin < 0 {
		sin = 0
	}
	return []float64{cos, sqrt(sin), 0}
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func leafVector(id int64, name string, vec []float64) CategoryVector {
	return CategoryVector{
		Vector:   vec,
		Category: model.EnrichedCategory{ID: id, Name: name, IsLeaf: true},
	}
}

func TestNeighborVote(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)
	cats := []CategoryVector{
		leafVector(1, "Courses", axisZ),
		leafVector(2, "Transport", axisZ),
	}

	t.Run("high tier on near-identical neighbor", func(t *testing.T) {
		neighbors := []Neighbor{
			{Vector: tilted(0.95), CategoryID: 1},
			{Vector: tilted(0.90), CategoryID: 1},
		}
		s := e.Suggest(axisX, neighbors, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(1), s.CategoryID)
		assert.Equal(t, "Courses", s.CategoryName)
		assert.Equal(t, model.TierHigh, s.Confidence)
		assert.Equal(t, model.SourceSimilarTransactions, s.Source)
		require.NotNil(t, s.Similarity)
		assert.InDelta(t, 0.95, *s.Similarity, 1e-9)
	})

	t.Run("medium tier between thresholds", func(t *testing.T) {
		neighbors := []Neighbor{{Vector: tilted(0.70), CategoryID: 2}}
		s := e.Suggest(axisX, neighbors, cats)
		require.NotNil(t, s)
		assert.Equal(t, model.TierMedium, s.Confidence)
	})

	t.Run("abstains below floor", func(t *testing.T) {
		neighbors := []Neighbor{{Vector: tilted(0.30), CategoryID: 1}}
		s := e.Suggest(axisX, neighbors, nil)
		assert.Nil(t, s)
	})

	t.Run("weighted vote beats single best neighbor", func(t *testing.T) {
		// One very close neighbor for category 2 versus two moderately
		// close neighbors for category 1 whose summed similarity wins.
		neighbors := []Neighbor{
			{Vector: tilted(0.90), CategoryID: 2},
			{Vector: tilted(0.85), CategoryID: 1},
			{Vector: tilted(0.84), CategoryID: 1},
		}
		s := e.Suggest(axisX, neighbors, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(1), s.CategoryID)
		// Tier still comes from the best similarity overall.
		assert.Equal(t, model.TierHigh, s.Confidence)
	})

	t.Run("vote caps at top k", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NeighborK = 2
		small := NewEngine(cfg, nil, nil)
		// Beyond-k neighbors for category 1 must not flip the result.
		neighbors := []Neighbor{
			{Vector: tilted(0.92), CategoryID: 2},
			{Vector: tilted(0.91), CategoryID: 2},
			{Vector: tilted(0.89), CategoryID: 1},
			{Vector: tilted(0.88), CategoryID: 1},
			{Vector: tilted(0.87), CategoryID: 1},
		}
		s := small.Suggest(axisX, neighbors, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(2), s.CategoryID)
	})

	t.Run("below-floor neighbors do not vote", func(t *testing.T) {
		neighbors := []Neighbor{
			{Vector: tilted(0.66), CategoryID: 2},
			{Vector: tilted(0.45), CategoryID: 1},
			{Vector: tilted(0.44), CategoryID: 1},
		}
		s := e.Suggest(axisX, neighbors, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(2), s.CategoryID)
	})
}

func TestCategorySemanticsFallback(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	t.Run("fallback when no neighbors", func(t *testing.T) {
		cats := []CategoryVector{
			leafVector(1, "Courses", tilted(0.70)),
			leafVector(2, "Transport", axisY),
		}
		s := e.Suggest(axisX, nil, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(1), s.CategoryID)
		assert.Equal(t, model.SourceCategorySemantics, s.Source)
		// Semantic matches never reach high.
		assert.Equal(t, model.TierMedium, s.Confidence)
	})

	t.Run("low tier under medium threshold", func(t *testing.T) {
		cats := []CategoryVector{leafVector(1, "Courses", tilted(0.55))}
		s := e.Suggest(axisX, nil, cats)
		require.NotNil(t, s)
		assert.Equal(t, model.TierLow, s.Confidence)
	})

	t.Run("abstains below category threshold", func(t *testing.T) {
		cats := []CategoryVector{leafVector(1, "Courses", tilted(0.30))}
		assert.Nil(t, e.Suggest(axisX, nil, cats))
	})

	t.Run("non-leaf categories ignored", func(t *testing.T) {
		cats := []CategoryVector{
			{Vector: axisX, Category: model.EnrichedCategory{ID: 1, Name: "Alimentation", IsLeaf: false}},
			leafVector(2, "Courses", tilted(0.60)),
		}
		s := e.Suggest(axisX, nil, cats)
		require.NotNil(t, s)
		assert.Equal(t, int64(2), s.CategoryID)
	})
}

func TestPreferCategoryShortCircuit(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)
	// A neighbor would vote for category 2, but the semantic match for
	// category 1 is above the prefer threshold and wins outright.
	neighbors := []Neighbor{{Vector: tilted(0.70), CategoryID: 2}}
	cats := []CategoryVector{
		leafVector(1, "Courses", tilted(0.90)),
		leafVector(2, "Transport", axisY),
	}
	s := e.Suggest(axisX, neighbors, cats)
	require.NotNil(t, s)
	assert.Equal(t, int64(1), s.CategoryID)
	assert.Equal(t, model.SourceCategorySemantics, s.Source)
}

func TestSuggestForClusterLLMDelegation(t *testing.T) {
	enriched := []model.EnrichedCategory{
		{ID: 7, Name: "Transport", IsLeaf: true},
	}
	samples := []model.TransactionSnapshot{
		{ID: "t1", LabelRaw: "SNCF INTERNET", Amount: -45, Date: "2026-03-01"},
	}

	t.Run("delegates when embedding strategies abstain", func(t *testing.T) {
		backend := &scriptedBackend{
			available: true,
			reply:     `{"category_id": 7, "category_name": "Transport", "confidence": "medium", "explanation": "train"}`,
		}
		classifier := llm.NewClassifier(llm.NewSelector(backend), nil)
		e := NewEngine(DefaultConfig(), classifier, nil)

		s := e.SuggestForCluster(context.Background(), axisX, "SNCF INTERNET", samples, nil, nil, enriched)
		require.NotNil(t, s)
		assert.Equal(t, int64(7), s.CategoryID)
		assert.Equal(t, model.SourceLLM, s.Source)
		assert.Nil(t, s.Similarity)
	})

	t.Run("no delegation when backend unavailable", func(t *testing.T) {
		backend := &scriptedBackend{available: false}
		classifier := llm.NewClassifier(llm.NewSelector(backend), nil)
		e := NewEngine(DefaultConfig(), classifier, nil)

		assert.Nil(t, e.SuggestForCluster(context.Background(), axisX, "X", samples, nil, nil, enriched))
	})

	t.Run("embedding result wins over llm", func(t *testing.T) {
		backend := &scriptedBackend{available: true, reply: `{"category_id": 7}`}
		classifier := llm.NewClassifier(llm.NewSelector(backend), nil)
		e := NewEngine(DefaultConfig(), classifier, nil)

		cats := []CategoryVector{leafVector(1, "Courses", tilted(0.70))}
		s := e.SuggestForCluster(context.Background(), axisX, "X", samples, nil, cats, enriched)
		require.NotNil(t, s)
		assert.Equal(t, model.SourceCategorySemantics, s.Source)
		assert.Empty(t, backend.prompts)
	})
}

type scriptedBackend struct {
	available bool
	reply     string
	prompts   []string
}

func (b *scriptedBackend) Name() string                     { return "scripted" }
func (b *scriptedBackend) IsAvailable(context.Context) bool { return b.available }
func (b *scriptedBackend) Generate(_ context.Context, p string) (string, error) {
	b.prompts = append(b.prompts, p)
	return b.reply, nil
}
