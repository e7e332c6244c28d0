package cli

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/engine"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/rules"
	"github.com/mlecarme/spendsort/internal/suggest"
	"github.com/mlecarme/spendsort/internal/testutil"
)

// groceryProvider pins supermarket texts and the grocery category onto the
// same axis so the suggestion outcome is fixed.
type groceryProvider struct{}

func groceryVector(text string) []float64 {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "carrefour") || strings.Contains(lower, "courses") {
		return []float64{1, 0}
	}
	return []float64{0, 1}
}

func (groceryProvider) Dimensions() int { return 2 }

func (groceryProvider) Encode(_ context.Context, text string) ([]float64, error) {
	return groceryVector(text), nil
}

func (groceryProvider) EncodeBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = groceryVector(text)
	}
	return out, nil
}

func setupReview(t *testing.T) (*testutil.TestDB, *engine.Engine, []model.Transaction) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()

	txns := []model.Transaction{
		db.Transaction("PAIEMENT CB CARREFOUR MARKET", -4521, "2026-03-02"),
		db.Transaction("PAIEMENT CB CARREFOUR CITY", -1875, "2026-03-09"),
	}
	db.SaveTransactions(txns...)

	suggester := suggest.NewEngine(suggest.DefaultConfig(), nil, nil)
	eng := engine.New(db.Storage, groceryProvider{}, embedding.Config{}, suggester,
		rules.NewEngine(db.Storage, nil), engine.DefaultConfig(), nil)

	_, err := eng.Recalculate(context.Background(), db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)
	return db, eng, txns
}

func TestReviewerAccept(t *testing.T) {
	db, eng, txns := setupReview(t)
	ctx := context.Background()

	var output bytes.Buffer
	reviewer := NewReviewer(eng, strings.NewReader("a\n"), &output, nil)
	require.NoError(t, reviewer.Run(ctx, db.Storage, db.Scope()))

	out := output.String()
	assert.Contains(t, out, "CARREFOUR")
	assert.Contains(t, out, "Categorized 2 transactions")
	assert.Contains(t, out, "Review complete: 1 accepted, 0 skipped")

	stored, err := db.Storage.GetTransactionByID(ctx, db.Scope(), txns[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CategoryID)
	assert.Equal(t, db.Categories["Courses"].ID, *stored.CategoryID)
	assert.Equal(t, model.ConfidenceUser, stored.Confidence)
}

func TestReviewerRuleThenAccept(t *testing.T) {
	db, eng, _ := setupReview(t)
	ctx := context.Background()

	var output bytes.Buffer
	input := "r\nCARREFOUR\na\n"
	reviewer := NewReviewer(eng, strings.NewReader(input), &output, nil)
	require.NoError(t, reviewer.Run(ctx, db.Storage, db.Scope()))

	assert.Contains(t, output.String(), `rule "CARREFOUR" saved`)

	rule, err := db.Storage.FindRuleByPattern(ctx, testutil.UserID, "CARREFOUR")
	require.NoError(t, err)
	assert.Equal(t, db.Categories["Courses"].ID, rule.CategoryID)
}

func TestReviewerSkip(t *testing.T) {
	db, eng, txns := setupReview(t)
	ctx := context.Background()

	var output bytes.Buffer
	reviewer := NewReviewer(eng, strings.NewReader("s\n"), &output, nil)
	require.NoError(t, reviewer.Run(ctx, db.Storage, db.Scope()))

	assert.Contains(t, output.String(), "Review complete: 0 accepted, 1 skipped")

	stored, err := db.Storage.GetTransactionByID(ctx, db.Scope(), txns[0].ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CategoryID)

	proposal, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	require.Len(t, proposal.Clusters, 1)
	assert.Equal(t, model.ClusterSkipped, proposal.Clusters[0].Status)
}

func TestReviewerQuitKeepsPending(t *testing.T) {
	db, eng, _ := setupReview(t)
	ctx := context.Background()

	var output bytes.Buffer
	reviewer := NewReviewer(eng, strings.NewReader("z\nq\n"), &output, nil)
	require.NoError(t, reviewer.Run(ctx, db.Storage, db.Scope()))

	out := output.String()
	assert.Contains(t, out, "Unknown choice")
	assert.Contains(t, out, "Review paused")

	proposal, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	assert.Equal(t, model.ClusterPending, proposal.Clusters[0].Status)
}

func TestReviewerOverrideCategory(t *testing.T) {
	db, eng, txns := setupReview(t)
	ctx := context.Background()

	restaurants := db.Categories["Restaurants"]
	var output bytes.Buffer
	input := "c\n" + strconv.FormatInt(restaurants.ID, 10) + "\na\n"
	reviewer := NewReviewer(eng, strings.NewReader(input), &output, nil)
	require.NoError(t, reviewer.Run(ctx, db.Storage, db.Scope()))

	stored, err := db.Storage.GetTransactionByID(ctx, db.Scope(), txns[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CategoryID)
	assert.Equal(t, restaurants.ID, *stored.CategoryID)
}
