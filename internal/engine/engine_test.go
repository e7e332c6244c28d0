package engine_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/engine"
	"github.com/mlecarme/spendsort/internal/llm"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/rules"
	"github.com/mlecarme/spendsort/internal/suggest"
	"github.com/mlecarme/spendsort/internal/testutil"
)

// stubProvider maps texts onto fixed orthogonal axes by keyword, so
// clustering and similarity outcomes are exact.
type stubProvider struct{}

func vectorFor(text string) []float64 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "carrefour"), strings.Contains(lower, "courses"):
		return []float64{1, 0, 0, 0}
	case strings.Contains(lower, "amazon"):
		return []float64{0, 1, 0, 0}
	case strings.Contains(lower, "carburant"), strings.Contains(lower, "essence"):
		return []float64{0, 0, 1, 0}
	default:
		return []float64{0, 0, 0, 1}
	}
}

func (stubProvider) Dimensions() int { return 4 }

func (stubProvider) Encode(_ context.Context, text string) ([]float64, error) {
	return vectorFor(text), nil
}

func (stubProvider) EncodeBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = vectorFor(text)
	}
	return out, nil
}

// stubBackend scripts the language-model reply per prompt.
type stubBackend struct {
	generate func(prompt string) string
}

func (b *stubBackend) Name() string                        { return "stub" }
func (b *stubBackend) IsAvailable(context.Context) bool    { return b.generate != nil }
func (b *stubBackend) Generate(_ context.Context, prompt string) (string, error) {
	return b.generate(prompt), nil
}

func newTestEngine(t *testing.T, db *testutil.TestDB, backend llm.Backend) *engine.Engine {
	t.Helper()

	var classifier *llm.Classifier
	if backend != nil {
		classifier = llm.NewClassifier(llm.NewSelector(backend), nil)
	}
	suggester := suggest.NewEngine(suggest.DefaultConfig(), classifier, nil)
	ruleEngine := rules.NewEngine(db.Storage, nil)
	return engine.New(db.Storage, stubProvider{}, embedding.Config{}, suggester, ruleEngine, engine.DefaultConfig(), nil)
}

// seedMixedTransactions saves two supermarket debits, two marketplace
// debits and one unrelated debit, and returns them.
func seedMixedTransactions(db *testutil.TestDB) []model.Transaction {
	txns := []model.Transaction{
		db.Transaction("PAIEMENT CB CARREFOUR MARKET", -4521, "2026-03-02"),
		db.Transaction("PAIEMENT CB CARREFOUR CITY", -1875, "2026-03-09"),
		db.Transaction("PAIEMENT CB AMAZON PAYMENTS", -2999, "2026-03-04"),
		db.Transaction("PAIEMENT CB AMAZON MRKTPLACE", -1250, "2026-03-11"),
		db.Transaction("PRLV SEPA MUTUELLE AVENIR", -3600, "2026-03-05"),
	}
	db.SaveTransactions(txns...)
	return txns
}

func clusterContaining(t *testing.T, proposal *model.ClassificationProposal, txnID string) *model.ProposalCluster {
	t.Helper()
	for i := range proposal.Clusters {
		for _, id := range proposal.Clusters[i].TransactionIDs {
			if id == txnID {
				return &proposal.Clusters[i]
			}
		}
	}
	t.Fatalf("no cluster contains transaction %s", txnID)
	return nil
}

func TestRecalculateBuildsProposal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)

	assert.Len(t, proposal.Clusters, 2)
	assert.Equal(t, 1, proposal.UnclusteredCount)
	assert.Equal(t, 5, proposal.TotalUncategorized)
	assert.InDelta(t, 0.22, proposal.DistanceThreshold, 1e-9)

	supermarket := clusterContaining(t, proposal, txns[0].ID)
	assert.ElementsMatch(t, []string{txns[0].ID, txns[1].ID}, supermarket.TransactionIDs)
	assert.Equal(t, model.ClusterPending, supermarket.Status)
	assert.InDelta(t, 63.96, supermarket.TotalAmountAbs, 0.01)

	// The supermarket centroid lands exactly on the grocery category axis,
	// so the semantics pass clears the preference threshold on its own.
	require.NotNil(t, supermarket.Suggestion)
	assert.Equal(t, db.Categories["Courses"].ID, supermarket.Suggestion.CategoryID)
	assert.Equal(t, model.SourceCategorySemantics, supermarket.Suggestion.Source)

	// Nothing resembles the marketplace cluster, so it stays unsuggested.
	marketplace := clusterContaining(t, proposal, txns[2].ID)
	assert.Nil(t, marketplace.Suggestion)
}

func TestRecalculateReplacesProposalWholesale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	first, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)

	second, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "one proposal row per scope")
	require.Len(t, second.Clusters, len(first.Clusters))

	// The data did not change between runs, so the rebuilt clusters must
	// match the first ones member for member, suggestion for suggestion.
	for i, before := range first.Clusters {
		after := second.Clusters[i]
		assert.ElementsMatch(t, before.TransactionIDs, after.TransactionIDs)
		assert.Equal(t, before.RepresentativeLabel, after.RepresentativeLabel)
		assert.InDelta(t, before.TotalAmountAbs, after.TotalAmountAbs, 0.01)
		if before.Suggestion == nil {
			assert.Nil(t, after.Suggestion)
			continue
		}
		require.NotNil(t, after.Suggestion)
		assert.Equal(t, before.Suggestion.CategoryID, after.Suggestion.CategoryID)
		assert.Equal(t, before.Suggestion.Source, after.Suggestion.Source)
		assert.Equal(t, before.Suggestion.Confidence, after.Suggestion.Confidence)
	}

	stored, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	assert.Len(t, stored.Clusters, len(first.Clusters))
}

func TestPatchRejectsUnknownCategory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)
	target := clusterContaining(t, proposal, txns[0].ID)

	bogus := int64(99999)
	err = eng.Patch(ctx, db.Scope(), []model.ClusterPatch{{
		ClusterID:          target.ID,
		OverrideCategoryID: &bogus,
	}})
	require.ErrorIs(t, err, common.ErrInvalidCategory)

	// Rejected before any write.
	stored, err := db.Storage.GetProposalCluster(ctx, testutil.UserID, target.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.OverrideCategoryID)
}

func TestApplyCategorizesAndMintsCluster(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)
	target := clusterContaining(t, proposal, txns[0].ID)

	pattern := "CARREFOUR"
	label := "Supermarché"
	require.NoError(t, eng.Patch(ctx, db.Scope(), []model.ClusterPatch{{
		ClusterID:   target.ID,
		RulePattern: &pattern,
		CustomLabel: &label,
	}}))

	result, err := eng.Apply(ctx, db.Scope(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Categorized)
	assert.Equal(t, db.Categories["Courses"].ID, result.CategoryID)

	categorized, err := db.Storage.GetTransactionsByIDs(ctx, db.Scope(), target.TransactionIDs)
	require.NoError(t, err)
	for _, txn := range categorized {
		require.NotNil(t, txn.CategoryID)
		assert.Equal(t, db.Categories["Courses"].ID, *txn.CategoryID)
		assert.Equal(t, model.ConfidenceUser, txn.Confidence)
		assert.Equal(t, "Supermarché", txn.LabelClean)
	}

	stored, err := db.Storage.GetProposalCluster(ctx, testutil.UserID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClusterAccepted, stored.Status)

	require.NotNil(t, result.Rule)
	rule, err := db.Storage.FindRuleByPattern(ctx, testutil.UserID, "CARREFOUR")
	require.NoError(t, err)
	assert.Equal(t, model.MatchContains, rule.MatchType)
	assert.Equal(t, model.AcceptedRulePriority, rule.Priority)
	assert.Equal(t, model.OriginAcceptance, rule.CreatedBy)
	assert.Equal(t, db.Categories["Courses"].ID, rule.CategoryID)

	require.NotNil(t, result.TransactionCluster)
	durable, err := db.Storage.GetTransactionCluster(ctx, testutil.UserID, result.TransactionCluster.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClusterSourceClassification, durable.Source)
	assert.Equal(t, "Supermarché", durable.Name)
	assert.ElementsMatch(t, target.TransactionIDs, durable.TransactionIDs)
	require.NotNil(t, durable.Stats)
	assert.Equal(t, 2, durable.Stats.TransactionCount)
	assert.InDelta(t, -63.96, durable.Stats.TotalAmount, 0.01)
}

func TestApplyRequiresCategory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)
	marketplace := clusterContaining(t, proposal, txns[2].ID)
	require.Nil(t, marketplace.Suggestion)

	_, err = eng.Apply(ctx, db.Scope(), marketplace.ID)
	assert.ErrorIs(t, err, common.ErrInvalidCategory)
}

func TestApplyRespectsExclusions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{})
	require.NoError(t, err)
	target := clusterContaining(t, proposal, txns[0].ID)

	excluded := []string{txns[0].ID}
	require.NoError(t, eng.Patch(ctx, db.Scope(), []model.ClusterPatch{{
		ClusterID:   target.ID,
		ExcludedIDs: &excluded,
	}}))

	result, err := eng.Apply(ctx, db.Scope(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Categorized)

	left, err := db.Storage.GetTransactionByID(ctx, db.Scope(), txns[0].ID)
	require.NoError(t, err)
	assert.Nil(t, left.CategoryID)
}

func TestSplitByDistance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	// A deliberately loose pass lumps everything into one cluster.
	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{DistanceThreshold: 1.5})
	require.NoError(t, err)
	require.Len(t, proposal.Clusters, 1)
	original := proposal.Clusters[0]
	require.Len(t, original.TransactionIDs, 5)

	result, err := eng.Split(ctx, db.Scope(), original.ID, engine.SplitOptions{DistanceThreshold: 0.22})
	require.NoError(t, err)
	assert.Equal(t, "embedding", result.Method)
	require.GreaterOrEqual(t, len(result.Clusters), 2)

	// The fragments partition the original membership exactly.
	var fragmentIDs []string
	for _, fragment := range result.Clusters {
		fragmentIDs = append(fragmentIDs, fragment.TransactionIDs...)
	}
	assert.ElementsMatch(t, original.TransactionIDs, fragmentIDs)

	_, err = db.Storage.GetProposalCluster(ctx, testutil.UserID, original.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	stored, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	assert.Len(t, stored.Clusters, len(result.Clusters))
	supermarket := clusterContaining(t, stored, txns[0].ID)
	require.NotNil(t, supermarket.Suggestion)
	assert.Equal(t, db.Categories["Courses"].ID, supermarket.Suggestion.CategoryID)
}

func TestSplitWithLLM(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	txns := seedMixedTransactions(db)
	backend := &stubBackend{}
	eng := newTestEngine(t, db, backend)
	ctx := context.Background()

	proposal, err := eng.Recalculate(ctx, db.Scope(), engine.RecalculateOptions{DistanceThreshold: 1.5})
	require.NoError(t, err)
	require.Len(t, proposal.Clusters, 1)
	original := proposal.Clusters[0]

	// The scripted reply places four of the five ids; the orphan must land
	// in the first fragment so no transaction is lost.
	reply := map[string]any{
		"groups": []map[string]any{
			{
				"representative_label": "CARREFOUR",
				"category_id":          db.Categories["Courses"].ID,
				"category_name":        "Courses",
				"transaction_ids":      []string{txns[0].ID, txns[1].ID},
			},
			{
				"representative_label": "AMAZON",
				"category_id":          nil,
				"category_name":        "",
				"transaction_ids":      []string{txns[2].ID, txns[3].ID},
			},
		},
	}
	encoded, err := json.Marshal(reply)
	require.NoError(t, err)
	backend.generate = func(prompt string) string {
		assert.Contains(t, prompt, "id=")
		return string(encoded)
	}

	result, err := eng.Split(ctx, db.Scope(), original.ID, engine.SplitOptions{UseLLM: true})
	require.NoError(t, err)
	assert.Equal(t, "llm", result.Method)
	assert.NotEmpty(t, result.RawReply)
	require.Len(t, result.Clusters, 2)

	first := result.Clusters[0]
	assert.ElementsMatch(t, []string{txns[0].ID, txns[1].ID, txns[4].ID}, first.TransactionIDs)
	require.NotNil(t, first.Suggestion)
	assert.Equal(t, db.Categories["Courses"].ID, first.Suggestion.CategoryID)
	assert.Equal(t, model.SourceLLMSplit, first.Suggestion.Source)
	assert.Equal(t, model.TierMedium, first.Suggestion.Confidence)

	second := result.Clusters[1]
	assert.ElementsMatch(t, []string{txns[2].ID, txns[3].ID}, second.TransactionIDs)
	assert.Nil(t, second.Suggestion)

	stored, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	assert.Len(t, stored.Clusters, 2)
}

func TestSplitRejectsTinyCluster(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedBasicCategories()
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	lone := db.Transaction("PRLV SEPA ASSURANCE HABITAT", -2200, "2026-03-03")
	db.SaveTransactions(lone)

	proposal := &model.ClassificationProposal{
		UserID:            testutil.UserID,
		AccountID:         db.Account.ID,
		DistanceThreshold: 0.22,
	}
	require.NoError(t, db.Storage.UpsertProposal(ctx, proposal))
	require.NoError(t, db.Storage.InsertProposalClusters(ctx, proposal.ID, 0, []model.ProposalCluster{{
		RepresentativeLabel: "ASSURANCE HABITAT",
		TransactionIDs:      []string{lone.ID},
		Status:              model.ClusterPending,
	}}))

	stored, err := db.Storage.GetProposal(ctx, db.Scope())
	require.NoError(t, err)
	require.Len(t, stored.Clusters, 1)

	_, err = eng.Split(ctx, db.Scope(), stored.Clusters[0].ID, engine.SplitOptions{})
	assert.ErrorIs(t, err, common.ErrClusterTooSmall)
}

func TestEnsureParsedAndEmbeddings(t *testing.T) {
	db := testutil.SetupTestDB(t)
	txns := seedMixedTransactions(db)
	eng := newTestEngine(t, db, nil)
	ctx := context.Background()

	parsed, err := eng.EnsureParsed(ctx, db.Scope())
	require.NoError(t, err)
	assert.Equal(t, len(txns), parsed)

	var reported int
	embedded, err := eng.EnsureEmbeddings(ctx, db.Scope(), func(done, total int) {
		reported = done
		assert.Equal(t, len(txns), total)
	})
	require.NoError(t, err)
	assert.Equal(t, len(txns), embedded)
	assert.Equal(t, len(txns), reported)

	// Both passes are incremental: nothing left to do on the second run.
	parsed, err = eng.EnsureParsed(ctx, db.Scope())
	require.NoError(t, err)
	assert.Zero(t, parsed)

	embedded, err = eng.EnsureEmbeddings(ctx, db.Scope(), nil)
	require.NoError(t, err)
	assert.Zero(t, embedded)

	stored, err := db.Storage.GetTransactionByID(ctx, db.Scope(), txns[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Parsed)
	assert.Equal(t, []float64{1, 0, 0, 0}, stored.Embedding)
}
