package engine

import (
	"context"
	"fmt"

	"github.com/mlecarme/spendsort/internal/cluster"
	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/llm"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// Bounds for the embedding fallback threshold. Half the proposal threshold
// splits too aggressively on tight proposals and not at all on loose ones,
// so the derived value is clamped.
const (
	minSplitThreshold = 0.08
	maxSplitThreshold = 0.5
)

// SplitOptions tunes one split request.
type SplitOptions struct {
	// UseLLM asks the language model for a semantic partition before
	// falling back to embedding distance.
	UseLLM bool

	// DistanceThreshold overrides the derived fallback threshold.
	DistanceThreshold float64
}

// SplitResult reports how a cluster was divided.
type SplitResult struct {
	Method   string // "llm" or "embedding"
	RawReply string // model reply, empty for embedding splits
	Clusters []model.ProposalCluster
}

// Split divides one pending proposal cluster into smaller ones. The
// fragments replace the original atomically and keep every member id:
// ids the model forgot to place land in the first fragment.
func (e *Engine) Split(ctx context.Context, scope service.Scope, clusterID int64, opts SplitOptions) (*SplitResult, error) {
	unlock := e.locks.lock(scope)
	defer unlock()

	pc, err := e.storage.GetProposalCluster(ctx, scope.UserID, clusterID)
	if err != nil {
		return nil, err
	}
	if len(pc.TransactionIDs) < 2 {
		return nil, fmt.Errorf("%w: cluster %d", common.ErrClusterTooSmall, clusterID)
	}

	proposal, err := e.storage.GetProposal(ctx, scope)
	if err != nil {
		return nil, err
	}

	members, err := e.storage.GetTransactionsByIDs(ctx, scope, pc.TransactionIDs)
	if err != nil {
		return nil, err
	}
	enriched, err := e.storage.GetEnrichedCategories(ctx, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}

	result := &SplitResult{}
	if opts.UseLLM {
		fragments, raw, err := e.splitWithLLM(ctx, pc, members, enriched)
		if err != nil {
			return nil, err
		}
		result.RawReply = raw
		if len(fragments) >= 2 {
			result.Method = "llm"
			result.Clusters = fragments
		}
	}

	if result.Clusters == nil {
		fragments, err := e.splitByDistance(ctx, scope, pc, proposal, members, enriched, opts.DistanceThreshold)
		if err != nil {
			return nil, err
		}
		result.Method = "embedding"
		result.Clusters = fragments
	}

	startIndex := 0
	for i := range proposal.Clusters {
		if proposal.Clusters[i].Index >= startIndex {
			startIndex = proposal.Clusters[i].Index + 1
		}
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteProposalCluster(ctx, clusterID); err != nil {
		return nil, err
	}
	if err := tx.InsertProposalClusters(ctx, pc.ProposalID, startIndex, result.Clusters); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing split: %w", err)
	}

	e.logger.InfoContext(ctx, "split proposal cluster",
		"cluster_id", clusterID,
		"method", result.Method,
		"fragments", len(result.Clusters))
	return result, nil
}

// splitWithLLM asks the model to partition the cluster by merchant and
// category coherence. Fewer than two usable groups means the model judged
// the cluster homogeneous; callers then fall back to embedding distance.
func (e *Engine) splitWithLLM(ctx context.Context, pc *model.ProposalCluster, members []model.Transaction, enriched []model.EnrichedCategory) ([]model.ProposalCluster, string, error) {
	classifier := e.suggester.Classifier()
	if classifier == nil || !classifier.Available(ctx) {
		return nil, "", nil
	}

	byID := make(map[string]*model.Transaction, len(members))
	snaps := make([]model.TransactionSnapshot, len(members))
	for i := range members {
		byID[members[i].ID] = &members[i]
		snaps[i] = members[i].Snapshot()
	}

	raw, groups, err := classifier.SuggestSplit(ctx, llm.SplitRequest{
		RepresentativeLabel: pc.RepresentativeLabel,
		Transactions:        snaps,
		Categories:          enriched,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "llm split failed", "cluster_id", pc.ID, "error", err)
		return nil, "", nil
	}
	if len(groups) < 2 {
		return nil, raw, nil
	}

	placed := make(map[string]struct{})
	for _, g := range groups {
		for _, id := range g.TransactionIDs {
			placed[id] = struct{}{}
		}
	}
	for _, id := range pc.TransactionIDs {
		if _, ok := placed[id]; !ok {
			groups[0].TransactionIDs = append(groups[0].TransactionIDs, id)
		}
	}

	fragments := make([]model.ProposalCluster, 0, len(groups))
	for _, g := range groups {
		fragment := model.ProposalCluster{
			RepresentativeLabel: g.RepresentativeLabel,
			TransactionIDs:      g.TransactionIDs,
			Status:              model.ClusterPending,
		}
		for _, id := range g.TransactionIDs {
			txn, ok := byID[id]
			if !ok {
				continue
			}
			fragment.TotalAmountAbs += txn.AbsAmount()
			if len(fragment.Transactions) < e.cfg.SampleSize {
				fragment.Transactions = append(fragment.Transactions, txn.Snapshot())
			}
		}
		if fragment.RepresentativeLabel == "" && len(fragment.Transactions) > 0 {
			fragment.RepresentativeLabel = fragment.Transactions[0].LabelRaw
		}
		if g.CategoryID != nil {
			fragment.Suggestion = &model.Suggestion{
				CategoryID:   *g.CategoryID,
				CategoryName: g.CategoryName,
				Confidence:   model.TierMedium,
				Source:       model.SourceLLMSplit,
			}
		}
		fragments = append(fragments, fragment)
	}
	return fragments, raw, nil
}

// splitByDistance reclusters the members at a tighter threshold than the
// one that formed them. MinClusterSize 1 keeps singletons as fragments so
// the partition stays exhaustive.
func (e *Engine) splitByDistance(ctx context.Context, scope service.Scope, pc *model.ProposalCluster, proposal *model.ClassificationProposal, members []model.Transaction, enriched []model.EnrichedCategory, threshold float64) ([]model.ProposalCluster, error) {
	if threshold <= 0 {
		threshold = proposal.DistanceThreshold / 2
		if threshold < minSplitThreshold {
			threshold = minSplitThreshold
		}
		if threshold > maxSplitThreshold {
			threshold = maxSplitThreshold
		}
	}

	items := make([]cluster.Item, 0, len(members))
	memberIdx := make([]int, 0, len(members)) // item index -> members index
	for i := range members {
		if len(members[i].Embedding) == 0 {
			continue
		}
		items = append(items, cluster.Item{
			ID:        members[i].ID,
			Label:     members[i].DisplayLabel(),
			Vector:    members[i].Embedding,
			AmountAbs: members[i].AbsAmount(),
		})
		memberIdx = append(memberIdx, i)
	}
	if len(items) < 2 {
		return nil, fmt.Errorf("%w: cluster %d has fewer than two embedded members", common.ErrClusterTooSmall, pc.ID)
	}

	result := cluster.Run(items, cluster.Config{
		DistanceThreshold: threshold,
		MinClusterSize:    1,
	})
	if len(result.Groups) < 2 {
		return nil, fmt.Errorf("%w: threshold %.2f produced a single group", common.ErrInvalidRequest, threshold)
	}

	neighbors, err := e.neighborSet(ctx, scope)
	if err != nil {
		return nil, err
	}
	catVectors, err := e.categoryVectors(ctx, enriched)
	if err != nil {
		return nil, err
	}

	fragments := make([]model.ProposalCluster, 0, len(result.Groups))
	for _, group := range result.Groups {
		indices := make([]int, len(group.Members))
		ids := make([]string, len(group.Members))
		for j, idx := range group.Members {
			indices[j] = memberIdx[idx]
			ids[j] = members[memberIdx[idx]].ID
		}
		samples := snapshots(members, indices, e.cfg.SampleSize)

		fragment := model.ProposalCluster{
			RepresentativeLabel: group.RepresentativeLabel,
			TransactionIDs:      ids,
			Transactions:        samples,
			TotalAmountAbs:      group.TotalAmountAbs,
			Status:              model.ClusterPending,
		}
		fragment.Suggestion = e.suggester.SuggestForCluster(ctx, group.Centroid,
			group.RepresentativeLabel, samples, neighbors, catVectors, enriched)
		fragments = append(fragments, fragment)
	}

	// Members without a vector cannot be reclustered but must not be
	// dropped from the proposal; park them in the first fragment.
	if len(items) < len(members) {
		placed := make(map[string]struct{}, len(items))
		for _, item := range items {
			placed[item.ID] = struct{}{}
		}
		for i := range members {
			if _, ok := placed[members[i].ID]; !ok {
				fragments[0].TransactionIDs = append(fragments[0].TransactionIDs, members[i].ID)
				fragments[0].TotalAmountAbs += members[i].AbsAmount()
			}
		}
	}
	return fragments, nil
}
