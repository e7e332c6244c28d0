package engine

import (
	"context"
	"fmt"

	"github.com/mlecarme/spendsort/internal/cluster"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// RecalculateOptions tunes one recompute. Zero values fall back to the
// engine configuration.
type RecalculateOptions struct {
	DistanceThreshold float64
	MinClusterSize    int
	Progress          func(done, total int)
}

// Recalculate rebuilds the proposal of a scope from scratch: parse what was
// never parsed, embed what has no vector, cluster the uncategorized set,
// run the suggestion waterfall per cluster, and replace the stored proposal
// wholesale. Serialized per scope.
func (e *Engine) Recalculate(ctx context.Context, scope service.Scope, opts RecalculateOptions) (*model.ClassificationProposal, error) {
	unlock := e.locks.lock(scope)
	defer unlock()

	threshold := opts.DistanceThreshold
	if threshold <= 0 {
		threshold = e.cfg.DistanceThreshold
	}
	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = e.cfg.MinClusterSize
	}

	if _, err := e.EnsureParsed(ctx, scope); err != nil {
		return nil, err
	}
	if _, err := e.EnsureEmbeddings(ctx, scope, opts.Progress); err != nil {
		return nil, err
	}

	embedded, err := e.storage.GetEmbeddedUncategorized(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading clustering input: %w", err)
	}
	total, err := e.storage.CountUncategorized(ctx, scope)
	if err != nil {
		return nil, err
	}

	items := make([]cluster.Item, len(embedded))
	for i := range embedded {
		items[i] = cluster.Item{
			ID:        embedded[i].ID,
			Label:     embedded[i].DisplayLabel(),
			Vector:    embedded[i].Embedding,
			AmountAbs: embedded[i].AbsAmount(),
		}
	}
	result := cluster.Run(items, cluster.Config{
		DistanceThreshold: threshold,
		MinClusterSize:    minSize,
	})

	proposal := &model.ClassificationProposal{
		UserID:             scope.UserID,
		AccountID:          scope.AccountID,
		DistanceThreshold:  threshold,
		TotalUncategorized: total,
		UnclusteredCount:   len(result.Unclustered),
	}

	clusters, err := e.buildProposalClusters(ctx, scope, embedded, result.Groups)
	if err != nil {
		return nil, err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertProposal(ctx, proposal); err != nil {
		return nil, err
	}
	if err := tx.ReplaceProposalClusters(ctx, proposal.ID, clusters); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing proposal: %w", err)
	}

	proposal.Clusters = clusters
	e.logger.InfoContext(ctx, "recalculated proposal",
		"account_id", scope.AccountID,
		"clusters", len(clusters),
		"unclustered", len(result.Unclustered),
		"total_uncategorized", total)
	return proposal, nil
}

// buildProposalClusters runs the waterfall over each group's centroid. The
// waterfall and LLM calls are I/O-bound, so they run before the storage
// transaction opens.
func (e *Engine) buildProposalClusters(ctx context.Context, scope service.Scope, embedded []model.Transaction, groups []cluster.Group) ([]model.ProposalCluster, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	neighbors, err := e.neighborSet(ctx, scope)
	if err != nil {
		return nil, err
	}
	enriched, err := e.storage.GetEnrichedCategories(ctx, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	catVectors, err := e.categoryVectors(ctx, enriched)
	if err != nil {
		return nil, err
	}

	clusters := make([]model.ProposalCluster, 0, len(groups))
	for i, group := range groups {
		ids := make([]string, len(group.Members))
		for j, idx := range group.Members {
			ids[j] = embedded[idx].ID
		}
		samples := snapshots(embedded, group.Members, e.cfg.SampleSize)

		pc := model.ProposalCluster{
			Index:               i,
			RepresentativeLabel: group.RepresentativeLabel,
			TransactionIDs:      ids,
			Transactions:        samples,
			TotalAmountAbs:      group.TotalAmountAbs,
			Status:              model.ClusterPending,
		}
		pc.Suggestion = e.suggester.SuggestForCluster(ctx, group.Centroid,
			group.RepresentativeLabel, samples, neighbors, catVectors, enriched)
		clusters = append(clusters, pc)
	}
	return clusters, nil
}
