package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
	"github.com/mlecarme/spendsort/internal/stats"
)

// Patch applies partial user edits to proposal clusters. An override
// category is validated before any write.
func (e *Engine) Patch(ctx context.Context, scope service.Scope, patches []model.ClusterPatch) error {
	for _, patch := range patches {
		if patch.OverrideCategoryID != nil {
			if _, err := e.storage.GetCategoryByID(ctx, scope.UserID, *patch.OverrideCategoryID); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("%w: override category %d", common.ErrInvalidCategory, *patch.OverrideCategoryID)
				}
				return err
			}
		}
		if patch.Status != nil {
			switch *patch.Status {
			case model.ClusterPending, model.ClusterAccepted, model.ClusterSkipped:
			default:
				return fmt.Errorf("%w: unknown cluster status %q", common.ErrInvalidRequest, *patch.Status)
			}
		}
	}
	return e.storage.PatchProposalClusters(ctx, scope, patches)
}

// ApplyResult reports what accepting one cluster wrote.
type ApplyResult struct {
	Rule               *model.ClassificationRule
	TransactionCluster *model.TransactionCluster
	CategoryID         int64
	Categorized        int
}

// Apply accepts a proposal cluster: bulk-assigns its effective category to
// the included transactions with the "user" confidence tag, optionally
// upserts a rule from the captured pattern, marks the cluster accepted,
// and mints a durable TransactionCluster as the audit trail. One storage
// transaction covers all writes.
func (e *Engine) Apply(ctx context.Context, scope service.Scope, clusterID int64) (*ApplyResult, error) {
	pc, err := e.storage.GetProposalCluster(ctx, scope.UserID, clusterID)
	if err != nil {
		return nil, err
	}

	categoryID := pc.EffectiveCategoryID()
	if categoryID == nil {
		return nil, fmt.Errorf("%w: cluster %d has no category to apply", common.ErrInvalidCategory, clusterID)
	}
	category, err := e.storage.GetCategoryByID(ctx, scope.UserID, *categoryID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: category %d", common.ErrInvalidCategory, *categoryID)
		}
		return nil, err
	}

	included := pc.IncludedIDs()
	if len(included) == 0 {
		return nil, fmt.Errorf("%w: cluster %d has no transactions left after exclusions", common.ErrNoTransactions, clusterID)
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	categorized, err := tx.CategorizeTransactions(ctx, scope, included, category.ID, model.ConfidenceUser, pc.CustomLabel)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{CategoryID: category.ID, Categorized: categorized}

	if pattern := strings.TrimSpace(pc.RulePattern); pattern != "" {
		rule, err := e.rules.CreateFromAcceptance(ctx, tx, scope.UserID, pattern, category.ID, pc.CustomLabel)
		if err != nil {
			return nil, err
		}
		result.Rule = rule
	}

	accepted := model.ClusterAccepted
	if err := tx.PatchProposalClusters(ctx, scope, []model.ClusterPatch{{
		ClusterID: clusterID,
		Status:    &accepted,
	}}); err != nil {
		return nil, err
	}

	name := pc.CustomLabel
	if name == "" {
		name = pc.RepresentativeLabel
	}
	durable := &model.TransactionCluster{
		UserID:         scope.UserID,
		CategoryID:     &category.ID,
		Name:           name,
		Source:         model.ClusterSourceClassification,
		RulePattern:    pc.RulePattern,
		TransactionIDs: included,
	}
	if scope.AccountID != 0 {
		accountID := scope.AccountID
		durable.AccountID = &accountID
	}
	if result.Rule != nil {
		durable.RuleID = &result.Rule.ID
		durable.MatchType = string(result.Rule.MatchType)
	}
	members, err := tx.GetTransactionsByIDs(ctx, scope, included)
	if err != nil {
		return nil, err
	}
	durable.Stats = stats.Compute(members)
	if err := tx.CreateTransactionCluster(ctx, durable); err != nil {
		return nil, err
	}
	result.TransactionCluster = durable

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing acceptance: %w", err)
	}

	e.logger.InfoContext(ctx, "applied proposal cluster",
		"cluster_id", clusterID,
		"category_id", category.ID,
		"categorized", categorized,
		"rule_created", result.Rule != nil)
	return result, nil
}
