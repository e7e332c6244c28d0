package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

const clusterColumns = `id, proposal_id, cluster_index, representative_label,
	transaction_ids, transactions, total_amount_abs,
	suggested_category_id, suggested_category_name, suggestion_confidence,
	suggestion_similarity, suggestion_source, suggestion_explanation,
	status, override_category_id, rule_pattern, custom_label, excluded_ids`

// GetProposal fetches the proposal of a (user, account) pair with all its
// clusters in position order.
func (s *SQLiteStorage) GetProposal(ctx context.Context, scope service.Scope) (*model.ClassificationProposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getProposalTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getProposalTx(ctx context.Context, q queryable, scope service.Scope) (*model.ClassificationProposal, error) {
	var proposal model.ClassificationProposal
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, distance_threshold, total_uncategorized, unclustered_count, created_at, updated_at
		FROM classification_proposals
		WHERE user_id = ? AND account_id = ?
	`, scope.UserID, scope.AccountID).Scan(
		&proposal.ID, &proposal.UserID, &proposal.AccountID, &proposal.DistanceThreshold,
		&proposal.TotalUncategorized, &proposal.UnclusteredCount, &proposal.CreatedAt, &proposal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no proposal for account %d", common.ErrNotFound, scope.AccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM proposal_clusters
		WHERE proposal_id = ?
		ORDER BY cluster_index
	`, clusterColumns)
	rows, err := q.QueryContext(ctx, query, proposal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposal clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		cluster, err := scanProposalCluster(rows)
		if err != nil {
			return nil, err
		}
		proposal.Clusters = append(proposal.Clusters, *cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// UpsertProposal creates or refreshes the single proposal row of a
// (user, account) pair and fills in its id.
func (s *SQLiteStorage) UpsertProposal(ctx context.Context, proposal *model.ClassificationProposal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.upsertProposalTx(ctx, s.db, proposal)
}

func (s *SQLiteStorage) upsertProposalTx(ctx context.Context, q queryable, proposal *model.ClassificationProposal) error {
	if proposal == nil {
		return fmt.Errorf("%w: nil proposal", common.ErrInvalidRequest)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO classification_proposals (user_id, account_id, distance_threshold, total_uncategorized, unclustered_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, account_id) DO UPDATE SET
			distance_threshold = excluded.distance_threshold,
			total_uncategorized = excluded.total_uncategorized,
			unclustered_count = excluded.unclustered_count,
			updated_at = CURRENT_TIMESTAMP
	`, proposal.UserID, proposal.AccountID, proposal.DistanceThreshold,
		proposal.TotalUncategorized, proposal.UnclusteredCount)
	if err != nil {
		return fmt.Errorf("failed to upsert proposal: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT id FROM classification_proposals WHERE user_id = ? AND account_id = ?
	`, proposal.UserID, proposal.AccountID).Scan(&proposal.ID)
	if err != nil {
		return fmt.Errorf("failed to read proposal id: %w", err)
	}
	return nil
}

// ReplaceProposalClusters wholesale-replaces a proposal's clusters, as done
// by a recompute. Cluster ids are regenerated.
func (s *SQLiteStorage) ReplaceProposalClusters(ctx context.Context, proposalID int64, clusters []model.ProposalCluster) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.replaceProposalClustersTx(ctx, tx, proposalID, clusters); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) replaceProposalClustersTx(ctx context.Context, q queryable, proposalID int64, clusters []model.ProposalCluster) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM proposal_clusters WHERE proposal_id = ?`, proposalID); err != nil {
		return fmt.Errorf("failed to clear proposal clusters: %w", err)
	}

	for i := range clusters {
		clusters[i].ProposalID = proposalID
		clusters[i].Index = i
		if err := s.insertProposalClusterTx(ctx, q, &clusters[i]); err != nil {
			return err
		}
	}
	return nil
}

// InsertProposalClusters appends clusters starting at the given position
// index. Used by split to place sub-clusters after their siblings.
func (s *SQLiteStorage) InsertProposalClusters(ctx context.Context, proposalID int64, startIndex int, clusters []model.ProposalCluster) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.insertProposalClustersTx(ctx, s.db, proposalID, startIndex, clusters)
}

func (s *SQLiteStorage) insertProposalClustersTx(ctx context.Context, q queryable, proposalID int64, startIndex int, clusters []model.ProposalCluster) error {
	for i := range clusters {
		clusters[i].ProposalID = proposalID
		clusters[i].Index = startIndex + i
		if err := s.insertProposalClusterTx(ctx, q, &clusters[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) insertProposalClusterTx(ctx context.Context, q queryable, cluster *model.ProposalCluster) error {
	if cluster.Status == "" {
		cluster.Status = model.ClusterPending
	}

	idsJSON, err := json.Marshal(cluster.TransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction ids: %w", err)
	}
	snapshotsJSON, err := json.Marshal(cluster.Transactions)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction snapshots: %w", err)
	}
	excludedJSON, err := marshalStringSlice(cluster.ExcludedIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal excluded ids: %w", err)
	}

	var (
		suggestedID          *int64
		suggestedName        string
		suggestionConfidence string
		suggestionSimilarity *float64
		suggestionSource     string
		suggestionExplain    string
	)
	if cluster.Suggestion != nil {
		id := cluster.Suggestion.CategoryID
		suggestedID = &id
		suggestedName = cluster.Suggestion.CategoryName
		suggestionConfidence = string(cluster.Suggestion.Confidence)
		suggestionSimilarity = cluster.Suggestion.Similarity
		suggestionSource = string(cluster.Suggestion.Source)
		suggestionExplain = cluster.Suggestion.Explanation
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO proposal_clusters (
			proposal_id, cluster_index, representative_label, transaction_ids, transactions,
			total_amount_abs, suggested_category_id, suggested_category_name,
			suggestion_confidence, suggestion_similarity, suggestion_source, suggestion_explanation,
			status, override_category_id, rule_pattern, custom_label, excluded_ids
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cluster.ProposalID, cluster.Index, cluster.RepresentativeLabel, string(idsJSON), string(snapshotsJSON),
		cluster.TotalAmountAbs, suggestedID, suggestedName,
		suggestionConfidence, suggestionSimilarity, suggestionSource, suggestionExplain,
		string(cluster.Status), cluster.OverrideCategoryID, cluster.RulePattern, cluster.CustomLabel, excludedJSON)
	if err != nil {
		return fmt.Errorf("failed to insert proposal cluster: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cluster id: %w", err)
	}
	cluster.ID = id
	return nil
}

// GetProposalCluster fetches one cluster, enforcing ownership through its
// parent proposal.
func (s *SQLiteStorage) GetProposalCluster(ctx context.Context, userID, clusterID int64) (*model.ProposalCluster, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getProposalClusterTx(ctx, s.db, userID, clusterID)
}

func (s *SQLiteStorage) getProposalClusterTx(ctx context.Context, q queryable, userID, clusterID int64) (*model.ProposalCluster, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM proposal_clusters
		WHERE id = ? AND proposal_id IN (SELECT id FROM classification_proposals WHERE user_id = ?)
	`, clusterColumns)

	cluster, err := scanProposalCluster(q.QueryRowContext(ctx, query, clusterID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cluster %d", common.ErrNotFound, clusterID)
	}
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// PatchProposalClusters applies partial updates to clusters of the scope's
// proposal. Nil patch fields leave the column untouched; the whole batch
// is atomic.
func (s *SQLiteStorage) PatchProposalClusters(ctx context.Context, scope service.Scope, patches []model.ClusterPatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.patchProposalClustersTx(ctx, tx, scope, patches); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) patchProposalClustersTx(ctx context.Context, q queryable, scope service.Scope, patches []model.ClusterPatch) error {
	for _, patch := range patches {
		sets := []string{}
		args := []any{}

		if patch.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, string(*patch.Status))
		}
		if patch.ClearOverride {
			sets = append(sets, "override_category_id = NULL")
		} else if patch.OverrideCategoryID != nil {
			sets = append(sets, "override_category_id = ?")
			args = append(args, *patch.OverrideCategoryID)
		}
		if patch.RulePattern != nil {
			sets = append(sets, "rule_pattern = ?")
			args = append(args, *patch.RulePattern)
		}
		if patch.CustomLabel != nil {
			sets = append(sets, "custom_label = ?")
			args = append(args, *patch.CustomLabel)
		}
		if patch.ExcludedIDs != nil {
			excludedJSON, err := marshalStringSlice(*patch.ExcludedIDs)
			if err != nil {
				return fmt.Errorf("failed to marshal excluded ids: %w", err)
			}
			sets = append(sets, "excluded_ids = ?")
			args = append(args, excludedJSON)
		}
		if len(sets) == 0 {
			continue
		}

		query := fmt.Sprintf(`
			UPDATE proposal_clusters SET %s
			WHERE id = ? AND proposal_id IN (SELECT id FROM classification_proposals WHERE user_id = ?)
		`, strings.Join(sets, ", "))
		args = append(args, patch.ClusterID, scope.UserID)

		result, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to patch cluster %d: %w", patch.ClusterID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count patched rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: cluster %d", common.ErrNotFound, patch.ClusterID)
		}
	}
	return nil
}

// UpdateProposalCluster rewrites a cluster row in full.
func (s *SQLiteStorage) UpdateProposalCluster(ctx context.Context, cluster *model.ProposalCluster) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateProposalClusterTx(ctx, s.db, cluster)
}

func (s *SQLiteStorage) updateProposalClusterTx(ctx context.Context, q queryable, cluster *model.ProposalCluster) error {
	if cluster == nil {
		return fmt.Errorf("%w: nil cluster", common.ErrInvalidRequest)
	}

	idsJSON, err := json.Marshal(cluster.TransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction ids: %w", err)
	}
	snapshotsJSON, err := json.Marshal(cluster.Transactions)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction snapshots: %w", err)
	}
	excludedJSON, err := marshalStringSlice(cluster.ExcludedIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal excluded ids: %w", err)
	}

	var (
		suggestedID          *int64
		suggestedName        string
		suggestionConfidence string
		suggestionSimilarity *float64
		suggestionSource     string
		suggestionExplain    string
	)
	if cluster.Suggestion != nil {
		id := cluster.Suggestion.CategoryID
		suggestedID = &id
		suggestedName = cluster.Suggestion.CategoryName
		suggestionConfidence = string(cluster.Suggestion.Confidence)
		suggestionSimilarity = cluster.Suggestion.Similarity
		suggestionSource = string(cluster.Suggestion.Source)
		suggestionExplain = cluster.Suggestion.Explanation
	}

	result, err := q.ExecContext(ctx, `
		UPDATE proposal_clusters SET
			cluster_index = ?, representative_label = ?, transaction_ids = ?, transactions = ?,
			total_amount_abs = ?, suggested_category_id = ?, suggested_category_name = ?,
			suggestion_confidence = ?, suggestion_similarity = ?, suggestion_source = ?, suggestion_explanation = ?,
			status = ?, override_category_id = ?, rule_pattern = ?, custom_label = ?, excluded_ids = ?
		WHERE id = ?
	`, cluster.Index, cluster.RepresentativeLabel, string(idsJSON), string(snapshotsJSON),
		cluster.TotalAmountAbs, suggestedID, suggestedName,
		suggestionConfidence, suggestionSimilarity, suggestionSource, suggestionExplain,
		string(cluster.Status), cluster.OverrideCategoryID, cluster.RulePattern, cluster.CustomLabel, excludedJSON,
		cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to update cluster: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: cluster %d", common.ErrNotFound, cluster.ID)
	}
	return nil
}

// DeleteProposalCluster removes one cluster row.
func (s *SQLiteStorage) DeleteProposalCluster(ctx context.Context, clusterID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteProposalClusterTx(ctx, s.db, clusterID)
}

func (s *SQLiteStorage) deleteProposalClusterTx(ctx context.Context, q queryable, clusterID int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM proposal_clusters WHERE id = ?`, clusterID)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: cluster %d", common.ErrNotFound, clusterID)
	}
	return nil
}

func scanProposalCluster(row rowScanner) (*model.ProposalCluster, error) {
	var (
		cluster              model.ProposalCluster
		idsJSON              string
		snapshotsJSON        string
		suggestedID          sql.NullInt64
		suggestedName        string
		suggestionConfidence string
		suggestionSimilarity sql.NullFloat64
		suggestionSource     string
		suggestionExplain    string
		status               string
		overrideID           sql.NullInt64
		excludedJSON         sql.NullString
	)

	err := row.Scan(&cluster.ID, &cluster.ProposalID, &cluster.Index, &cluster.RepresentativeLabel,
		&idsJSON, &snapshotsJSON, &cluster.TotalAmountAbs,
		&suggestedID, &suggestedName, &suggestionConfidence,
		&suggestionSimilarity, &suggestionSource, &suggestionExplain,
		&status, &overrideID, &cluster.RulePattern, &cluster.CustomLabel, &excludedJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan proposal cluster: %w", err)
	}

	cluster.Status = model.ClusterStatus(status)
	if overrideID.Valid {
		cluster.OverrideCategoryID = &overrideID.Int64
	}
	if err := json.Unmarshal([]byte(idsJSON), &cluster.TransactionIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction ids: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshotsJSON), &cluster.Transactions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction snapshots: %w", err)
	}
	if excludedJSON.Valid && excludedJSON.String != "" {
		if err := json.Unmarshal([]byte(excludedJSON.String), &cluster.ExcludedIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal excluded ids: %w", err)
		}
	}

	if suggestedID.Valid {
		suggestion := &model.Suggestion{
			CategoryID:   suggestedID.Int64,
			CategoryName: suggestedName,
			Confidence:   model.ConfidenceTier(suggestionConfidence),
			Source:       model.SuggestionSource(suggestionSource),
			Explanation:  suggestionExplain,
		}
		if suggestionSimilarity.Valid {
			sim := suggestionSimilarity.Float64
			suggestion.Similarity = &sim
		}
		cluster.Suggestion = suggestion
	}
	return &cluster, nil
}

func marshalStringSlice(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
