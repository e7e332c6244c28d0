package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
)

const transactionClusterColumns = `id, user_id, account_id, category_id, rule_id,
	name, description, source, rule_pattern, match_type, transaction_ids, stats,
	created_at, updated_at`

// CreateTransactionCluster inserts a durable cluster and fills in its id.
func (s *SQLiteStorage) CreateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createTransactionClusterTx(ctx, s.db, cluster)
}

func (s *SQLiteStorage) createTransactionClusterTx(ctx context.Context, q queryable, cluster *model.TransactionCluster) error {
	if cluster == nil {
		return fmt.Errorf("%w: nil cluster", common.ErrInvalidRequest)
	}
	if err := validateString(cluster.Name, "cluster name"); err != nil {
		return err
	}
	if cluster.Source == "" {
		cluster.Source = model.ClusterSourceManual
	}

	idsJSON, err := json.Marshal(cluster.TransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction ids: %w", err)
	}
	statsJSON, err := marshalStats(cluster.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster stats: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO transaction_clusters (
			user_id, account_id, category_id, rule_id, name, description,
			source, rule_pattern, match_type, transaction_ids, stats
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cluster.UserID, cluster.AccountID, cluster.CategoryID, cluster.RuleID,
		cluster.Name, cluster.Description, string(cluster.Source),
		cluster.RulePattern, cluster.MatchType, string(idsJSON), statsJSON)
	if err != nil {
		return fmt.Errorf("failed to create transaction cluster: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cluster id: %w", err)
	}
	cluster.ID = id
	return nil
}

// UpdateTransactionCluster rewrites a cluster's mutable fields, enforcing
// ownership.
func (s *SQLiteStorage) UpdateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateTransactionClusterTx(ctx, s.db, cluster)
}

func (s *SQLiteStorage) updateTransactionClusterTx(ctx context.Context, q queryable, cluster *model.TransactionCluster) error {
	if cluster == nil {
		return fmt.Errorf("%w: nil cluster", common.ErrInvalidRequest)
	}
	if err := validateString(cluster.Name, "cluster name"); err != nil {
		return err
	}

	idsJSON, err := json.Marshal(cluster.TransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction ids: %w", err)
	}
	statsJSON, err := marshalStats(cluster.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster stats: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE transaction_clusters SET
			account_id = ?, category_id = ?, rule_id = ?, name = ?, description = ?,
			source = ?, rule_pattern = ?, match_type = ?, transaction_ids = ?, stats = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, cluster.AccountID, cluster.CategoryID, cluster.RuleID, cluster.Name, cluster.Description,
		string(cluster.Source), cluster.RulePattern, cluster.MatchType, string(idsJSON), statsJSON,
		cluster.ID, cluster.UserID)
	if err != nil {
		return fmt.Errorf("failed to update transaction cluster: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction cluster %d", common.ErrNotFound, cluster.ID)
	}
	return nil
}

// GetTransactionCluster fetches one cluster, enforcing ownership.
func (s *SQLiteStorage) GetTransactionCluster(ctx context.Context, userID, id int64) (*model.TransactionCluster, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionClusterTx(ctx, s.db, userID, id)
}

func (s *SQLiteStorage) getTransactionClusterTx(ctx context.Context, q queryable, userID, id int64) (*model.TransactionCluster, error) {
	query := fmt.Sprintf(`SELECT %s FROM transaction_clusters WHERE id = ? AND user_id = ?`, transactionClusterColumns)
	cluster, err := scanTransactionCluster(q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction cluster %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// ListTransactionClusters lists a user's clusters, optionally filtered by
// account and category.
func (s *SQLiteStorage) ListTransactionClusters(ctx context.Context, userID int64, accountID, categoryID *int64) ([]model.TransactionCluster, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listTransactionClustersTx(ctx, s.db, userID, accountID, categoryID)
}

func (s *SQLiteStorage) listTransactionClustersTx(ctx context.Context, q queryable, userID int64, accountID, categoryID *int64) ([]model.TransactionCluster, error) {
	query := fmt.Sprintf(`SELECT %s FROM transaction_clusters WHERE user_id = ?`, transactionClusterColumns)
	args := []any{userID}
	if accountID != nil {
		query += " AND account_id = ?"
		args = append(args, *accountID)
	}
	if categoryID != nil {
		query += " AND category_id = ?"
		args = append(args, *categoryID)
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clusters []model.TransactionCluster
	for rows.Next() {
		cluster, err := scanTransactionCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *cluster)
	}
	return clusters, rows.Err()
}

// DeleteTransactionCluster removes a cluster, enforcing ownership.
func (s *SQLiteStorage) DeleteTransactionCluster(ctx context.Context, userID, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteTransactionClusterTx(ctx, s.db, userID, id)
}

func (s *SQLiteStorage) deleteTransactionClusterTx(ctx context.Context, q queryable, userID, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM transaction_clusters WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction cluster: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction cluster %d", common.ErrNotFound, id)
	}
	return nil
}

func scanTransactionCluster(row rowScanner) (*model.TransactionCluster, error) {
	var (
		cluster   model.TransactionCluster
		accountID sql.NullInt64
		catID     sql.NullInt64
		ruleID    sql.NullInt64
		source    string
		idsJSON   string
		statsJSON sql.NullString
	)

	err := row.Scan(&cluster.ID, &cluster.UserID, &accountID, &catID, &ruleID,
		&cluster.Name, &cluster.Description, &source, &cluster.RulePattern, &cluster.MatchType,
		&idsJSON, &statsJSON, &cluster.CreatedAt, &cluster.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction cluster: %w", err)
	}

	cluster.Source = model.ClusterSource(source)
	if accountID.Valid {
		cluster.AccountID = &accountID.Int64
	}
	if catID.Valid {
		cluster.CategoryID = &catID.Int64
	}
	if ruleID.Valid {
		cluster.RuleID = &ruleID.Int64
	}
	if err := json.Unmarshal([]byte(idsJSON), &cluster.TransactionIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction ids: %w", err)
	}
	if statsJSON.Valid && statsJSON.String != "" {
		var stats model.ClusterStats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cluster stats: %w", err)
		}
		cluster.Stats = &stats
	}
	return &cluster, nil
}

func marshalStats(stats *model.ClusterStats) (any, error) {
	if stats == nil {
		return nil, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
