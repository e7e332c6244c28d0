package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

const transactionColumns = `id, account_id, fingerprint, date, label_raw, label_clean,
	amount_cents, category_id, confidence, parsed, embedding, deleted_at`

// SaveTransactions inserts transactions, silently skipping fingerprint
// duplicates among live rows. Returns the number actually inserted.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := s.saveTransactionsTx(ctx, tx, transactions)
	if err != nil {
		return 0, err
	}

	return inserted, tx.Commit()
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, q queryable, transactions []model.Transaction) (int, error) {
	inserted := 0
	for i := range transactions {
		txn := &transactions[i]
		if txn.ID == "" {
			return inserted, fmt.Errorf("%w: transaction without id", common.ErrInvalidRequest)
		}
		if txn.Fingerprint == "" {
			txn.Fingerprint = txn.GenerateFingerprint()
		}

		parsedJSON, err := marshalNullable(txn.Parsed)
		if err != nil {
			return inserted, fmt.Errorf("failed to marshal parsed metadata: %w", err)
		}
		embeddingJSON, err := marshalEmbedding(txn.Embedding)
		if err != nil {
			return inserted, fmt.Errorf("failed to marshal embedding: %w", err)
		}

		result, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, account_id, fingerprint, date, label_raw, label_clean,
				amount_cents, category_id, confidence, parsed, embedding
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, txn.ID, txn.AccountID, txn.Fingerprint, txn.Date, txn.LabelRaw, txn.LabelClean,
			txn.AmountCents, txn.CategoryID, string(txn.Confidence), parsedJSON, embeddingJSON)
		if err != nil {
			return inserted, fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to count inserted rows: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// GetTransactionByID fetches a live transaction within the scope.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, scope service.Scope, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTransactionByIDTx(ctx, s.db, scope, id)
}

func (s *SQLiteStorage) getTransactionByIDTx(ctx context.Context, q queryable, scope service.Scope, id string) (*model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = ? AND deleted_at IS NULL AND %s`, transactionColumns, clause)
	row := q.QueryRowContext(ctx, query, append([]any{id}, args...)...)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// GetTransactionsByIDs fetches the live scope transactions among ids,
// ordered by date. Missing ids are silently dropped.
func (s *SQLiteStorage) GetTransactionsByIDs(ctx context.Context, scope service.Scope, ids []string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionsByIDsTx(ctx, s.db, scope, ids)
}

func (s *SQLiteStorage) getTransactionsByIDsTx(ctx context.Context, q queryable, scope service.Scope, ids []string) ([]model.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	clause, scopeArgs := scopeWhere(scope)
	args := make([]any, 0, len(ids)+len(scopeArgs))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, scopeArgs...)

	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE id IN (%s) AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, placeholders(len(ids)), clause)

	return s.queryTransactions(ctx, q, query, args...)
}

// GetUncategorizedTransactions returns live transactions with no category.
func (s *SQLiteStorage) GetUncategorizedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUncategorizedTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getUncategorizedTx(ctx context.Context, q queryable, scope service.Scope) ([]model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE category_id IS NULL AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, clause)
	return s.queryTransactions(ctx, q, query, args...)
}

// GetUnparsedTransactions returns live transactions the label parser has
// not yet processed.
func (s *SQLiteStorage) GetUnparsedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUnparsedTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getUnparsedTx(ctx context.Context, q queryable, scope service.Scope) ([]model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE parsed IS NULL AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, clause)
	return s.queryTransactions(ctx, q, query, args...)
}

// GetUnembeddedTransactions returns live transactions without a vector.
func (s *SQLiteStorage) GetUnembeddedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUnembeddedTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getUnembeddedTx(ctx context.Context, q queryable, scope service.Scope) ([]model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE embedding IS NULL AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, clause)
	return s.queryTransactions(ctx, q, query, args...)
}

// GetEmbeddedUncategorized returns the clustering input set: live,
// uncategorized, with a vector.
func (s *SQLiteStorage) GetEmbeddedUncategorized(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getEmbeddedUncategorizedTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getEmbeddedUncategorizedTx(ctx context.Context, q queryable, scope service.Scope) ([]model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE category_id IS NULL AND embedding IS NOT NULL AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, clause)
	return s.queryTransactions(ctx, q, query, args...)
}

// GetCategorizedWithEmbeddings returns the nearest-neighbor reference set:
// live, categorized, with a vector.
func (s *SQLiteStorage) GetCategorizedWithEmbeddings(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCategorizedWithEmbeddingsTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) getCategorizedWithEmbeddingsTx(ctx context.Context, q queryable, scope service.Scope) ([]model.Transaction, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE category_id IS NOT NULL AND embedding IS NOT NULL AND deleted_at IS NULL AND %s
		ORDER BY date, id
	`, transactionColumns, clause)
	return s.queryTransactions(ctx, q, query, args...)
}

// UpdateParsedLabel stores the parser output. A reparse invalidates the
// embedded text, so resetEmbedding clears the vector in the same write.
func (s *SQLiteStorage) UpdateParsedLabel(ctx context.Context, id string, parsed *model.ParsedLabel, resetEmbedding bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateParsedLabelTx(ctx, s.db, id, parsed, resetEmbedding)
}

func (s *SQLiteStorage) updateParsedLabelTx(ctx context.Context, q queryable, id string, parsed *model.ParsedLabel, resetEmbedding bool) error {
	parsedJSON, err := marshalNullable(parsed)
	if err != nil {
		return fmt.Errorf("failed to marshal parsed metadata: %w", err)
	}

	query := `UPDATE transactions SET parsed = ? WHERE id = ? AND deleted_at IS NULL`
	if resetEmbedding {
		query = `UPDATE transactions SET parsed = ?, embedding = NULL WHERE id = ? AND deleted_at IS NULL`
	}

	result, err := q.ExecContext(ctx, query, parsedJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update parsed metadata: %w", err)
	}
	return requireRow(result, id)
}

// UpdateEmbedding stores a transaction's vector.
func (s *SQLiteStorage) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.updateEmbeddingTx(ctx, s.db, id, embedding)
}

func (s *SQLiteStorage) updateEmbeddingTx(ctx context.Context, q queryable, id string, embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", common.ErrInvalidRequest)
	}
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE transactions SET embedding = ? WHERE id = ? AND deleted_at IS NULL
	`, embeddingJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return requireRow(result, id)
}

// CategorizeTransactions bulk-assigns a category and confidence tag to the
// scope transactions among ids. A non-empty customLabel overwrites the
// clean label. Returns the number of rows written.
func (s *SQLiteStorage) CategorizeTransactions(ctx context.Context, scope service.Scope, ids []string, categoryID int64, tag model.ConfidenceTag, customLabel string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.categorizeTransactionsTx(ctx, s.db, scope, ids, categoryID, tag, customLabel)
}

func (s *SQLiteStorage) categorizeTransactionsTx(ctx context.Context, q queryable, scope service.Scope, ids []string, categoryID int64, tag model.ConfidenceTag, customLabel string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	clause, scopeArgs := scopeWhere(scope)
	args := []any{categoryID, string(tag), customLabel, customLabel}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, scopeArgs...)

	query := fmt.Sprintf(`
		UPDATE transactions
		SET category_id = ?, confidence = ?,
			label_clean = CASE WHEN ? != '' THEN ? ELSE label_clean END
		WHERE id IN (%s) AND deleted_at IS NULL AND %s
	`, placeholders(len(ids)), clause)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to categorize transactions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count categorized rows: %w", err)
	}
	return int(n), nil
}

// CountUncategorized counts live uncategorized transactions in scope,
// with or without embeddings.
func (s *SQLiteStorage) CountUncategorized(ctx context.Context, scope service.Scope) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countUncategorizedTx(ctx, s.db, scope)
}

func (s *SQLiteStorage) countUncategorizedTx(ctx context.Context, q queryable, scope service.Scope) (int, error) {
	clause, args := scopeWhere(scope)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM transactions
		WHERE category_id IS NULL AND deleted_at IS NULL AND %s
	`, clause)

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count uncategorized transactions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) queryTransactions(ctx context.Context, q queryable, query string, args ...any) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn           model.Transaction
		confidence    string
		parsedJSON    sql.NullString
		embeddingJSON sql.NullString
		deletedAt     sql.NullTime
	)

	err := row.Scan(&txn.ID, &txn.AccountID, &txn.Fingerprint, &txn.Date, &txn.LabelRaw, &txn.LabelClean,
		&txn.AmountCents, &txn.CategoryID, &confidence, &parsedJSON, &embeddingJSON, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Confidence = model.ConfidenceTag(confidence)
	if deletedAt.Valid {
		t := deletedAt.Time
		txn.DeletedAt = &t
	}
	if parsedJSON.Valid && parsedJSON.String != "" {
		var parsed model.ParsedLabel
		if err := json.Unmarshal([]byte(parsedJSON.String), &parsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parsed metadata for %s: %w", txn.ID, err)
		}
		txn.Parsed = &parsed
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &txn.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for %s: %w", txn.ID, err)
		}
	}
	return &txn, nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	// A typed nil pointer still marshals, so check for it explicitly.
	if p, ok := v.(*model.ParsedLabel); ok && p == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalEmbedding(embedding []float64) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	return nil
}
