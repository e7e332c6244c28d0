// Package storage implements the persistence layer on SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, storage: s}, nil
}

// queryable abstracts over *sql.DB and *sql.Tx so entity helpers serve
// both the direct and the transactional path.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTx wraps sql.Tx to implement service.Tx. Every Storage method
// delegates to the shared entity helpers bound to the transaction.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) GetAccount(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	return t.storage.getAccountTx(ctx, t.tx, userID, accountID)
}

func (t *sqliteTx) ListAccounts(ctx context.Context, userID int64) ([]model.Account, error) {
	return t.storage.listAccountsTx(ctx, t.tx, userID)
}

func (t *sqliteTx) CreateAccount(ctx context.Context, account *model.Account) error {
	return t.storage.createAccountTx(ctx, t.tx, account)
}

func (t *sqliteTx) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	return t.storage.saveTransactionsTx(ctx, t.tx, transactions)
}

func (t *sqliteTx) GetTransactionByID(ctx context.Context, scope service.Scope, id string) (*model.Transaction, error) {
	return t.storage.getTransactionByIDTx(ctx, t.tx, scope, id)
}

func (t *sqliteTx) GetTransactionsByIDs(ctx context.Context, scope service.Scope, ids []string) ([]model.Transaction, error) {
	return t.storage.getTransactionsByIDsTx(ctx, t.tx, scope, ids)
}

func (t *sqliteTx) GetUncategorizedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	return t.storage.getUncategorizedTx(ctx, t.tx, scope)
}

func (t *sqliteTx) GetUnparsedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	return t.storage.getUnparsedTx(ctx, t.tx, scope)
}

func (t *sqliteTx) GetUnembeddedTransactions(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	return t.storage.getUnembeddedTx(ctx, t.tx, scope)
}

func (t *sqliteTx) GetEmbeddedUncategorized(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	return t.storage.getEmbeddedUncategorizedTx(ctx, t.tx, scope)
}

func (t *sqliteTx) GetCategorizedWithEmbeddings(ctx context.Context, scope service.Scope) ([]model.Transaction, error) {
	return t.storage.getCategorizedWithEmbeddingsTx(ctx, t.tx, scope)
}

func (t *sqliteTx) UpdateParsedLabel(ctx context.Context, id string, parsed *model.ParsedLabel, resetEmbedding bool) error {
	return t.storage.updateParsedLabelTx(ctx, t.tx, id, parsed, resetEmbedding)
}

func (t *sqliteTx) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	return t.storage.updateEmbeddingTx(ctx, t.tx, id, embedding)
}

func (t *sqliteTx) CategorizeTransactions(ctx context.Context, scope service.Scope, ids []string, categoryID int64, tag model.ConfidenceTag, customLabel string) (int, error) {
	return t.storage.categorizeTransactionsTx(ctx, t.tx, scope, ids, categoryID, tag, customLabel)
}

func (t *sqliteTx) CountUncategorized(ctx context.Context, scope service.Scope) (int, error) {
	return t.storage.countUncategorizedTx(ctx, t.tx, scope)
}

func (t *sqliteTx) GetCategories(ctx context.Context, userID int64) ([]model.Category, error) {
	return t.storage.getCategoriesTx(ctx, t.tx, userID)
}

func (t *sqliteTx) GetCategoryByID(ctx context.Context, userID, id int64) (*model.Category, error) {
	return t.storage.getCategoryByIDTx(ctx, t.tx, userID, id)
}

func (t *sqliteTx) GetCategoryByName(ctx context.Context, userID int64, name string) (*model.Category, error) {
	return t.storage.getCategoryByNameTx(ctx, t.tx, userID, name)
}

func (t *sqliteTx) CreateCategory(ctx context.Context, category *model.Category) error {
	return t.storage.createCategoryTx(ctx, t.tx, category)
}

func (t *sqliteTx) GetEnrichedCategories(ctx context.Context, userID int64) ([]model.EnrichedCategory, error) {
	return t.storage.getEnrichedCategoriesTx(ctx, t.tx, userID)
}

func (t *sqliteTx) CreateRule(ctx context.Context, rule *model.ClassificationRule) error {
	return t.storage.createRuleTx(ctx, t.tx, rule)
}

func (t *sqliteTx) UpdateRule(ctx context.Context, rule *model.ClassificationRule) error {
	return t.storage.updateRuleTx(ctx, t.tx, rule)
}

func (t *sqliteTx) DeleteRule(ctx context.Context, userID, id int64) error {
	return t.storage.deleteRuleTx(ctx, t.tx, userID, id)
}

func (t *sqliteTx) GetRule(ctx context.Context, userID, id int64) (*model.ClassificationRule, error) {
	return t.storage.getRuleTx(ctx, t.tx, userID, id)
}

func (t *sqliteTx) GetActiveRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	return t.storage.getActiveRulesTx(ctx, t.tx, userID)
}

func (t *sqliteTx) FindRuleByPattern(ctx context.Context, userID int64, pattern string) (*model.ClassificationRule, error) {
	return t.storage.findRuleByPatternTx(ctx, t.tx, userID, pattern)
}

func (t *sqliteTx) ListRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	return t.storage.listRulesTx(ctx, t.tx, userID)
}

func (t *sqliteTx) GetProposal(ctx context.Context, scope service.Scope) (*model.ClassificationProposal, error) {
	return t.storage.getProposalTx(ctx, t.tx, scope)
}

func (t *sqliteTx) UpsertProposal(ctx context.Context, proposal *model.ClassificationProposal) error {
	return t.storage.upsertProposalTx(ctx, t.tx, proposal)
}

func (t *sqliteTx) ReplaceProposalClusters(ctx context.Context, proposalID int64, clusters []model.ProposalCluster) error {
	return t.storage.replaceProposalClustersTx(ctx, t.tx, proposalID, clusters)
}

func (t *sqliteTx) GetProposalCluster(ctx context.Context, userID, clusterID int64) (*model.ProposalCluster, error) {
	return t.storage.getProposalClusterTx(ctx, t.tx, userID, clusterID)
}

func (t *sqliteTx) PatchProposalClusters(ctx context.Context, scope service.Scope, patches []model.ClusterPatch) error {
	return t.storage.patchProposalClustersTx(ctx, t.tx, scope, patches)
}

func (t *sqliteTx) UpdateProposalCluster(ctx context.Context, cluster *model.ProposalCluster) error {
	return t.storage.updateProposalClusterTx(ctx, t.tx, cluster)
}

func (t *sqliteTx) DeleteProposalCluster(ctx context.Context, clusterID int64) error {
	return t.storage.deleteProposalClusterTx(ctx, t.tx, clusterID)
}

func (t *sqliteTx) InsertProposalClusters(ctx context.Context, proposalID int64, startIndex int, clusters []model.ProposalCluster) error {
	return t.storage.insertProposalClustersTx(ctx, t.tx, proposalID, startIndex, clusters)
}

func (t *sqliteTx) CreateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error {
	return t.storage.createTransactionClusterTx(ctx, t.tx, cluster)
}

func (t *sqliteTx) UpdateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error {
	return t.storage.updateTransactionClusterTx(ctx, t.tx, cluster)
}

func (t *sqliteTx) GetTransactionCluster(ctx context.Context, userID, id int64) (*model.TransactionCluster, error) {
	return t.storage.getTransactionClusterTx(ctx, t.tx, userID, id)
}

func (t *sqliteTx) ListTransactionClusters(ctx context.Context, userID int64, accountID, categoryID *int64) ([]model.TransactionCluster, error) {
	return t.storage.listTransactionClustersTx(ctx, t.tx, userID, accountID, categoryID)
}

func (t *sqliteTx) DeleteTransactionCluster(ctx context.Context, userID, id int64) error {
	return t.storage.deleteTransactionClusterTx(ctx, t.tx, userID, id)
}

func (t *sqliteTx) Migrate(_ context.Context) error {
	return fmt.Errorf("%w: migrations cannot run inside a transaction", common.ErrInvalidRequest)
}

func (t *sqliteTx) BeginTx(_ context.Context) (service.Tx, error) {
	return nil, fmt.Errorf("%w: nested transactions are not supported", common.ErrInvalidRequest)
}

func (t *sqliteTx) Close() error {
	return t.tx.Rollback()
}

// scopeWhere builds the ownership filter for transaction queries. It always
// restricts to accounts of the scope's user; AccountID zero means all of
// the user's accounts.
func scopeWhere(scope service.Scope) (string, []any) {
	clause := "account_id IN (SELECT id FROM accounts WHERE user_id = ?)"
	args := []any{scope.UserID}
	if scope.AccountID != 0 {
		clause += " AND account_id = ?"
		args = append(args, scope.AccountID)
	}
	return clause, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("%w: nil context", common.ErrInvalidRequest)
	}
	return ctx.Err()
}

func validateString(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s must not be empty", common.ErrInvalidRequest, name)
	}
	return nil
}
