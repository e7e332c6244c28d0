// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/mlecarme/spendsort/internal/model"
)

// Scope identifies the owner and account a unit of work operates on.
// AccountID zero means "all accounts of the user".
type Scope struct {
	UserID    int64
	AccountID int64
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Account operations
	GetAccount(ctx context.Context, userID, accountID int64) (*model.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]model.Account, error)
	CreateAccount(ctx context.Context, account *model.Account) error

	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	GetTransactionByID(ctx context.Context, scope Scope, id string) (*model.Transaction, error)
	GetTransactionsByIDs(ctx context.Context, scope Scope, ids []string) ([]model.Transaction, error)
	GetUncategorizedTransactions(ctx context.Context, scope Scope) ([]model.Transaction, error)
	GetUnparsedTransactions(ctx context.Context, scope Scope) ([]model.Transaction, error)
	GetUnembeddedTransactions(ctx context.Context, scope Scope) ([]model.Transaction, error)
	GetEmbeddedUncategorized(ctx context.Context, scope Scope) ([]model.Transaction, error)
	GetCategorizedWithEmbeddings(ctx context.Context, scope Scope) ([]model.Transaction, error)
	UpdateParsedLabel(ctx context.Context, id string, parsed *model.ParsedLabel, resetEmbedding bool) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float64) error
	CategorizeTransactions(ctx context.Context, scope Scope, ids []string, categoryID int64, tag model.ConfidenceTag, customLabel string) (int, error)
	CountUncategorized(ctx context.Context, scope Scope) (int, error)

	// Category operations
	GetCategories(ctx context.Context, userID int64) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, userID, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, userID int64, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, category *model.Category) error
	GetEnrichedCategories(ctx context.Context, userID int64) ([]model.EnrichedCategory, error)

	// Rule operations
	CreateRule(ctx context.Context, rule *model.ClassificationRule) error
	UpdateRule(ctx context.Context, rule *model.ClassificationRule) error
	DeleteRule(ctx context.Context, userID, id int64) error
	GetRule(ctx context.Context, userID, id int64) (*model.ClassificationRule, error)
	GetActiveRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error)
	FindRuleByPattern(ctx context.Context, userID int64, pattern string) (*model.ClassificationRule, error)
	ListRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error)

	// Proposal operations
	GetProposal(ctx context.Context, scope Scope) (*model.ClassificationProposal, error)
	UpsertProposal(ctx context.Context, proposal *model.ClassificationProposal) error
	ReplaceProposalClusters(ctx context.Context, proposalID int64, clusters []model.ProposalCluster) error
	GetProposalCluster(ctx context.Context, userID, clusterID int64) (*model.ProposalCluster, error)
	PatchProposalClusters(ctx context.Context, scope Scope, patches []model.ClusterPatch) error
	UpdateProposalCluster(ctx context.Context, cluster *model.ProposalCluster) error
	DeleteProposalCluster(ctx context.Context, clusterID int64) error
	InsertProposalClusters(ctx context.Context, proposalID int64, startIndex int, clusters []model.ProposalCluster) error

	// Persistent transaction cluster operations
	CreateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error
	UpdateTransactionCluster(ctx context.Context, cluster *model.TransactionCluster) error
	GetTransactionCluster(ctx context.Context, userID, id int64) (*model.TransactionCluster, error)
	ListTransactionClusters(ctx context.Context, userID int64, accountID, categoryID *int64) ([]model.TransactionCluster, error)
	DeleteTransactionCluster(ctx context.Context, userID, id int64) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction. It exposes the full Storage surface
// so a unit of work can commit all its writes atomically.
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
