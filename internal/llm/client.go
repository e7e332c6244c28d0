package llm

import (
	"context"

	"github.com/mlecarme/spendsort/internal/model"
)

// Backend is one vendor integration. Implementations wrap a single remote
// service and expose plain text generation plus a reachability probe.
type Backend interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds LLM backend configuration.
type Config struct {
	Provider    string // "ollama", "openai" or "anthropic"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	TimeoutSecs int
}

// CategoryRequest asks for a category suggestion for one cluster.
type CategoryRequest struct {
	RepresentativeLabel string
	Samples             []model.TransactionSnapshot
	Categories          []model.EnrichedCategory
}

// SplitRequest asks the model to partition one cluster's transactions by
// merchant and category coherence.
type SplitRequest struct {
	RepresentativeLabel string
	Transactions        []model.TransactionSnapshot
	Categories          []model.EnrichedCategory
}

// SplitGroup is one sub-cluster proposed by the model.
type SplitGroup struct {
	RepresentativeLabel string
	CategoryName        string
	CategoryID          *int64
	TransactionIDs      []string
}
