package model

// ConfidenceTier grades how sure a category suggestion is.
type ConfidenceTier string

// Confidence tier constants.
const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// SuggestionSource identifies which waterfall strategy produced a suggestion.
type SuggestionSource string

const (
	// SourceSimilarTransactions is the nearest-neighbor vote over already
	// categorized transactions.
	SourceSimilarTransactions SuggestionSource = "similar_transactions"
	// SourceCategorySemantics is the nearest category-description embedding.
	SourceCategorySemantics SuggestionSource = "category_semantics"
	// SourceLLM is a delegation to the language-model classifier.
	SourceLLM SuggestionSource = "llm"
	// SourceLLMSplit marks suggestions attached to LLM-split sub-clusters.
	SourceLLMSplit SuggestionSource = "llm_split"
)

// Suggestion is a proposed category for a cluster or single transaction.
type Suggestion struct {
	Similarity   *float64 // nil for LLM suggestions
	CategoryName string
	Confidence   ConfidenceTier
	Source       SuggestionSource
	Explanation  string
	CategoryID   int64
}
