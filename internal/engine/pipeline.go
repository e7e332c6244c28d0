package engine

import (
	"context"
	"fmt"

	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/labelparse"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
	"github.com/mlecarme/spendsort/internal/suggest"
)

// EnsureParsed runs the label parser over every never-parsed transaction in
// scope. Parsing changes the embedded text, so the vector is reset in the
// same write. Returns the number of rows parsed.
func (e *Engine) EnsureParsed(ctx context.Context, scope service.Scope) (int, error) {
	txns, err := e.storage.GetUnparsedTransactions(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("loading unparsed transactions: %w", err)
	}

	for i := range txns {
		parsed := labelparse.Parse(txns[i].LabelRaw)
		if err := e.storage.UpdateParsedLabel(ctx, txns[i].ID, parsed, true); err != nil {
			return i, fmt.Errorf("storing parsed label for %s: %w", txns[i].ID, err)
		}
	}

	if len(txns) > 0 {
		e.logger.InfoContext(ctx, "parsed transaction labels", "count", len(txns))
	}
	return len(txns), nil
}

// EnsureEmbeddings computes vectors for every unembedded transaction in
// scope. The provider chunks the batch internally; progress (when non-nil)
// is reported once per stored vector.
func (e *Engine) EnsureEmbeddings(ctx context.Context, scope service.Scope, progress func(done, total int)) (int, error) {
	txns, err := e.storage.GetUnembeddedTransactions(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("loading unembedded transactions: %w", err)
	}
	if len(txns) == 0 {
		return 0, nil
	}

	texts := make([]string, len(txns))
	for i := range txns {
		base := labelparse.EmbeddingText(txns[i].Parsed, txns[i].LabelRaw)
		texts[i] = embedding.BuildText(base, txns[i].IsIncome(), e.embedCfg)
	}

	vectors, err := e.provider.EncodeBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("computing embeddings: %w", err)
	}

	for i := range txns {
		if err := e.storage.UpdateEmbedding(ctx, txns[i].ID, vectors[i]); err != nil {
			return i, fmt.Errorf("storing embedding for %s: %w", txns[i].ID, err)
		}
		if progress != nil {
			progress(i+1, len(txns))
		}
	}

	e.logger.InfoContext(ctx, "computed embeddings", "count", len(txns))
	return len(txns), nil
}

// neighborSet builds the nearest-neighbor reference set from categorized
// transactions carrying vectors.
func (e *Engine) neighborSet(ctx context.Context, scope service.Scope) ([]suggest.Neighbor, error) {
	classified, err := e.storage.GetCategorizedWithEmbeddings(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading classified transactions: %w", err)
	}

	neighbors := make([]suggest.Neighbor, 0, len(classified))
	for i := range classified {
		if classified[i].CategoryID == nil {
			continue
		}
		neighbors = append(neighbors, suggest.Neighbor{
			Vector:     classified[i].Embedding,
			CategoryID: *classified[i].CategoryID,
		})
	}
	return neighbors, nil
}

// categoryVectors embeds the semantic text of every active category. The
// vectors are cheap relative to the transaction batch and recomputed per
// unit of work, keeping the engine stateless.
func (e *Engine) categoryVectors(ctx context.Context, enriched []model.EnrichedCategory) ([]suggest.CategoryVector, error) {
	if len(enriched) == 0 {
		return nil, nil
	}

	texts := make([]string, len(enriched))
	for i, cat := range enriched {
		texts[i] = cat.SemanticText()
	}

	vectors, err := e.provider.EncodeBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding category texts: %w", err)
	}

	out := make([]suggest.CategoryVector, len(enriched))
	for i := range enriched {
		out[i] = suggest.CategoryVector{Category: enriched[i], Vector: vectors[i]}
	}
	return out, nil
}

// snapshots denormalizes up to limit transactions for proposal storage.
func snapshots(txns []model.Transaction, indices []int, limit int) []model.TransactionSnapshot {
	if limit > 0 && len(indices) > limit {
		indices = indices[:limit]
	}
	out := make([]model.TransactionSnapshot, len(indices))
	for i, idx := range indices {
		out[i] = txns[idx].Snapshot()
	}
	return out
}
