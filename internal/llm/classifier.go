package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// Classifier turns cluster contents into category and split suggestions by
// prompting whichever backend the selector currently holds.
type Classifier struct {
	selector *Selector
	logger   *slog.Logger
}

func NewClassifier(selector *Selector, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{selector: selector, logger: logger}
}

// Available reports whether the current backend answers its health probe.
func (c *Classifier) Available(ctx context.Context) bool {
	backend, err := c.selector.Current()
	if err != nil {
		return false
	}
	return backend.IsAvailable(ctx)
}

// SuggestCategory asks the model for a single category for the cluster.
// A nil suggestion with a nil error means the model declined or answered
// unusably; callers treat that as "no suggestion", not a failure.
func (c *Classifier) SuggestCategory(ctx context.Context, req CategoryRequest) (*model.Suggestion, error) {
	backend, err := c.selector.Current()
	if err != nil {
		return nil, err
	}
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories to choose from", common.ErrInvalidRequest)
	}

	raw, err := c.generate(ctx, backend, buildCategoryPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("llm generate failed: %w", err)
	}

	suggestion, ok := parseCategoryReply(raw, req.Categories)
	if !ok {
		c.logger.WarnContext(ctx, "unusable llm category reply",
			"backend", backend.Name(),
			"label", req.RepresentativeLabel,
			"reply_prefix", truncate(raw, 200))
		return nil, nil
	}
	return suggestion, nil
}

// SuggestSplit asks the model to partition a cluster. Returns the raw reply
// for debug surfaces alongside the parsed groups; groups is nil when the
// model judged the cluster homogeneous or answered unusably.
func (c *Classifier) SuggestSplit(ctx context.Context, req SplitRequest) (string, []SplitGroup, error) {
	backend, err := c.selector.Current()
	if err != nil {
		return "", nil, err
	}
	if len(req.Transactions) < 2 {
		return "", nil, fmt.Errorf("%w: need at least two transactions to split", common.ErrInvalidRequest)
	}

	raw, err := c.generate(ctx, backend, buildSplitPrompt(req))
	if err != nil {
		return "", nil, fmt.Errorf("llm generate failed: %w", err)
	}

	memberIDs := make([]string, len(req.Transactions))
	for i, txn := range req.Transactions {
		memberIDs[i] = txn.ID
	}

	groups, ok := parseSplitReply(raw, memberIDs, req.Categories)
	if !ok {
		c.logger.InfoContext(ctx, "llm returned no usable split",
			"backend", backend.Name(),
			"label", req.RepresentativeLabel)
		return raw, nil, nil
	}
	return raw, groups, nil
}

// generate wraps the backend call with bounded retries. Transient network
// and rate-limit failures back off; everything else surfaces immediately.
func (c *Classifier) generate(ctx context.Context, backend Backend, prompt string) (string, error) {
	var raw string
	err := common.WithRetry(ctx, func() error {
		var genErr error
		raw, genErr = backend.Generate(ctx, prompt)
		return genErr
	}, service.RetryOptions{MaxAttempts: 3})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
