// Package rules is the deterministic fast path of the classification
// pipeline. Pattern rules are evaluated before any embedding work so that
// decisions the user already made generalize without re-running the
// heavier machinery.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mlecarme/spendsort/internal/common"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// Engine applies and maintains classification rules for one storage.
type Engine struct {
	storage service.Storage
	logger  *slog.Logger
}

func NewEngine(storage service.Storage, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{storage: storage, logger: logger}
}

// Match returns the winning rule for a label, or nil when none matches.
// Rules are tried in descending priority, ties broken by ascending id so
// the outcome never depends on storage ordering.
func Match(label string, ruleset []model.ClassificationRule) *model.ClassificationRule {
	ordered := make([]model.ClassificationRule, 0, len(ruleset))
	for _, r := range ruleset {
		if r.IsActive {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i := range ordered {
		if ordered[i].Matches(label) {
			return &ordered[i]
		}
	}
	return nil
}

// ApplyResult summarizes one rule application pass.
type ApplyResult struct {
	Matched   int
	ByRule    map[int64]int
	Remaining int
}

// Apply runs the active rule set over every uncategorized transaction in
// scope. Matching transactions get the rule's category, the "rule"
// confidence tag, and the rule's custom label when present.
func (e *Engine) Apply(ctx context.Context, scope service.Scope) (*ApplyResult, error) {
	ruleset, err := e.storage.GetActiveRules(ctx, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	txns, err := e.storage.GetUncategorizedTransactions(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading uncategorized transactions: %w", err)
	}

	result := &ApplyResult{ByRule: make(map[int64]int)}
	if len(ruleset) == 0 || len(txns) == 0 {
		result.Remaining = len(txns)
		return result, nil
	}

	// Group ids per winning rule so each rule becomes one bulk write.
	assignments := make(map[int64][]string)
	ruleByID := make(map[int64]*model.ClassificationRule, len(ruleset))
	for i := range ruleset {
		ruleByID[ruleset[i].ID] = &ruleset[i]
	}
	for _, txn := range txns {
		rule := Match(txn.LabelRaw, ruleset)
		if rule == nil {
			result.Remaining++
			continue
		}
		assignments[rule.ID] = append(assignments[rule.ID], txn.ID)
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for ruleID, ids := range assignments {
		rule := ruleByID[ruleID]
		n, err := tx.CategorizeTransactions(ctx, scope, ids, rule.CategoryID, model.ConfidenceRule, rule.CustomLabel)
		if err != nil {
			return nil, fmt.Errorf("applying rule %d: %w", ruleID, err)
		}
		result.ByRule[ruleID] = n
		result.Matched += n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rule application: %w", err)
	}

	e.logger.InfoContext(ctx, "applied classification rules",
		"matched", result.Matched,
		"remaining", result.Remaining,
		"rules_hit", len(result.ByRule))
	return result, nil
}

// CreateFromAcceptance mints or refreshes a rule from an accepted
// classification. An existing active rule with the same pattern for the
// user is updated in place; otherwise a new contains-rule is created at
// the elevated acceptance priority.
func (e *Engine) CreateFromAcceptance(ctx context.Context, tx service.Tx, userID int64, pattern string, categoryID int64, customLabel string) (*model.ClassificationRule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty rule pattern", common.ErrInvalidRequest)
	}

	existing, err := tx.FindRuleByPattern(ctx, userID, pattern)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("looking up rule pattern: %w", err)
	}

	if existing != nil {
		existing.CategoryID = categoryID
		existing.CustomLabel = customLabel
		existing.IsActive = true
		if err := tx.UpdateRule(ctx, existing); err != nil {
			return nil, fmt.Errorf("refreshing rule %d: %w", existing.ID, err)
		}
		e.logger.InfoContext(ctx, "refreshed rule from acceptance", "rule_id", existing.ID, "pattern", pattern)
		return existing, nil
	}

	rule := &model.ClassificationRule{
		UserID:      userID,
		Pattern:     pattern,
		MatchType:   model.MatchContains,
		CategoryID:  categoryID,
		CustomLabel: customLabel,
		Priority:    model.AcceptedRulePriority,
		IsActive:    true,
		CreatedBy:   model.OriginAcceptance,
	}
	if err := tx.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("creating rule: %w", err)
	}
	e.logger.InfoContext(ctx, "created rule from acceptance", "rule_id", rule.ID, "pattern", pattern)
	return rule, nil
}
