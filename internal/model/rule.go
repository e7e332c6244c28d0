package model

import (
	"strings"
	"time"
)

// MatchType selects how a rule pattern is compared against a label.
type MatchType string

// Match type constants. Matching is always case-insensitive.
const (
	MatchContains   MatchType = "contains"
	MatchExact      MatchType = "exact"
	MatchStartsWith MatchType = "starts_with"
)

// RuleOrigin indicates how a classification rule was created.
type RuleOrigin string

const (
	// OriginManual indicates a rule authored directly by the user.
	OriginManual RuleOrigin = "manual"
	// OriginAcceptance indicates a rule derived from an accepted proposal cluster.
	OriginAcceptance RuleOrigin = "acceptance"
)

// AcceptedRulePriority is assigned to rules minted from user decisions,
// above the default so they win over older imported rules.
const AcceptedRulePriority = 10

// ClassificationRule deterministically assigns a category to transactions
// whose label matches its pattern. Rules are evaluated in descending
// priority order and the first match wins.
type ClassificationRule struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Pattern     string
	MatchType   MatchType
	CustomLabel string
	CreatedBy   RuleOrigin
	UserID      int64
	CategoryID  int64
	ID          int64
	Priority    int
	IsActive    bool
}

// Matches reports whether the rule applies to the given raw label.
func (r *ClassificationRule) Matches(label string) bool {
	return MatchLabel(label, r.Pattern, r.MatchType)
}

// MatchLabel compares a label against a pattern using the given match type.
// Unknown match types fall back to contains.
func MatchLabel(label, pattern string, matchType MatchType) bool {
	l := strings.ToLower(label)
	p := strings.ToLower(pattern)

	switch matchType {
	case MatchExact:
		return l == p
	case MatchStartsWith:
		return strings.HasPrefix(l, p)
	default:
		return strings.Contains(l, p)
	}
}
