package model

import "time"

// ClusterStatus is the user decision state of a proposal cluster.
type ClusterStatus string

// Cluster status constants.
const (
	ClusterPending  ClusterStatus = "pending"
	ClusterAccepted ClusterStatus = "accepted"
	ClusterSkipped  ClusterStatus = "skipped"
)

// ClassificationProposal is the current batch of suggested clusters for one
// (user, account) pair. Exactly one proposal exists per pair; recompute
// replaces its clusters wholesale.
type ClassificationProposal struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Clusters           []ProposalCluster
	DistanceThreshold  float64
	ID                 int64
	UserID             int64
	AccountID          int64
	TotalUncategorized int
	UnclusteredCount   int
}

// ProposalCluster is one suggested group of uncategorized transactions
// awaiting user review.
type ProposalCluster struct {
	Suggestion          *Suggestion
	OverrideCategoryID  *int64
	RepresentativeLabel string
	RulePattern         string
	CustomLabel         string
	Status              ClusterStatus
	TransactionIDs      []string
	ExcludedIDs         []string
	Transactions        []TransactionSnapshot
	TotalAmountAbs      float64
	ID                  int64
	ProposalID          int64
	Index               int
}

// EffectiveCategoryID returns the category the user decision resolves to:
// the override when set, else the suggestion.
func (c *ProposalCluster) EffectiveCategoryID() *int64 {
	if c.OverrideCategoryID != nil {
		return c.OverrideCategoryID
	}
	if c.Suggestion != nil {
		id := c.Suggestion.CategoryID
		return &id
	}
	return nil
}

// IncludedIDs returns the member transaction ids minus the user-excluded
// subset, preserving order.
func (c *ProposalCluster) IncludedIDs() []string {
	if len(c.ExcludedIDs) == 0 {
		return c.TransactionIDs
	}
	excluded := make(map[string]struct{}, len(c.ExcludedIDs))
	for _, id := range c.ExcludedIDs {
		excluded[id] = struct{}{}
	}
	out := make([]string, 0, len(c.TransactionIDs))
	for _, id := range c.TransactionIDs {
		if _, skip := excluded[id]; !skip {
			out = append(out, id)
		}
	}
	return out
}

// ClusterPatch carries a partial update to one proposal cluster. Pointer
// fields are applied only when non-nil, so status, override, rule pattern,
// custom label and exclusions are independently patchable.
type ClusterPatch struct {
	Status             *ClusterStatus
	OverrideCategoryID *int64
	ClearOverride      bool
	RulePattern        *string
	CustomLabel        *string
	ExcludedIDs        *[]string
	ClusterID          int64
}
