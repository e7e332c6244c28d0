package model

import "time"

// ClusterSource indicates how a persistent transaction cluster was created.
type ClusterSource string

const (
	// ClusterSourceManual indicates a cluster built from a manual selection.
	ClusterSourceManual ClusterSource = "manual"
	// ClusterSourceClassification indicates a cluster minted when a
	// proposal cluster was accepted.
	ClusterSourceClassification ClusterSource = "classification"
	// ClusterSourceRule indicates a cluster derived from a rule's matches.
	ClusterSourceRule ClusterSource = "rule"
)

// RecurrencePattern classifies the cadence of a recurring cluster.
type RecurrencePattern string

// Recurrence pattern constants.
const (
	RecurrenceDaily     RecurrencePattern = "daily"
	RecurrenceWeekly    RecurrencePattern = "weekly"
	RecurrenceBiweekly  RecurrencePattern = "biweekly"
	RecurrenceMonthly   RecurrencePattern = "monthly"
	RecurrenceQuarterly RecurrencePattern = "quarterly"
	RecurrenceBiannual  RecurrencePattern = "biannual"
	RecurrenceYearly    RecurrencePattern = "yearly"
	RecurrenceIrregular RecurrencePattern = "irregular"
)

// Trend is the direction of the amount series over time.
type Trend string

// Trend constants.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ClusterStatsVersion is the current ClusterStats schema version.
const ClusterStatsVersion = 1

// ClusterStats holds the computed statistics blob of a TransactionCluster.
// Stored as versioned JSON; recomputed on demand, never kept implicitly in
// sync with membership changes.
type ClusterStats struct {
	RecurrencePattern RecurrencePattern `json:"recurrence_pattern,omitempty"`
	Trend             Trend             `json:"trend,omitempty"`
	FirstDate         string            `json:"first_date,omitempty"`
	LastDate          string            `json:"last_date,omitempty"`
	OutlierIDs        []string          `json:"outlier_ids,omitempty"`
	TotalAmount       float64           `json:"total_amount"`
	TotalAmountAbs    float64           `json:"total_amount_abs"`
	AvgAmount         float64           `json:"avg_amount"`
	MinAmount         float64           `json:"min_amount"`
	MaxAmount         float64           `json:"max_amount"`
	StdDevAmount      float64           `json:"stddev_amount"`
	AvgDaysBetween    float64           `json:"avg_days_between,omitempty"`
	CoefVariation     float64           `json:"cv,omitempty"`
	TrendSlope        float64           `json:"trend_slope,omitempty"`
	TransactionCount  int               `json:"transaction_count"`
	Version           int               `json:"v"`
	IsRecurring       bool              `json:"is_recurring"`
}

// TransactionCluster is a durable, named grouping of transactions,
// independent of the proposal lifecycle.
type TransactionCluster struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AccountID      *int64
	CategoryID     *int64
	RuleID         *int64
	Stats          *ClusterStats
	Name           string
	Description    string
	RulePattern    string
	MatchType      string
	Source         ClusterSource
	TransactionIDs []string
	ID             int64
	UserID         int64
}
