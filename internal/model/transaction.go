// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"math"
	"time"
)

// ConfidenceTag records how a transaction's category was decided.
type ConfidenceTag string

// Confidence tag constants.
const (
	// ConfidenceRule marks a category applied by a deterministic rule.
	ConfidenceRule ConfidenceTag = "rule"
	// ConfidenceUser marks a category the user confirmed at review time.
	ConfidenceUser ConfidenceTag = "user"
)

// Transaction represents a single imported bank transaction.
// Once imported it is immutable except for classification fields
// (category, confidence, clean label, parsed metadata, embedding).
type Transaction struct {
	Date        time.Time
	DeletedAt   *time.Time
	CategoryID  *int64
	ID          string
	LabelRaw    string // raw bank statement text
	LabelClean  string // optional user-provided label override
	Fingerprint string
	Confidence  ConfidenceTag
	Parsed      *ParsedLabel
	Embedding   []float64
	AccountID   int64
	AmountCents int64 // signed, fixed-point
}

// Amount returns the transaction amount in currency units.
func (t *Transaction) Amount() float64 {
	return float64(t.AmountCents) / 100
}

// AbsAmount returns the absolute amount in currency units.
func (t *Transaction) AbsAmount() float64 {
	return math.Abs(t.Amount())
}

// IsIncome reports whether the transaction is a credit.
func (t *Transaction) IsIncome() bool {
	return t.AmountCents >= 0
}

// DisplayLabel returns the counterparty when parsing extracted one,
// else the raw label. Used for cluster representative labels.
func (t *Transaction) DisplayLabel() string {
	if t.Parsed != nil && t.Parsed.Counterparty != "" {
		return t.Parsed.Counterparty
	}
	return t.LabelRaw
}

// GenerateFingerprint creates the deduplication fingerprint. Two imports
// of the same statement row must produce the same value.
func (t *Transaction) GenerateFingerprint() string {
	data := fmt.Sprintf("%d:%s:%d:%s",
		t.AccountID,
		t.Date.Format("2006-01-02"),
		t.AmountCents,
		t.LabelRaw)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// TransactionSnapshot is the denormalized per-transaction record stored
// inside a proposal cluster. Schema changes bump Version so old rows
// remain readable.
type TransactionSnapshot struct {
	ID       string  `json:"id"`
	LabelRaw string  `json:"label_raw"`
	Date     string  `json:"date"` // ISO date
	Amount   float64 `json:"amount"`
	Version  int     `json:"v,omitempty"`
}

// SnapshotVersion is the current TransactionSnapshot schema version.
const SnapshotVersion = 1

// Snapshot builds the denormalized record for proposal storage.
func (t *Transaction) Snapshot() TransactionSnapshot {
	return TransactionSnapshot{
		ID:       t.ID,
		LabelRaw: t.LabelRaw,
		Amount:   t.Amount(),
		Date:     t.Date.Format("2006-01-02"),
		Version:  SnapshotVersion,
	}
}
