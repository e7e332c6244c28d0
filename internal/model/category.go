package model

import "time"

// Category represents a spending category. Categories form a tree via
// ParentID; Level and RootID are denormalized shortcuts maintained by a
// two-phase write in storage (insert, then patch) because the row id is
// not known before insertion.
type Category struct {
	CreatedAt   time.Time
	ParentID    *int64
	RootID      *int64
	UserID      *int64 // nil for system-owned categories
	Name        string
	Description string
	ID          int64
	Level       int
	IsSystem    bool
	IsActive    bool
}

// EnrichedCategory is a category with its computed tree context, as handed
// to the suggestion waterfall and the LLM classifier.
type EnrichedCategory struct {
	Name        string
	ParentName  string
	Description string
	ID          int64
	IsLeaf      bool
}

// FullPath returns "Parent > Name" for nested categories, else just Name.
func (c EnrichedCategory) FullPath() string {
	if c.ParentName != "" {
		return c.ParentName + " > " + c.Name
	}
	return c.Name
}

// SemanticText returns the descriptive text embedded for category-semantics
// matching: the full path plus the rich description when one exists.
func (c EnrichedCategory) SemanticText() string {
	if c.Description != "" {
		return c.FullPath() + " — " + c.Description
	}
	return c.FullPath()
}
