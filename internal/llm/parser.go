package llm

import (
	"encoding/json"
	"strings"

	"github.com/mlecarme/spendsort/internal/model"
)

// extractJSON returns the first balanced top-level JSON object in text.
// Models often wrap the requested object in prose, so a direct parse is
// tried first and the scan is the fallback.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return text, true
	}

	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					start = -1
				}
			}
		}
	}
	return "", false
}

type categoryReply struct {
	CategoryID   *int64 `json:"category_id"`
	CategoryName string `json:"category_name"`
	Confidence   string `json:"confidence"`
	Explanation  string `json:"explanation"`
}

// parseCategoryReply turns raw model output into a Suggestion. The category
// must come from the allow-list; an unknown id falls back to a
// case-insensitive name match, and failing that the reply is discarded.
func parseCategoryReply(raw string, categories []model.EnrichedCategory) (*model.Suggestion, bool) {
	jsonText, ok := extractJSON(raw)
	if !ok {
		return nil, false
	}

	var reply categoryReply
	if err := json.Unmarshal([]byte(jsonText), &reply); err != nil {
		return nil, false
	}
	if reply.CategoryID == nil {
		return nil, false
	}

	cat, found := lookupByID(categories, *reply.CategoryID)
	if !found {
		cat, found = lookupByName(categories, reply.CategoryName)
		if !found {
			return nil, false
		}
	}

	confidence := model.ConfidenceTier(reply.Confidence)
	switch confidence {
	case model.TierHigh, model.TierMedium, model.TierLow:
	default:
		confidence = model.TierMedium
	}

	return &model.Suggestion{
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		Confidence:   confidence,
		Source:       model.SourceLLM,
		Explanation:  reply.Explanation,
	}, true
}

type splitReply struct {
	Groups []struct {
		RepresentativeLabel string   `json:"representative_label"`
		CategoryID          *int64   `json:"category_id"`
		CategoryName        string   `json:"category_name"`
		TransactionIDs      []string `json:"transaction_ids"`
	} `json:"groups"`
}

// parseSplitReply validates a proposed partition against the cluster's
// transaction ids. Unknown ids are dropped; ids the model omitted are left
// for the caller to reattach. Fewer than two usable groups means the model
// considered the cluster homogeneous and the parse reports failure.
func parseSplitReply(raw string, memberIDs []string, categories []model.EnrichedCategory) ([]SplitGroup, bool) {
	jsonText, ok := extractJSON(raw)
	if !ok {
		return nil, false
	}

	var reply splitReply
	if err := json.Unmarshal([]byte(jsonText), &reply); err != nil {
		return nil, false
	}

	valid := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		valid[id] = true
	}

	seen := make(map[string]bool, len(memberIDs))
	var groups []SplitGroup
	for _, g := range reply.Groups {
		var ids []string
		for _, id := range g.TransactionIDs {
			if valid[id] && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}

		group := SplitGroup{
			RepresentativeLabel: strings.TrimSpace(g.RepresentativeLabel),
			TransactionIDs:      ids,
		}
		if g.CategoryID != nil {
			if cat, found := lookupByID(categories, *g.CategoryID); found {
				group.CategoryID = &cat.ID
				group.CategoryName = cat.Name
			}
		}
		if group.CategoryID == nil && g.CategoryName != "" {
			if cat, found := lookupByName(categories, g.CategoryName); found {
				group.CategoryID = &cat.ID
				group.CategoryName = cat.Name
			}
		}
		groups = append(groups, group)
	}

	if len(groups) < 2 {
		return nil, false
	}
	return groups, true
}

func lookupByID(categories []model.EnrichedCategory, id int64) (model.EnrichedCategory, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return model.EnrichedCategory{}, false
}

func lookupByName(categories []model.EnrichedCategory, name string) (model.EnrichedCategory, bool) {
	if name == "" {
		return model.EnrichedCategory{}, false
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return model.EnrichedCategory{}, false
}
