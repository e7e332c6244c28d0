package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/model"
)

func TestMatchPriorityOrder(t *testing.T) {
	ruleset := []model.ClassificationRule{
		{ID: 1, Pattern: "AMAZON", MatchType: model.MatchContains, CategoryID: 100, Priority: 5, IsActive: true},
		{ID: 2, Pattern: "AMAZON PRIME", MatchType: model.MatchContains, CategoryID: 200, Priority: 10, IsActive: true},
	}

	t.Run("higher priority wins even when both match", func(t *testing.T) {
		rule := Match("AMAZON PRIME VIDEO", ruleset)
		require.NotNil(t, rule)
		assert.Equal(t, int64(200), rule.CategoryID)
	})

	t.Run("lower priority still matches alone", func(t *testing.T) {
		rule := Match("AMAZON MARKETPLACE", ruleset)
		require.NotNil(t, rule)
		assert.Equal(t, int64(100), rule.CategoryID)
	})

	t.Run("equal priority breaks ties by id", func(t *testing.T) {
		tied := []model.ClassificationRule{
			{ID: 9, Pattern: "SNCF", MatchType: model.MatchContains, CategoryID: 1, Priority: 5, IsActive: true},
			{ID: 3, Pattern: "SNCF", MatchType: model.MatchContains, CategoryID: 2, Priority: 5, IsActive: true},
		}
		rule := Match("SNCF INTERNET", tied)
		require.NotNil(t, rule)
		assert.Equal(t, int64(3), rule.ID)
	})

	t.Run("inactive rules are skipped", func(t *testing.T) {
		off := []model.ClassificationRule{
			{ID: 1, Pattern: "SNCF", MatchType: model.MatchContains, CategoryID: 1, Priority: 10, IsActive: false},
			{ID: 2, Pattern: "SNCF", MatchType: model.MatchContains, CategoryID: 2, Priority: 1, IsActive: true},
		}
		rule := Match("SNCF INTERNET", off)
		require.NotNil(t, rule)
		assert.Equal(t, int64(2), rule.ID)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Nil(t, Match("CARREFOUR MARKET", ruleset))
	})
}

func TestMatchTypes(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		matchType model.MatchType
		label     string
		want      bool
	}{
		{"contains hit", "netflix", model.MatchContains, "PRLV NETFLIX SARL", true},
		{"contains miss", "netflix", model.MatchContains, "PRLV SPOTIFY", false},
		{"exact hit ignores case", "prlv netflix", model.MatchExact, "PRLV NETFLIX", true},
		{"exact miss on substring", "netflix", model.MatchExact, "PRLV NETFLIX", false},
		{"starts_with hit", "PRLV", model.MatchStartsWith, "prlv netflix sarl", true},
		{"starts_with miss mid-string", "NETFLIX", model.MatchStartsWith, "PRLV NETFLIX", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := model.ClassificationRule{Pattern: tt.pattern, MatchType: tt.matchType, IsActive: true}
			assert.Equal(t, tt.want, rule.Matches(tt.label))
		})
	}
}
