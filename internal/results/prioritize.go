package results

import (
	"cmp"
	"slices"

	"github.com/xkilldash9x/axescan/api/schemas"
)

// compareImportance orders two violations most important first: higher
// severity rank, then more affected elements.
func compareImportance(a, b schemas.Violation) int {
	if c := cmp.Compare(b.Impact.Rank(), a.Impact.Rank()); c != 0 {
		return c
	}
	return cmp.Compare(b.NodeCount, a.NodeCount)
}

// Prioritize returns a copy of violations in the canonical global order,
// descending by (severity rank, node count). The sort is stable, so equal
// entries keep their original relative order. The input is not modified.
func Prioritize(violations []schemas.Violation) []schemas.Violation {
	out := slices.Clone(violations)
	if out == nil {
		out = []schemas.Violation{}
	}
	slices.SortStableFunc(out, compareImportance)
	return out
}

// RankUrgent returns the critical and serious entries in priority order.
// It is a filter over Prioritize, which already uses the same key.
func RankUrgent(violations []schemas.Violation) []schemas.Violation {
	return urgentFrom(Prioritize(violations))
}

func urgentFrom(prioritized []schemas.Violation) []schemas.Violation {
	urgent := make([]schemas.Violation, 0, len(prioritized))
	for _, v := range prioritized {
		if v.Impact.IsUrgent() {
			urgent = append(urgent, v)
		}
	}
	return urgent
}

// BuildActionable maps every violation entry to one remediation item, ordered
// descending by (severity rank, elements affected). Entries are never
// deduplicated across rules.
func BuildActionable(violations []schemas.Violation) []schemas.ActionableItem {
	return actionableFrom(Prioritize(violations))
}

func actionableFrom(prioritized []schemas.Violation) []schemas.ActionableItem {
	items := make([]schemas.ActionableItem, 0, len(prioritized))
	for _, v := range prioritized {
		items = append(items, schemas.ActionableItem{
			Priority:         v.Impact,
			Issue:            v.Description,
			Solution:         v.Help,
			ElementsAffected: v.NodeCount,
			HelpURL:          v.HelpURL,
		})
	}
	return items
}
