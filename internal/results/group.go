package results

import (
	"cmp"
	"slices"

	"github.com/xkilldash9x/axescan/api/schemas"
)

// GroupByType partitions violations by rule id. Each group holds every entry
// for that rule in original relative order.
func GroupByType(violations []schemas.Violation) map[string][]schemas.Violation {
	groups := make(map[string][]schemas.Violation)
	for _, v := range violations {
		groups[v.RuleID] = append(groups[v.RuleID], v)
	}
	return groups
}

// RankTop builds one TopIssue per distinct rule id. Count is the number of
// entries triggered by the rule, not the number of affected elements; the
// element total is reported separately in ElementsAffected.
//
// Issues are sorted descending by (count, severity rank). The rank of a group
// is the highest impact among its entries. Remaining ties keep the order in
// which the rule first appeared in the input.
func RankTop(violations []schemas.Violation) []schemas.TopIssue {
	index := make(map[string]int)
	issues := make([]schemas.TopIssue, 0)

	for _, v := range violations {
		i, seen := index[v.RuleID]
		if !seen {
			index[v.RuleID] = len(issues)
			issues = append(issues, schemas.TopIssue{
				Type:        v.RuleID,
				Description: v.Description,
				Impact:      v.Impact,
			})
			i = len(issues) - 1
		}
		issue := &issues[i]
		issue.Count++
		issue.ElementsAffected += v.NodeCount
		if v.Impact.Rank() > issue.Impact.Rank() {
			issue.Impact = v.Impact
		}
	}

	slices.SortStableFunc(issues, func(a, b schemas.TopIssue) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(b.Impact.Rank(), a.Impact.Rank())
	})
	return issues
}
