package results

import (
	"github.com/xkilldash9x/axescan/api/schemas"
)

// Classify turns a raw audit result into the prioritized report. It is a pure
// function of its input: the same result always yields the same report, and
// raw is never modified. Every slice and map in the report is non-nil so that
// empty results encode as [] and {}.
func Classify(raw *schemas.RawAuditResult) *schemas.Report {
	if raw == nil {
		raw = &schemas.RawAuditResult{}
	}
	violations := raw.Violations

	// Every ordered view is derived from the same canonical ordering.
	prioritized := Prioritize(violations)

	return &schemas.Report{
		URL:             raw.URL,
		Timestamp:       raw.Timestamp,
		Summary:         Summarize(violations),
		UrgentIssues:    urgentFrom(prioritized),
		TopIssues:       RankTop(violations),
		ActionableItems: actionableFrom(prioritized),
		DetailedResults: schemas.DetailedResults{
			PrioritizedViolations: prioritized,
			ViolationsByType:      GroupByType(violations),
		},
	}
}
