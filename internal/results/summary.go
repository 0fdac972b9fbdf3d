package results

import "github.com/xkilldash9x/axescan/api/schemas"

// Summarize counts violation entries per impact. Entries with an
// unrecognized impact are tallied in OtherCount and excluded from the four
// named buckets, so the five counts always add up to TotalViolations.
func Summarize(violations []schemas.Violation) schemas.Summary {
	summary := schemas.Summary{TotalViolations: len(violations)}
	for _, v := range violations {
		switch v.Impact {
		case schemas.ImpactCritical:
			summary.CriticalCount++
		case schemas.ImpactSerious:
			summary.SeriousCount++
		case schemas.ImpactModerate:
			summary.ModerateCount++
		case schemas.ImpactMinor:
			summary.MinorCount++
		default:
			summary.OtherCount++
		}
	}
	return summary
}
