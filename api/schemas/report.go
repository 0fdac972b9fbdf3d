package schemas

import "time"

// -- Report Schemas --

// Summary holds violation counts per impact. The named counts plus OtherCount
// always add up to TotalViolations.
type Summary struct {
	TotalViolations int `json:"totalViolations"`
	CriticalCount   int `json:"criticalCount"`
	SeriousCount    int `json:"seriousCount"`
	ModerateCount   int `json:"moderateCount"`
	MinorCount      int `json:"minorCount"`
	// OtherCount tallies entries whose impact is not one of the four named
	// levels. Omitted from JSON when zero.
	OtherCount int `json:"otherCount,omitempty"`
}

// TopIssue aggregates every violation entry sharing one rule id.
type TopIssue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Impact      Impact `json:"impact"`
	// Count is the number of violation entries for the rule.
	Count int `json:"count"`
	// ElementsAffected is the sum of NodeCount over those entries.
	ElementsAffected int `json:"elementsAffected"`
}

// ActionableItem is a remediation record derived from a single violation.
type ActionableItem struct {
	Priority         Impact `json:"priority"`
	Issue            string `json:"issue"`
	Solution         string `json:"solution"`
	ElementsAffected int    `json:"elementsAffected"`
	HelpURL          string `json:"helpUrl"`
}

// DetailedResults carries the full ordered and grouped violation views.
type DetailedResults struct {
	PrioritizedViolations []Violation            `json:"prioritizedViolations"`
	ViolationsByType      map[string][]Violation `json:"violationsByType"`
}

// Report is the classified outcome of one scan.
type Report struct {
	URL             string           `json:"url"`
	Timestamp       time.Time        `json:"timestamp"`
	Summary         Summary          `json:"summary"`
	UrgentIssues    []Violation      `json:"urgentIssues"`
	TopIssues       []TopIssue       `json:"topIssues"`
	ActionableItems []ActionableItem `json:"actionableItems"`
	DetailedResults DetailedResults  `json:"detailedResults"`
}

// ScanRequest is the body accepted by the scan endpoint.
type ScanRequest struct {
	URL string `json:"url"`
}

// ScanResponse is the success envelope: the report fields spread next to
// the success flag.
type ScanResponse struct {
	Success bool `json:"success"`
	*Report
}

// ErrorResponse is the failure envelope returned by the HTTP API.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
