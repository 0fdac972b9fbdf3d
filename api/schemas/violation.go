package schemas

import (
	"encoding/json"
	"strings"
	"time"
)

// -- Audit Schemas --

// Impact is the severity axe-core assigns to a rule failure. The values are the
// lowercase strings emitted by the engine.
type Impact string

// The closed set of impacts. Anything else lands in the "other" bucket.
const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Rank returns the ordinal used for every prioritization: critical=4 down to
// minor=1. Unrecognized impacts rank 0.
func (i Impact) Rank() int {
	switch i {
	case ImpactCritical:
		return 4
	case ImpactSerious:
		return 3
	case ImpactModerate:
		return 2
	case ImpactMinor:
		return 1
	default:
		return 0
	}
}

// IsUrgent reports whether the impact belongs to the critical or serious tier.
func (i Impact) IsUrgent() bool {
	return i == ImpactCritical || i == ImpactSerious
}

// IsKnown reports whether the impact is one of the four named levels.
func (i Impact) IsKnown() bool {
	return i.Rank() > 0
}

func (i Impact) String() string {
	return string(i)
}

// ParseImpact normalizes an engine impact string. Unknown values are kept
// verbatim so they stay visible in the report while ranking as "other".
func ParseImpact(s string) Impact {
	return Impact(strings.ToLower(strings.TrimSpace(s)))
}

// selectorSeparator joins the selector chain of an element nested inside
// iframes or shadow roots.
const selectorSeparator = " >>> "

// ElementDescriptor identifies one DOM element affected by a violation.
type ElementDescriptor struct {
	// Target is the CSS selector path to the element. One entry per frame or
	// shadow boundary.
	Target         []string `json:"target"`
	HTML           string   `json:"html"`
	FailureSummary string   `json:"failureSummary,omitempty"`
	Impact         Impact   `json:"impact,omitempty"`
}

// UnmarshalJSON accepts the engine's selector encoding, where each target
// entry is either a string or an array of strings for shadow DOM paths.
func (e *ElementDescriptor) UnmarshalJSON(data []byte) error {
	var raw struct {
		Target         []json.RawMessage `json:"target"`
		HTML           string            `json:"html"`
		FailureSummary string            `json:"failureSummary"`
		Impact         *string           `json:"impact"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Target = make([]string, 0, len(raw.Target))
	for _, t := range raw.Target {
		var single string
		if err := json.Unmarshal(t, &single); err == nil {
			e.Target = append(e.Target, single)
			continue
		}
		var chain []string
		if err := json.Unmarshal(t, &chain); err != nil {
			return err
		}
		e.Target = append(e.Target, strings.Join(chain, selectorSeparator))
	}
	e.HTML = raw.HTML
	e.FailureSummary = raw.FailureSummary
	e.Impact = ""
	if raw.Impact != nil {
		e.Impact = ParseImpact(*raw.Impact)
	}
	return nil
}

// Violation is one rule failure reported by the audit engine together with
// the elements it affects.
type Violation struct {
	// RuleID is the engine rule identifier (e.g. "image-alt"). Serialized as
	// "id" to match the engine output consumed by the front end.
	RuleID      string              `json:"id"`
	Description string              `json:"description"`
	Help        string              `json:"help"`
	HelpURL     string              `json:"helpUrl"`
	Impact      Impact              `json:"impact"`
	Tags        []string            `json:"tags,omitempty"`
	Nodes       []ElementDescriptor `json:"nodes"`
	NodeCount   int                 `json:"nodeCount"`
}

// RawAuditResult is the unprocessed output of one audit run.
type RawAuditResult struct {
	URL           string      `json:"url"`
	Timestamp     time.Time   `json:"timestamp"`
	EngineVersion string      `json:"engineVersion,omitempty"`
	Violations    []Violation `json:"violations"`
}
