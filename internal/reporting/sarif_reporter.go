// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "axescan"
	ToolInfoURI  = "https://github.com/xkilldash9x/axescan"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// SARIFReporter collects violations from every written report into a single
// SARIF 2.1.0 run and emits it on Close. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the index maps.
	mu sync.Mutex
	// ruleIndex maps an audit rule id to its position in the driver rules.
	ruleIndex map[string]int
	// artifactIndex maps a scanned URL to its position in the run artifacts.
	artifactIndex map[string]int
}

// NewSARIFReporter creates a reporter that writes SARIF output to writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Artifacts: []*sarif.Artifact{},
				Results:   []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:        writer,
		logger:        logger.Named("sarif_reporter"),
		log:           log,
		ruleIndex:     make(map[string]int),
		artifactIndex: make(map[string]int),
	}
}

// Write converts every prioritized violation of report into a SARIF result.
func (r *SARIFReporter) Write(report *schemas.Report) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	artifact := r.ensureArtifact(report.URL)

	for _, v := range report.DetailedResults.PrioritizedViolations {
		index := r.ensureRule(v)
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    v.RuleID,
			RuleIndex: pInt(index),
			Message:   &sarif.Message{Text: pString(resultMessage(v))},
			Level:     mapImpactToSARIFLevel(v.Impact),
			Locations: createLocations(report.URL, artifact, v),
		})
	}

	r.logger.Debug("Wrote violations to SARIF buffer",
		zap.String("url", report.URL),
		zap.Int("violations", len(report.DetailedResults.PrioritizedViolations)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := reportJSON.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF log: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close SARIF writer: %w", closeErr)
	}
	return nil
}

// ensureRule registers the audit rule once and returns its index.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(v schemas.Violation) int {
	if index, ok := r.ruleIndex[v.RuleID]; ok {
		return index
	}

	driver := r.log.Runs[0].Tool.Driver
	markdownHelp := fmt.Sprintf("**%s**\n\n%s", v.Help, v.Description)
	if v.HelpURL != "" {
		markdownHelp += fmt.Sprintf("\n\n[Remediation guide](%s)", v.HelpURL)
	}

	rule := &sarif.ReportingDescriptor{
		ID:               v.RuleID,
		Name:             pString(v.RuleID),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(v.Help)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(v.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(v.Help),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":   append([]string{"accessibility"}, v.Tags...),
			"impact": string(v.Impact),
		},
	}
	if v.HelpURL != "" {
		rule.HelpURI = pString(v.HelpURL)
	}

	driver.Rules = append(driver.Rules, rule)
	index := len(driver.Rules) - 1
	r.ruleIndex[v.RuleID] = index
	return index
}

// ensureArtifact registers the scanned URL once and returns its index.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureArtifact(url string) int {
	if index, ok := r.artifactIndex[url]; ok {
		return index
	}
	run := r.log.Runs[0]
	run.Artifacts = append(run.Artifacts, &sarif.Artifact{
		Location: &sarif.ArtifactLocation{URI: pString(url)},
	})
	index := len(run.Artifacts) - 1
	r.artifactIndex[url] = index
	return index
}

func resultMessage(v schemas.Violation) string {
	noun := "elements"
	if v.NodeCount == 1 {
		noun = "element"
	}
	return fmt.Sprintf("%s (%d %s affected)", v.Help, v.NodeCount, noun)
}

// createLocations emits one location per affected element. The selector goes
// into a logical location and the markup into the region snippet.
func createLocations(url string, artifact int, v schemas.Violation) []*sarif.Location {
	locations := make([]*sarif.Location, 0, len(v.Nodes))
	for _, node := range v.Nodes {
		selector := strings.Join(node.Target, ", ")
		loc := &sarif.Location{
			PhysicalLocation: &sarif.PhysicalLocation{
				ArtifactLocation: &sarif.ArtifactLocation{URI: pString(url), Index: pInt(artifact)},
			},
			LogicalLocations: []*sarif.LogicalLocation{
				{FullyQualifiedName: pString(selector), Kind: pString("element")},
			},
		}
		if node.HTML != "" {
			loc.PhysicalLocation.Region = &sarif.Region{Snippet: &sarif.ArtifactContent{Text: pString(node.HTML)}}
		}
		if node.FailureSummary != "" {
			loc.Message = &sarif.Message{Text: pString(node.FailureSummary)}
		}
		locations = append(locations, loc)
	}
	return locations
}

// mapImpactToSARIFLevel converts an audit impact to the SARIF level.
func mapImpactToSARIFLevel(impact schemas.Impact) sarif.Level {
	switch impact {
	case schemas.ImpactCritical, schemas.ImpactSerious:
		return sarif.LevelError
	case schemas.ImpactModerate:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}

func pInt(i int) *int {
	return &i
}
