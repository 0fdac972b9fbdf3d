package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
)

// MarkdownReporter renders reports as human-readable Markdown.
type MarkdownReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	logger *zap.Logger
}

// NewMarkdownReporter creates a reporter that owns writer.
func NewMarkdownReporter(writer io.WriteCloser, logger *zap.Logger) *MarkdownReporter {
	return &MarkdownReporter{writer: writer, logger: logger.Named("markdown_reporter")}
}

func (r *MarkdownReporter) Write(report *schemas.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := markdown.NewMarkdown(r.writer)
	writeHeader(md, report)
	writeSummary(md, report.Summary)
	writeTopIssues(md, report.TopIssues)
	writeActionable(md, report.ActionableItems)
	writeUrgentDetails(md, report.UrgentIssues)
	md.HorizontalRule()
	md.PlainText("")

	if err := md.Build(); err != nil {
		return fmt.Errorf("failed to render markdown report: %w", err)
	}
	return nil
}

func (r *MarkdownReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}

func writeHeader(md *markdown.Markdown, report *schemas.Report) {
	md.H1("Accessibility Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"URL", "`" + report.URL + "`"},
			{"Scanned", report.Timestamp.Format("2006-01-02 15:04:05 MST")},
			{"Violations", strconv.Itoa(report.Summary.TotalViolations)},
		},
	})
	md.PlainText("")
}

func writeSummary(md *markdown.Markdown, s schemas.Summary) {
	md.H2("Summary")
	md.PlainText("")

	rows := [][]string{
		{"Critical", strconv.Itoa(s.CriticalCount)},
		{"Serious", strconv.Itoa(s.SeriousCount)},
		{"Moderate", strconv.Itoa(s.ModerateCount)},
		{"Minor", strconv.Itoa(s.MinorCount)},
	}
	if s.OtherCount > 0 {
		rows = append(rows, []string{"Other", strconv.Itoa(s.OtherCount)})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(s.TotalViolations) + "**"})
	md.Table(markdown.TableSet{Header: []string{"Impact", "Count"}, Rows: rows})
	md.PlainText("")

	if s.TotalViolations > 0 {
		chart := piechart.NewPieChart(io.Discard,
			piechart.WithTitle("Violations by Impact"),
			piechart.WithShowData(true))
		for _, slice := range []struct {
			label string
			n     int
		}{
			{"Critical", s.CriticalCount},
			{"Serious", s.SeriousCount},
			{"Moderate", s.ModerateCount},
			{"Minor", s.MinorCount},
			{"Other", s.OtherCount},
		} {
			if slice.n > 0 {
				chart.LabelAndIntValue(slice.label, uint64(slice.n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case s.CriticalCount > 0:
		md.Cautionf("%d critical violation(s) block some users from the page entirely.", s.CriticalCount)
	case s.SeriousCount > 0:
		md.Warningf("%d serious violation(s) make the page hard to use with assistive technology.", s.SeriousCount)
	case s.TotalViolations > 0:
		md.Note("Only moderate and minor violations were found.")
	default:
		md.Tip("No violations were found by the enabled rules.")
	}
	md.PlainText("")
}

func writeTopIssues(md *markdown.Markdown, issues []schemas.TopIssue) {
	if len(issues) == 0 {
		return
	}
	md.H2("Top Issues")
	md.PlainText("")
	rows := make([][]string, len(issues))
	for i, issue := range issues {
		rows[i] = []string{
			"`" + issue.Type + "`",
			impactLabel(issue.Impact),
			strconv.Itoa(issue.Count),
			strconv.Itoa(issue.ElementsAffected),
			cell(issue.Description),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Rule", "Impact", "Occurrences", "Elements", "Description"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeActionable(md *markdown.Markdown, items []schemas.ActionableItem) {
	if len(items) == 0 {
		return
	}
	md.H2("Actionable Items")
	md.PlainText("")
	rows := make([][]string, len(items))
	for i, item := range items {
		solution := cell(item.Solution)
		if item.HelpURL != "" {
			solution = fmt.Sprintf("%s ([guide](%s))", solution, item.HelpURL)
		}
		rows[i] = []string{
			impactLabel(item.Priority),
			cell(item.Issue),
			solution,
			strconv.Itoa(item.ElementsAffected),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Priority", "Issue", "Solution", "Elements"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeUrgentDetails lists the affected selectors of each urgent violation in
// a collapsible block.
func writeUrgentDetails(md *markdown.Markdown, urgent []schemas.Violation) {
	if len(urgent) == 0 {
		return
	}
	md.H2("Urgent Violations")
	md.PlainText("")
	for _, v := range urgent {
		var b strings.Builder
		for _, node := range v.Nodes {
			fmt.Fprintf(&b, "- `%s`\n", strings.Join(node.Target, ", "))
		}
		md.Details(fmt.Sprintf("%s (%s, %d elements)", v.RuleID, v.Impact, v.NodeCount), b.String())
	}
	md.PlainText("")
}

func impactLabel(i schemas.Impact) string {
	if i == "" {
		return "-"
	}
	return string(i)
}

// cell makes s safe inside a table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
