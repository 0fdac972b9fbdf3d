package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

const engineFixture = "window.axe = { run: function () {} };"

type staticSource struct {
	script string
	err    error
}

func (s staticSource) Load(context.Context) (string, error) { return s.script, s.err }

// fakePage answers the three evaluations a run performs.
type fakePage struct {
	injectErr  error
	axeMissing bool
	runResult  string
	runErr     error
	blockRun   bool

	expressions []string
}

func (p *fakePage) Evaluate(ctx context.Context, expr string, out any) error {
	p.expressions = append(p.expressions, expr)
	switch {
	case expr == engineFixture:
		return p.injectErr
	case expr == presenceCheck:
		*out.(*bool) = !p.axeMissing
		return nil
	case strings.Contains(expr, "window.axe.run(document"):
		if p.blockRun {
			<-ctx.Done()
			return ctx.Err()
		}
		if p.runErr != nil {
			return p.runErr
		}
		*out.(*string) = p.runResult
		return nil
	}
	return errors.New("unexpected expression")
}

const axeOutput = `{
  "engineVersion": "4.10.2",
  "violations": [
    {
      "id": "image-alt",
      "description": "Ensures <img> elements have alternate text",
      "help": "Images must have alternate text",
      "helpUrl": "https://dequeuniversity.com/rules/axe/4.10/image-alt",
      "impact": "critical",
      "tags": ["wcag2a", "wcag111"],
      "nodes": [
        {"target": ["img.hero"], "html": "<img class=\"hero\">", "impact": "critical", "failureSummary": "Fix any of the following"},
        {"target": [["iframe#ads", "img"]], "html": "<img>", "impact": "critical"}
      ]
    },
    {
      "id": "region",
      "description": "Ensures all page content is contained by landmarks",
      "help": "All page content should be contained by landmarks",
      "helpUrl": "https://dequeuniversity.com/rules/axe/4.10/region",
      "impact": null,
      "nodes": [{"target": ["body > div"], "html": "<div>", "impact": null}]
    }
  ]
}`

func newTestRunner(t *testing.T, source ScriptSource) *Runner {
	cfg := config.NewDefaultConfig().Audit()
	cfg.Timeout = 2 * time.Second
	r := NewRunner(cfg, source, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }
	return r
}

func TestRunner_Run(t *testing.T) {
	r := newTestRunner(t, staticSource{script: engineFixture})
	page := &fakePage{runResult: axeOutput}

	raw, err := r.Run(context.Background(), page, "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", raw.URL)
	assert.Equal(t, "4.10.2", raw.EngineVersion)
	assert.Equal(t, time.UTC, raw.Timestamp.Location())
	assert.Equal(t, 8, raw.Timestamp.Hour())
	require.Len(t, raw.Violations, 2)

	alt := raw.Violations[0]
	assert.Equal(t, "image-alt", alt.RuleID)
	assert.Equal(t, schemas.ImpactCritical, alt.Impact)
	assert.Equal(t, 2, alt.NodeCount)
	assert.Equal(t, []string{"iframe#ads >>> img"}, alt.Nodes[1].Target)
	assert.Equal(t, []string{"wcag2a", "wcag111"}, alt.Tags)

	region := raw.Violations[1]
	assert.Equal(t, schemas.Impact(""), region.Impact)
	assert.Equal(t, 1, region.NodeCount)

	require.Len(t, page.expressions, 3)
	assert.Contains(t, page.expressions[2], `"runOnly":{"type":"tag","values":["wcag2a","wcag2aa","wcag21a","wcag21aa","best-practice"]}`)
	assert.Contains(t, page.expressions[2], `"resultTypes":["violations"]`)
}

func TestRunner_NoTagsRunsAllRules(t *testing.T) {
	r := newTestRunner(t, staticSource{script: engineFixture})
	r.tags = nil
	page := &fakePage{runResult: `{"violations":[]}`}

	raw, err := r.Run(context.Background(), page, "https://example.com")
	require.NoError(t, err)
	assert.NotNil(t, raw.Violations)
	assert.Empty(t, raw.Violations)
	assert.NotContains(t, page.expressions[2], "runOnly")
}

func TestRunner_Failures(t *testing.T) {
	tests := []struct {
		name       string
		source     ScriptSource
		page       *fakePage
		wantKind   scanerr.Kind
		wantReason scanerr.Reason
	}{
		{
			name:       "engine source unavailable",
			source:     staticSource{err: errors.New("404 Not Found")},
			page:       &fakePage{},
			wantKind:   scanerr.KindAudit,
			wantReason: scanerr.ReasonInjection,
		},
		{
			name:       "injection throws",
			source:     staticSource{script: engineFixture},
			page:       &fakePage{injectErr: errors.New("exception \"Uncaught SyntaxError\"")},
			wantKind:   scanerr.KindAudit,
			wantReason: scanerr.ReasonInjection,
		},
		{
			name:       "engine global missing after injection",
			source:     staticSource{script: engineFixture},
			page:       &fakePage{axeMissing: true},
			wantKind:   scanerr.KindAudit,
			wantReason: scanerr.ReasonInjection,
		},
		{
			name:       "engine throws while running",
			source:     staticSource{script: engineFixture},
			page:       &fakePage{runErr: errors.New("exception \"Uncaught (in promise)\"")},
			wantKind:   scanerr.KindAudit,
			wantReason: scanerr.ReasonExecution,
		},
		{
			name:       "undecodable output",
			source:     staticSource{script: engineFixture},
			page:       &fakePage{runResult: `{"violations": "nope"}`},
			wantKind:   scanerr.KindAudit,
			wantReason: scanerr.ReasonDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.source)
			raw, err := r.Run(context.Background(), tt.page, "https://example.com")
			require.Error(t, err)
			assert.Nil(t, raw)
			assert.Equal(t, tt.wantKind, scanerr.KindOf(err))
			assert.Equal(t, tt.wantReason, scanerr.ReasonOf(err))
		})
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := newTestRunner(t, staticSource{script: engineFixture})
	r.timeout = 20 * time.Millisecond

	_, err := r.Run(context.Background(), &fakePage{blockRun: true}, "https://example.com")
	assert.Equal(t, scanerr.KindAudit, scanerr.KindOf(err))
	assert.Equal(t, scanerr.ReasonTimeout, scanerr.ReasonOf(err))
}

func TestRunner_CallerCanceled(t *testing.T) {
	r := newTestRunner(t, staticSource{script: engineFixture})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := r.Run(ctx, &fakePage{blockRun: true}, "https://example.com")
	assert.Equal(t, scanerr.KindCanceled, scanerr.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
