package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

const opAudit = "audit.run"

// presenceCheck verifies the injected engine registered its global.
const presenceCheck = `typeof window.axe === "object" && window.axe !== null && typeof window.axe.run === "function"`

// Evaluator runs JavaScript in a loaded page. It is satisfied by a browser
// session.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// runOptions is passed verbatim to axe.run.
type runOptions struct {
	RunOnly     *runOnly `json:"runOnly,omitempty"`
	ResultTypes []string `json:"resultTypes"`
}

type runOnly struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// engineOutput is the subset of the axe results object returned to Go.
type engineOutput struct {
	EngineVersion string              `json:"engineVersion"`
	Violations    []schemas.Violation `json:"violations"`
}

// Runner injects the audit engine into a page and collects its violations.
type Runner struct {
	source  ScriptSource
	tags    []string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunner creates a runner for the given audit settings.
func NewRunner(cfg config.AuditConfig, source ScriptSource, logger *zap.Logger) *Runner {
	return &Runner{
		source:  source,
		tags:    cfg.Tags,
		timeout: cfg.Timeout,
		logger:  logger.Named("audit_runner"),
		now:     time.Now,
	}
}

// Run audits the document currently loaded in page. url is recorded in the
// result as the audited address.
//
// Injection uses Runtime.evaluate in the page's main world, which is not
// subject to the page's Content Security Policy. A page that still ends up
// without the engine global fails with AUDIT_ERROR/injection.
func (r *Runner) Run(ctx context.Context, page Evaluator, url string) (*schemas.RawAuditResult, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	script, err := r.source.Load(runCtx)
	if err != nil {
		return nil, r.stageError(ctx, runCtx, scanerr.ReasonInjection, fmt.Errorf("loading audit engine: %w", err))
	}

	if err := page.Evaluate(runCtx, script, nil); err != nil {
		return nil, r.stageError(ctx, runCtx, scanerr.ReasonInjection, fmt.Errorf("injecting audit engine: %w", err))
	}
	var present bool
	if err := page.Evaluate(runCtx, presenceCheck, &present); err != nil {
		return nil, r.stageError(ctx, runCtx, scanerr.ReasonInjection, fmt.Errorf("checking audit engine: %w", err))
	}
	if !present {
		return nil, scanerr.Errorf(scanerr.KindAudit, scanerr.ReasonInjection, opAudit,
			"audit engine global is not defined after injection")
	}

	expr, err := r.runExpression()
	if err != nil {
		return nil, scanerr.New(scanerr.KindAudit, scanerr.ReasonExecution, opAudit, err)
	}
	var encoded string
	if err := page.Evaluate(runCtx, expr, &encoded); err != nil {
		return nil, r.stageError(ctx, runCtx, scanerr.ReasonExecution, err)
	}

	var out engineOutput
	if err := json.UnmarshalFromString(encoded, &out); err != nil {
		return nil, scanerr.New(scanerr.KindAudit, scanerr.ReasonDecode, opAudit, err)
	}

	violations := normalize(out.Violations)
	r.logger.Debug("Audit completed.",
		zap.String("url", url),
		zap.String("engine_version", out.EngineVersion),
		zap.Int("violations", len(violations)))

	return &schemas.RawAuditResult{
		URL:           url,
		Timestamp:     r.now().UTC(),
		EngineVersion: out.EngineVersion,
		Violations:    violations,
	}, nil
}

// runExpression builds the script that runs the engine and returns its
// results serialized as a JSON string.
func (r *Runner) runExpression() (string, error) {
	opts := runOptions{ResultTypes: []string{"violations"}}
	if len(r.tags) > 0 {
		opts.RunOnly = &runOnly{Type: "tag", Values: r.tags}
	}
	encoded, err := json.MarshalToString(opts)
	if err != nil {
		return "", fmt.Errorf("encoding engine options: %w", err)
	}
	return fmt.Sprintf(`(async () => {
  const results = await window.axe.run(document, %s);
  return JSON.stringify({
    engineVersion: (results.testEngine && results.testEngine.version) || window.axe.version || "",
    violations: results.violations || []
  });
})()`, encoded), nil
}

// stageError types a failed audit step. Caller cancellation and the audit
// deadline take precedence over the step's own reason.
func (r *Runner) stageError(caller, run context.Context, reason scanerr.Reason, err error) *scanerr.Error {
	if caller.Err() != nil {
		return scanerr.FromContext(caller, scanerr.KindAudit, opAudit)
	}
	if run.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return scanerr.New(scanerr.KindAudit, scanerr.ReasonTimeout, opAudit, err)
	}
	return scanerr.New(scanerr.KindAudit, reason, opAudit, err)
}

// normalize fills the derived fields of decoded violations.
func normalize(in []schemas.Violation) []schemas.Violation {
	out := make([]schemas.Violation, 0, len(in))
	for _, v := range in {
		v.Impact = schemas.ParseImpact(string(v.Impact))
		if v.Nodes == nil {
			v.Nodes = []schemas.ElementDescriptor{}
		}
		v.NodeCount = len(v.Nodes)
		out = append(out, v)
	}
	return out
}
