// Package scanner runs one accessibility scan end to end: it validates the
// target, leases a browser session, loads the page, audits it and classifies
// the result.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/audit"
	"github.com/xkilldash9x/axescan/internal/browser"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/observability"
	"github.com/xkilldash9x/axescan/internal/results"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

// Stage names used for logs, spans and the stage duration metric.
const (
	stageValidate = "validate"
	stageAcquire  = "acquire"
	stageNavigate = "navigate"
	stageAudit    = "audit"
	stageRelease  = "release"
	stageClassify = "classify"
)

// SessionProvider hands out exclusive browser sessions.
type SessionProvider interface {
	Acquire(ctx context.Context) (*browser.Lease, error)
}

// Auditor runs the audit engine against a loaded page.
type Auditor interface {
	Run(ctx context.Context, page audit.Evaluator, url string) (*schemas.RawAuditResult, error)
}

// Scanner performs single-attempt scans. It holds no per-scan state and is
// safe for concurrent use; concurrency is bounded by the session provider.
type Scanner struct {
	logger   *zap.Logger
	sessions SessionProvider
	auditor  Auditor
	navOpts  browser.NavigateOptions
	newID    func() string
}

// New creates a Scanner. Every dependency is required.
func New(network config.NetworkConfig, sessions SessionProvider, auditor Auditor, logger *zap.Logger) (*Scanner, error) {
	if sessions == nil || auditor == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize scanner with nil dependencies")
	}
	return &Scanner{
		logger:   logger.Named("scanner"),
		sessions: sessions,
		auditor:  auditor,
		navOpts:  browser.NavigateOptionsFrom(network),
		newID:    uuid.NewString,
	}, nil
}

// Scan audits rawURL and returns its classified report.
//
// There is exactly one attempt. The session is released on every exit path,
// including caller cancellation and panics in a stage. Failures are
// *scanerr.Error values and are logged once, by the stage that produced them.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (report *schemas.Report, err error) {
	scanID := s.newID()
	logger := s.logger.With(zap.String("scan_id", scanID), zap.String("url", rawURL))

	ctx, span := observability.StartSpan(ctx, "scan",
		trace.WithAttributes(observability.AttrScanID.String(scanID), observability.AttrScanURL.String(rawURL)))
	start := time.Now()
	defer func() {
		s.finish(span, logger, start, report, err)
	}()

	var target string
	err = s.stage(ctx, logger, stageValidate, func(context.Context) error {
		var verr error
		target, verr = ValidateURL(rawURL)
		return verr
	})
	if err != nil {
		return nil, err
	}

	var lease *browser.Lease
	err = s.stage(ctx, logger, stageAcquire, func(ctx context.Context) error {
		var aerr error
		lease, aerr = s.sessions.Acquire(ctx)
		return aerr
	})
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	logger = logger.With(zap.String("session_id", lease.ID()))

	err = s.stage(ctx, logger, stageNavigate, func(ctx context.Context) error {
		return lease.Navigate(ctx, target, s.navOpts)
	})
	if err != nil {
		return nil, err
	}

	var raw *schemas.RawAuditResult
	err = s.stage(ctx, logger, stageAudit, func(ctx context.Context) error {
		var aerr error
		raw, aerr = s.auditor.Run(ctx, lease, target)
		return aerr
	})
	if err != nil {
		return nil, err
	}

	// The report does not depend on the page, so the slot is returned before
	// classification. A failed close is logged but does not fail the scan.
	_ = s.stage(ctx, logger, stageRelease, func(context.Context) error {
		if rerr := lease.Release(); rerr != nil {
			logger.Warn("Session release reported an error.", zap.Error(rerr))
		}
		return nil
	})

	_ = s.stage(ctx, logger, stageClassify, func(context.Context) error {
		report = results.Classify(raw)
		return nil
	})
	return report, nil
}

// stage runs fn inside its own span, records its duration and types and logs
// any error it returns.
func (s *Scanner) stage(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "scan."+name)
	start := time.Now()

	err := fn(ctx)
	elapsed := time.Since(start)
	observability.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err == nil {
		observability.EndSpan(span, nil)
		return nil
	}

	se := typed(name, err)
	if se.Elapsed == 0 {
		se.Elapsed = elapsed
	}
	logger.Error("Scan stage failed.",
		zap.String("stage", name),
		zap.String("kind", string(se.Kind)),
		zap.String("reason", string(se.Reason)),
		zap.Duration("elapsed", se.Elapsed),
		zap.Error(se.Err))
	observability.EndSpan(span, se,
		observability.AttrErrorKind.String(string(se.Kind)),
		observability.AttrReason.String(string(se.Reason)))
	return se
}

// typed returns err as a scan error, assigning the stage's kind to errors
// that carry none.
func typed(stage string, err error) *scanerr.Error {
	var se *scanerr.Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) {
		return scanerr.New(scanerr.KindCanceled, scanerr.ReasonNone, "scan."+stage, err)
	}
	kind := scanerr.KindAudit
	switch stage {
	case stageValidate:
		kind = scanerr.KindInvalidInput
	case stageAcquire:
		kind = scanerr.KindLaunch
	case stageNavigate:
		kind = scanerr.KindNavigation
	}
	return scanerr.New(kind, scanerr.ReasonUnknown, "scan."+stage, err)
}

// finish records the scan outcome on the root span and in metrics.
func (s *Scanner) finish(span trace.Span, logger *zap.Logger, start time.Time, report *schemas.Report, err error) {
	elapsed := time.Since(start)
	if err == nil && report == nil {
		// A stage panicked; the panic continues past this call.
		observability.ScansTotal.WithLabelValues("failure", "PANIC").Inc()
		observability.EndSpan(span, errors.New("scan panicked"))
		return
	}
	if err != nil {
		kind := string(scanerr.KindOf(err))
		observability.ScansTotal.WithLabelValues("failure", kind).Inc()
		observability.EndSpan(span, err, observability.AttrErrorKind.String(kind))
		return
	}

	summary := report.Summary
	observability.ScansTotal.WithLabelValues("success", "").Inc()
	for impact, n := range map[string]int{
		string(schemas.ImpactCritical): summary.CriticalCount,
		string(schemas.ImpactSerious):  summary.SeriousCount,
		string(schemas.ImpactModerate): summary.ModerateCount,
		string(schemas.ImpactMinor):    summary.MinorCount,
		"other":                        summary.OtherCount,
	} {
		observability.ViolationsFound.WithLabelValues(impact).Observe(float64(n))
	}
	observability.EndSpan(span, nil, observability.AttrViolations.Int(summary.TotalViolations))
	logger.Info("Scan completed.",
		zap.Int("violations", summary.TotalViolations),
		zap.Int("critical", summary.CriticalCount),
		zap.Int("serious", summary.SeriousCount),
		zap.Duration("elapsed", elapsed))
}
