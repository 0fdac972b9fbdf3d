package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/audit"
	"github.com/xkilldash9x/axescan/internal/browser"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

// -- Fakes --

// fakeLauncher counts live sessions and the most seen at once.
type fakeLauncher struct {
	navErr error

	mu       sync.Mutex
	launched int
	live     int
	peak     int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched++
	l.live++
	if l.live > l.peak {
		l.peak = l.live
	}
	return &fakeSession{id: "fake", launcher: l}, nil
}

func (l *fakeLauncher) counts() (launched, live, peak int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched, l.live, l.peak
}

type fakeSession struct {
	id       string
	launcher *fakeLauncher
	closed   atomic.Bool
	visited  string
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(ctx context.Context, url string, _ browser.NavigateOptions) error {
	s.visited = url
	return s.launcher.navErr
}

func (s *fakeSession) Evaluate(context.Context, string, any) error { return nil }

func (s *fakeSession) Close(context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		s.launcher.mu.Lock()
		s.launcher.live--
		s.launcher.mu.Unlock()
	}
	return nil
}

// fakeAuditor returns a fixed set of violations, or runs hook instead.
type fakeAuditor struct {
	violations []schemas.Violation
	hook       func(ctx context.Context) error
	calls      atomic.Int32
}

func (a *fakeAuditor) Run(ctx context.Context, _ audit.Evaluator, url string) (*schemas.RawAuditResult, error) {
	a.calls.Add(1)
	if a.hook != nil {
		if err := a.hook(ctx); err != nil {
			return nil, err
		}
	}
	return &schemas.RawAuditResult{
		URL:        url,
		Timestamp:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Violations: a.violations,
	}, nil
}

func newTestScanner(t *testing.T, maxSessions int, launcher *fakeLauncher, auditor Auditor) (*Scanner, *browser.Manager) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	bcfg := cfg.Browser()
	bcfg.MaxSessions = maxSessions
	bcfg.QueueTimeout = 10 * time.Second
	logger := zaptest.NewLogger(t)

	manager := browser.NewManager(bcfg, launcher, logger)
	s, err := New(cfg.Network(), manager, auditor, logger)
	require.NoError(t, err)
	s.newID = func() string { return "scan-test" }
	return s, manager
}

func sampleViolations() []schemas.Violation {
	return []schemas.Violation{
		{RuleID: "color-contrast", Impact: schemas.ImpactSerious, NodeCount: 3},
		{RuleID: "image-alt", Impact: schemas.ImpactCritical, NodeCount: 1},
		{RuleID: "region", Impact: schemas.ImpactModerate, NodeCount: 7},
	}
}

// -- Tests --

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(config.NetworkConfig{}, nil, &fakeAuditor{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestScan_Success(t *testing.T) {
	defer goleak.VerifyNone(t)
	launcher := &fakeLauncher{}
	auditor := &fakeAuditor{violations: sampleViolations()}
	s, manager := newTestScanner(t, 2, launcher, auditor)

	report, err := s.Scan(context.Background(), "https://example.com/page")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/page", report.URL)
	assert.Equal(t, 3, report.Summary.TotalViolations)
	require.Len(t, report.UrgentIssues, 2)
	assert.Equal(t, "image-alt", report.UrgentIssues[0].RuleID)

	launched, live, _ := launcher.counts()
	assert.Equal(t, 1, launched)
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, manager.ActiveSessions())
}

func TestScan_InvalidInputNeverAcquires(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, raw := range []string{"", "   ", "ftp://example.com", "https://", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			launcher := &fakeLauncher{}
			s, _ := newTestScanner(t, 1, launcher, &fakeAuditor{})

			_, err := s.Scan(context.Background(), raw)
			require.Error(t, err)
			assert.Equal(t, scanerr.KindInvalidInput, scanerr.KindOf(err))

			launched, _, _ := launcher.counts()
			assert.Zero(t, launched)
		})
	}
}

func TestScan_NavigationTimeoutReleasesSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	launcher := &fakeLauncher{
		navErr: scanerr.New(scanerr.KindNavigation, scanerr.ReasonTimeout, "browser.navigate", context.DeadlineExceeded),
	}
	auditor := &fakeAuditor{}
	s, manager := newTestScanner(t, 1, launcher, auditor)

	report, err := s.Scan(context.Background(), "https://slow.example")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, scanerr.KindNavigation, scanerr.KindOf(err))
	assert.Equal(t, scanerr.ReasonTimeout, scanerr.ReasonOf(err))

	var se *scanerr.Error
	require.ErrorAs(t, err, &se)
	assert.Positive(t, se.Elapsed)

	assert.Zero(t, auditor.calls.Load(), "audit must not run after a failed navigation")
	assert.Equal(t, 0, manager.ActiveSessions())
	_, live, _ := launcher.counts()
	assert.Zero(t, live)
}

func TestScan_AuditErrors(t *testing.T) {
	t.Run("typed errors pass through", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		auditor := &fakeAuditor{hook: func(context.Context) error {
			return scanerr.Errorf(scanerr.KindAudit, scanerr.ReasonInjection, "audit.run", "engine missing")
		}}
		s, manager := newTestScanner(t, 1, &fakeLauncher{}, auditor)

		_, err := s.Scan(context.Background(), "https://example.com")
		assert.Equal(t, scanerr.KindAudit, scanerr.KindOf(err))
		assert.Equal(t, scanerr.ReasonInjection, scanerr.ReasonOf(err))
		assert.Equal(t, 0, manager.ActiveSessions())
	})

	t.Run("untyped errors take the stage kind", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		cause := errors.New("boom")
		auditor := &fakeAuditor{hook: func(context.Context) error { return cause }}
		s, _ := newTestScanner(t, 1, &fakeLauncher{}, auditor)

		_, err := s.Scan(context.Background(), "https://example.com")
		assert.Equal(t, scanerr.KindAudit, scanerr.KindOf(err))
		assert.Equal(t, scanerr.ReasonUnknown, scanerr.ReasonOf(err))
		assert.ErrorIs(t, err, cause)
	})
}

func TestScan_CallerCancellationReleasesSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := make(chan struct{})
	auditor := &fakeAuditor{hook: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	s, manager := newTestScanner(t, 1, &fakeLauncher{}, auditor)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := s.Scan(ctx, "https://example.com")
	assert.Equal(t, scanerr.KindCanceled, scanerr.KindOf(err))
	assert.Equal(t, 0, manager.ActiveSessions())
}

func TestScan_PanicReleasesSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	auditor := &fakeAuditor{hook: func(context.Context) error { panic("engine exploded") }}
	launcher := &fakeLauncher{}
	s, manager := newTestScanner(t, 1, launcher, auditor)

	assert.Panics(t, func() {
		_, _ = s.Scan(context.Background(), "https://example.com")
	})
	assert.Equal(t, 0, manager.ActiveSessions())
	_, live, _ := launcher.counts()
	assert.Zero(t, live)
}

func TestScan_ConcurrencyIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)
	const limit = 2
	launcher := &fakeLauncher{}
	auditor := &fakeAuditor{
		violations: sampleViolations(),
		hook: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}
	s, manager := newTestScanner(t, limit, launcher, auditor)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Scan(context.Background(), "https://example.com"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected scan error: %v", err)
	}
	launched, live, peak := launcher.counts()
	assert.Equal(t, 12, launched)
	assert.Zero(t, live)
	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, 0, manager.ActiveSessions())
}
