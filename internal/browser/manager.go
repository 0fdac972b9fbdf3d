// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/observability"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

const (
	opAcquire = "browser.acquire"

	defaultCloseTimeout  = 5 * time.Second
	defaultLaunchTimeout = 30 * time.Second
)

// ErrShuttingDown is wrapped by Acquire once Shutdown has begun.
var ErrShuttingDown = errors.New("browser manager is shutting down")

// Manager bounds the number of live browser sessions and owns their
// lifecycle. Every session lives in its own process with its own profile.
type Manager struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	launcher Launcher

	sem    *semaphore.Weighted
	active atomic.Int64

	// wg tracks leases that have not been released yet.
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closing bool
}

// NewManager creates a manager admitting at most cfg.MaxSessions concurrent
// sessions, each started by launcher.
func NewManager(cfg config.BrowserConfig, launcher Launcher, logger *zap.Logger) *Manager {
	limit := cfg.MaxSessions
	if limit < 1 {
		limit = 1
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		launcher: launcher,
		sem:      semaphore.NewWeighted(int64(limit)),
	}
}

// Acquire reserves a session slot and launches a fresh session in it.
//
// With the queue policy a caller waits up to the configured queue timeout for
// a free slot; with the reject policy it fails immediately. Either way an
// unavailable slot is reported as RESOURCE_EXHAUSTED. A launch failure returns
// the slot before reporting LAUNCH_ERROR. The caller must Release the lease.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		return nil, scanerr.New(scanerr.KindResourceExhausted, scanerr.ReasonNone, opAcquire, ErrShuttingDown)
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	if err := m.reserve(ctx); err != nil {
		m.wg.Done()
		return nil, err
	}

	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer cancel()

	start := time.Now()
	session, err := m.launcher.Launch(launchCtx)
	if err != nil {
		m.sem.Release(1)
		m.wg.Done()
		return nil, m.launchError(ctx, launchCtx, err).WithElapsed(time.Since(start))
	}

	m.active.Add(1)
	observability.ActiveSessions.Inc()
	m.logger.Debug("Session acquired.",
		zap.String("session_id", session.ID()),
		zap.Int64("active_sessions", m.active.Load()),
		zap.Duration("launch_time", time.Since(start)))

	return &Lease{Session: session, manager: m}, nil
}

// reserve takes one semaphore slot according to the queue policy.
func (m *Manager) reserve(ctx context.Context) error {
	if m.cfg.QueuePolicy == config.QueuePolicyReject {
		if !m.sem.TryAcquire(1) {
			observability.SessionsRejected.Inc()
			return scanerr.Errorf(scanerr.KindResourceExhausted, scanerr.ReasonNone, opAcquire,
				"all %d browser sessions are busy", m.cfg.MaxSessions)
		}
		return nil
	}

	waitCtx := ctx
	if m.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.QueueTimeout)
		defer cancel()
	}

	start := time.Now()
	err := m.sem.Acquire(waitCtx, 1)
	observability.SessionAcquireWait.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return scanerr.New(scanerr.KindCanceled, scanerr.ReasonNone, opAcquire, ctx.Err())
	}
	observability.SessionsRejected.Inc()
	return scanerr.New(scanerr.KindResourceExhausted, scanerr.ReasonTimeout, opAcquire, err).WithElapsed(time.Since(start))
}

// launchError types a launch failure. Launchers may already return scan
// errors; anything else is classified from the contexts.
func (m *Manager) launchError(caller, launch context.Context, err error) *scanerr.Error {
	if caller.Err() != nil {
		return scanerr.FromContext(caller, scanerr.KindLaunch, opLaunch)
	}
	var se *scanerr.Error
	if errors.As(err, &se) {
		return se
	}
	if launch.Err() != nil {
		return scanerr.New(scanerr.KindLaunch, scanerr.ReasonTimeout, opLaunch, err)
	}
	return scanerr.New(scanerr.KindLaunch, scanerr.ReasonStart, opLaunch, err)
}

// release closes a session and returns its slot. Called once per lease.
func (m *Manager) release(session Session) error {
	defer m.wg.Done()
	defer m.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
	defer cancel()

	err := session.Close(ctx)
	m.active.Add(-1)
	observability.ActiveSessions.Dec()
	if err != nil {
		m.logger.Warn("Session did not close cleanly.", zap.String("session_id", session.ID()), zap.Error(err))
	} else {
		m.logger.Debug("Session released.", zap.String("session_id", session.ID()), zap.Int64("active_sessions", m.active.Load()))
	}
	return err
}

// ActiveSessions reports the number of sessions acquired and not yet released.
func (m *Manager) ActiveSessions() int {
	return int(m.active.Load())
}

// Shutdown refuses new acquisitions and waits for outstanding leases to be
// released, respecting the caller's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...",
		zap.Int("active_sessions", m.ActiveSessions()))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded with sessions still active.",
			zap.Int("active_sessions", m.ActiveSessions()), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Lease is exclusive ownership of one session. Release it exactly once on
// every exit path, typically with defer right after a successful Acquire.
type Lease struct {
	Session
	manager *Manager
	once    sync.Once
	err     error
}

// Release closes the session, kills its process and returns the slot to the
// manager. Calls after the first are no-ops returning the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.manager.release(l.Session)
	})
	return l.err
}
