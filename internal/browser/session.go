// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

const (
	opLaunch   = "browser.launch"
	opNavigate = "browser.navigate"
	opEvaluate = "browser.evaluate"
	opClose    = "browser.close"
)

// Session is one isolated browser process with a single page.
type Session interface {
	// ID identifies the session in logs.
	ID() string
	// Navigate loads url and waits for the configured load signal.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	// Evaluate runs expression in the page's main world, awaiting a returned
	// promise, and decodes the result as JSON into out. A nil out discards it.
	Evaluate(ctx context.Context, expression string, out any) error
	// Close terminates the page and the browser process.
	Close(ctx context.Context) error
}

// NavigateOptions bound a single page load.
type NavigateOptions struct {
	Timeout      time.Duration
	WaitUntil    string
	PostLoadWait time.Duration
}

// NavigateOptionsFrom builds the page load options from network settings.
func NavigateOptionsFrom(cfg config.NetworkConfig) NavigateOptions {
	return NavigateOptions{
		Timeout:      cfg.NavigationTimeout,
		WaitUntil:    cfg.WaitUntil,
		PostLoadWait: cfg.PostLoadWait,
	}
}

// chromeSession is a Session backed by a dedicated Chrome process.
type chromeSession struct {
	id     string
	logger *zap.Logger

	allocCancel context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc
	profileDir  string

	mu       sync.Mutex
	isClosed bool
}

func (s *chromeSession) ID() string { return s.id }

// runContext derives a context for one CDP action from the page context. It
// expires at the earlier of the caller's deadline and timeout, and is
// canceled when the caller is.
func (s *chromeSession) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, hasDeadline := ctx.Deadline()
	if timeout > 0 {
		if d := time.Now().Add(timeout); !hasDeadline || d.Before(deadline) {
			deadline, hasDeadline = d, true
		}
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if hasDeadline {
		runCtx, cancel = context.WithDeadline(s.pageCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.pageCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	runCtx, cancel := s.runContext(ctx, opts.Timeout)
	defer cancel()

	var idle <-chan struct{}
	if opts.WaitUntil == config.WaitUntilNetworkIdle {
		ch, err := s.watchNetworkIdle(runCtx)
		if err != nil {
			return navigationError(ctx, runCtx, err)
		}
		idle = ch
	}

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return navigationError(ctx, runCtx, err)
	}
	if resp != nil && resp.Status >= 400 {
		navErr := scanerr.Errorf(scanerr.KindNavigation, scanerr.ReasonHTTPStatus, opNavigate,
			"main document returned %d %s", resp.Status, resp.StatusText)
		navErr.Status = int(resp.Status)
		return navErr
	}

	if idle != nil {
		select {
		case <-idle:
		case <-runCtx.Done():
			return navigationError(ctx, runCtx, runCtx.Err())
		}
	}

	if err := chromedp.Run(runCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return navigationError(ctx, runCtx, err)
	}

	if opts.PostLoadWait > 0 {
		select {
		case <-time.After(opts.PostLoadWait):
		case <-runCtx.Done():
			return navigationError(ctx, runCtx, runCtx.Err())
		}
	}
	return nil
}

// watchNetworkIdle enables lifecycle events and returns a channel closed once
// the main frame reports networkIdle for a document loaded after this call.
func (s *chromeSession) watchNetworkIdle(ctx context.Context) (<-chan struct{}, error) {
	var mainFrame cdp.FrameID
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			mainFrame = tree.Frame.ID
			return nil
		}),
		page.SetLifecycleEventsEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("enabling lifecycle events: %w", err)
	}

	idle := make(chan struct{})
	var (
		once       sync.Once
		mu         sync.Mutex
		documentUp bool
	)
	chromedp.ListenTarget(ctx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != mainFrame {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Name {
		case "init":
			// A new document started loading; earlier idle signals are stale.
			documentUp = true
		case "networkIdle":
			if documentUp {
				once.Do(func() { close(idle) })
			}
		}
	})
	return idle, nil
}

func (s *chromeSession) Evaluate(ctx context.Context, expression string, out any) error {
	runCtx, cancel := s.runContext(ctx, 0)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.Evaluate(expression, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
}

// Close safely terminates the page, kills the browser process and removes the
// profile directory. It is safe to call more than once.
func (s *chromeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.pageCancel()

	// Canceling the allocator blocks until the process has exited.
	exited := make(chan struct{})
	go func() {
		s.allocCancel()
		close(exited)
	}()

	var closeErr error
	select {
	case <-exited:
		s.logger.Debug("Browser process exited.")
	case <-ctx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser process to exit.", zap.Error(ctx.Err()))
		closeErr = scanerr.New(scanerr.KindLaunch, scanerr.ReasonTimeout, opClose, ctx.Err())
	}

	if s.profileDir != "" {
		if err := os.RemoveAll(s.profileDir); err != nil {
			s.logger.Warn("Failed to remove browser profile directory.", zap.String("dir", s.profileDir), zap.Error(err))
		}
	}
	return closeErr
}
