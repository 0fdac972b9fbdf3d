// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

// Launcher starts one isolated browser session. The session must outlive ctx,
// which only bounds the launch itself.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// baseFlags keep Chrome stable inside containers and small hosts.
var baseFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-accelerated-2d-canvas",
	"no-first-run",
	"no-zygote",
	"disable-gpu",
}

// allocatorFlags returns the Chrome command line flags for cfg, keyed by flag
// name without the leading dashes.
func allocatorFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{"headless": cfg.Headless}
	for _, flag := range baseFlags {
		flags[flag] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}

	// Custom arguments from the config file, e.g. "--lang=en-US".
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions assembles the allocator options for one session
// using a private profile in userDataDir.
func DefaultAllocatorOptions(cfg config.BrowserConfig, userDataDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}
	return opts
}

// ChromeLauncher launches a dedicated headless Chrome process per session.
type ChromeLauncher struct {
	cfg     config.BrowserConfig
	headers map[string]string
	logger  *zap.Logger
}

// NewChromeLauncher creates a launcher. headers are sent with every request
// the page makes.
func NewChromeLauncher(cfg config.BrowserConfig, headers map[string]string, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, headers: headers, logger: logger.Named("chrome_launcher")}
}

// Launch starts the browser process and opens its page. The launch is bounded
// by ctx; the returned session is not.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	id := uuid.New().String()
	logger := l.logger.With(zap.String("session_id", id[:8]))

	profileDir, err := os.MkdirTemp("", "axescan-profile-")
	if err != nil {
		return nil, scanerr.New(scanerr.KindLaunch, scanerr.ReasonStart, opLaunch, err)
	}

	// The process is parented to a background context so it survives the
	// launch deadline; it is killed through allocCancel.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg, profileDir)...)
	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(logger.Sugar().Debugf)}
	if l.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	pageCtx, pageCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	session := &chromeSession{
		id:          id,
		logger:      logger,
		allocCancel: allocCancel,
		pageCtx:     pageCtx,
		pageCancel:  pageCancel,
		profileDir:  profileDir,
	}

	started := make(chan error, 1)
	go func() {
		// The first Run on a fresh context starts the process and opens the tab.
		started <- chromedp.Run(pageCtx, l.initActions()...)
	}()

	select {
	case err := <-started:
		if err != nil {
			session.Close(context.Background())
			return nil, scanerr.New(scanerr.KindLaunch, scanerr.ReasonStart, opLaunch, err)
		}
	case <-ctx.Done():
		session.Close(context.Background())
		<-started
		return nil, scanerr.FromContext(ctx, scanerr.KindLaunch, opLaunch)
	}

	logger.Debug("Browser session launched.", zap.String("profile_dir", profileDir))
	return session, nil
}

func (l *ChromeLauncher) initActions() []chromedp.Action {
	if len(l.headers) == 0 {
		return nil
	}
	headers := make(network.Headers, len(l.headers))
	for k, v := range l.headers {
		headers[k] = v
	}
	return []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
	}
}
