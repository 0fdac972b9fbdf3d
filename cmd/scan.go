package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/observability"
	"github.com/xkilldash9x/axescan/internal/reporting"
	"github.com/xkilldash9x/axescan/internal/scanner"
)

// scanOptions holds the scan command's flag values.
type scanOptions struct {
	format      string
	output      string
	maxSessions int
	timeout     time.Duration
	waitUntil   string
	tags        []string
	chromePath  string
}

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{}

	scanCmd := &cobra.Command{
		Use:   "scan <url> [url...]",
		Short: "Scan one or more pages and write the reports",
		Long: `Scan loads each URL in a fresh headless browser, runs the accessibility
audit and writes the classified report. URLs without a scheme are scanned
over https. Scans run concurrently up to browser.max_sessions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyScanOverrides(cmd, cfg, opts); err != nil {
				return err
			}

			logger := observability.GetLogger()
			reporter, err := reporting.New(opts.format, opts.output, Version, logger)
			if err != nil {
				return err
			}

			app, err := buildComponents(cfg, logger)
			if err != nil {
				reporter.Close()
				return err
			}

			scanErr := runScans(ctx, app.scanner, reporter, args, cfg.Browser().MaxSessions, logger)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Browser().CloseTimeout+5*time.Second)
			defer cancel()
			if err := app.sessions.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Browser sessions did not shut down cleanly.", zap.Error(err))
			}

			if err := reporter.Close(); err != nil {
				return errors.Join(scanErr, fmt.Errorf("failed to finalize report: %w", err))
			}
			return scanErr
		},
	}

	flags := scanCmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", reporting.FormatJSON, "output format: json, markdown or sarif")
	flags.StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	flags.IntVar(&opts.maxSessions, "max-sessions", 4, "maximum concurrent browser sessions")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "page navigation timeout")
	flags.StringVar(&opts.waitUntil, "wait-until", config.WaitUntilNetworkIdle, "load signal to wait for: load or networkidle")
	flags.StringSliceVar(&opts.tags, "tags", nil, "audit rule tags to run (default from audit.tags)")
	flags.StringVar(&opts.chromePath, "chrome-path", "", "path to the Chrome executable")
	return scanCmd
}

// applyScanOverrides copies explicitly set flags onto cfg and revalidates it.
func applyScanOverrides(cmd *cobra.Command, cfg config.Interface, opts *scanOptions) error {
	flags := cmd.Flags()
	if flags.Changed("max-sessions") {
		cfg.SetBrowserMaxSessions(opts.maxSessions)
	}
	if flags.Changed("timeout") {
		cfg.SetNetworkNavigationTimeout(opts.timeout)
	}
	if flags.Changed("wait-until") {
		cfg.SetNetworkWaitUntil(strings.ToLower(opts.waitUntil))
	}
	if flags.Changed("tags") {
		cfg.SetAuditTags(opts.tags)
	}
	if flags.Changed("chrome-path") {
		cfg.SetBrowserExecPath(opts.chromePath)
	}

	if c, ok := cfg.(*config.Config); ok {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
	}
	return nil
}

// urlScanner is the part of the scanner the command depends on.
type urlScanner interface {
	Scan(ctx context.Context, url string) (*schemas.Report, error)
}

// runScans scans every target with at most limit scans in flight and writes
// each successful report in argument order. Failed targets are reported
// together once all scans finish.
func runScans(ctx context.Context, sc urlScanner, reporter reporting.Reporter, targets []string, limit int, logger *zap.Logger) error {
	reports := make([]*schemas.Report, len(targets))
	var (
		mu     sync.Mutex
		failed []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, target := range targets {
		g.Go(func() error {
			report, err := sc.Scan(gctx, scanner.NormalizeURL(target))
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return ctx.Err()
				}
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", target, err))
				mu.Unlock()
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, report := range reports {
		if report == nil {
			continue
		}
		if err := reporter.Write(report); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		logger.Warn("Some scans failed.", zap.Int("failed", len(failed)), zap.Int("total", len(targets)))
		return fmt.Errorf("%d of %d scans failed: %w", len(failed), len(targets), errors.Join(failed...))
	}
	return nil
}
