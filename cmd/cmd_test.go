package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/observability"
	"github.com/xkilldash9x/axescan/internal/scanerr"
)

// executeCommand runs a fresh root command with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "axescan version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "axescan "+Version))
}

func TestRootCmd_Help(t *testing.T) {
	out, err := executeCommand(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "scan", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	out, err := executeCommand(t, "config", "init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	t.Run("written file loads back as the defaults", func(t *testing.T) {
		v := viper.New()
		config.SetDefaults(v)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		defaults := config.NewDefaultConfig()
		assert.Equal(t, defaults.Browser().MaxSessions, cfg.Browser().MaxSessions)
		assert.Equal(t, defaults.Browser().QueueTimeout, cfg.Browser().QueueTimeout)
		assert.Equal(t, defaults.Network().NavigationTimeout, cfg.Network().NavigationTimeout)
		assert.Equal(t, defaults.Audit().Tags, cfg.Audit().Tags)
		assert.Equal(t, defaults.Audit().EngineURL, cfg.Audit().EngineURL)
		assert.Equal(t, defaults.Server().Port, cfg.Server().Port)
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		_, err := executeCommand(t, "config", "init", "--output", path)
		assert.ErrorContains(t, err, "already exists")

		_, err = executeCommand(t, "config", "init", "--output", path, "--force")
		assert.NoError(t, err)
	})

	t.Run("show prints the effective config", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		custom := strings.Replace(string(data), "max_sessions: 4", "max_sessions: 9", 1)
		require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

		out, err := executeCommand(t, "--config", path, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "max_sessions: 9")
		assert.Contains(t, out, "navigation_timeout: 1m0s")
	})
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  max_sessions: 0\n"), 0o644))

	_, err := executeCommand(t, "--config", path, "config", "show")
	assert.ErrorContains(t, err, "failed to load or validate config")
}

func TestScanCmd_RejectsUnknownFormat(t *testing.T) {
	_, err := executeCommand(t, "scan", "--format", "xml", "example.com")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestApplyScanOverrides(t *testing.T) {
	cmd := newScanCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--max-sessions", "2",
		"--timeout", "5s",
		"--wait-until", "LOAD",
		"--tags", "wcag2a,wcag2aa",
		"--chrome-path", "/opt/chrome",
	}))

	cfg := config.NewDefaultConfig()
	defaults := config.NewDefaultConfig()
	opts := &scanOptions{}
	opts.maxSessions, _ = cmd.Flags().GetInt("max-sessions")
	opts.timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.waitUntil, _ = cmd.Flags().GetString("wait-until")
	opts.tags, _ = cmd.Flags().GetStringSlice("tags")
	opts.chromePath, _ = cmd.Flags().GetString("chrome-path")

	require.NoError(t, applyScanOverrides(cmd, cfg, opts))
	assert.Equal(t, 2, cfg.Browser().MaxSessions)
	assert.Equal(t, 5*time.Second, cfg.Network().NavigationTimeout)
	assert.Equal(t, config.WaitUntilLoad, cfg.Network().WaitUntil)
	assert.Equal(t, []string{"wcag2a", "wcag2aa"}, cfg.Audit().Tags)
	assert.Equal(t, "/opt/chrome", cfg.Browser().ExecPath)
	assert.Equal(t, defaults.Server(), cfg.Server(), "unrelated sections are untouched")

	t.Run("invalid override fails validation", func(t *testing.T) {
		cmd := newScanCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--wait-until", "domcontentloaded"}))
		err := applyScanOverrides(cmd, config.NewDefaultConfig(), &scanOptions{waitUntil: "domcontentloaded"})
		assert.ErrorContains(t, err, "invalid flags")
	})
}

// -- runScans --

type stubScanner struct {
	failFor  map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubScanner) Scan(ctx context.Context, url string) (*schemas.Report, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.failFor[url]; err != nil {
		return nil, err
	}
	return &schemas.Report{URL: url}, nil
}

type recordingReporter struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingReporter) Write(report *schemas.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, report.URL)
	return nil
}

func (r *recordingReporter) Close() error { return nil }

func TestRunScans(t *testing.T) {
	targets := []string{"a.example", "b.example", "https://c.example", "d.example", "e.example"}

	t.Run("writes reports in argument order within the limit", func(t *testing.T) {
		sc := &stubScanner{}
		rep := &recordingReporter{}
		err := runScans(context.Background(), sc, rep, targets, 2, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://a.example", "https://b.example", "https://c.example", "https://d.example", "https://e.example",
		}, rep.urls)
		assert.LessOrEqual(t, sc.peak.Load(), int32(2))
	})

	t.Run("failed targets are reported after the rest are written", func(t *testing.T) {
		navErr := scanerr.New(scanerr.KindNavigation, scanerr.ReasonDNS, "browser.navigate", errors.New("net::ERR_NAME_NOT_RESOLVED"))
		sc := &stubScanner{failFor: map[string]error{"https://b.example": navErr}}
		rep := &recordingReporter{}

		err := runScans(context.Background(), sc, rep, targets, 3, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 5 scans failed")
		assert.Equal(t, scanerr.KindNavigation, scanerr.KindOf(err))
		assert.Len(t, rep.urls, 4)
		assert.NotContains(t, rep.urls, "https://b.example")
	})
}
