package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/observability"
)

const (
	// maxEngineBytes caps the downloaded engine script. axe.min.js is ~600KB.
	maxEngineBytes = 8 << 20
	// engineFetchTimeout bounds a shared download independently of the
	// callers waiting on it.
	engineFetchTimeout = 60 * time.Second
)

// ScriptSource provides the audit engine source code.
type ScriptSource interface {
	Load(ctx context.Context) (string, error)
}

// EngineSource loads the axe-core script once per process from a local file
// or a URL. Concurrent first loads share one fetch; a failed fetch is not
// remembered, so the next call tries again.
type EngineSource struct {
	path   string
	url    string
	client *http.Client
	logger *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	script string
}

// NewEngineSource creates a source from the audit settings. A nil client uses
// http.DefaultClient.
func NewEngineSource(cfg config.AuditConfig, client *http.Client, logger *zap.Logger) *EngineSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &EngineSource{
		path:   cfg.EnginePath,
		url:    cfg.EngineURL,
		client: client,
		logger: logger.Named("engine_source"),
	}
}

// Load returns the engine script, fetching it on first use.
func (s *EngineSource) Load(ctx context.Context) (string, error) {
	s.mu.RLock()
	script := s.script
	s.mu.RUnlock()
	if script != "" {
		return script, nil
	}

	ch := s.group.DoChan("engine", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), engineFetchTimeout)
		defer cancel()

		script, err := s.fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.script = script
		s.mu.Unlock()
		return script, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *EngineSource) fetch(ctx context.Context) (string, error) {
	if s.path != "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			observability.EngineLoads.WithLabelValues("file", "error").Inc()
			return "", fmt.Errorf("reading audit engine from %s: %w", s.path, err)
		}
		observability.EngineLoads.WithLabelValues("file", "ok").Inc()
		return validScript(string(data), s.path)
	}

	script, err := s.download(ctx)
	if err != nil {
		observability.EngineLoads.WithLabelValues("url", "error").Inc()
		s.logger.Warn("Failed to download audit engine.", zap.String("url", s.url), zap.Error(err))
		return "", err
	}
	observability.EngineLoads.WithLabelValues("url", "ok").Inc()
	s.logger.Info("Audit engine downloaded.", zap.String("url", s.url), zap.Int("bytes", len(script)))
	return validScript(script, s.url)
}

func (s *EngineSource) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("building engine request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading audit engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading audit engine: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEngineBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading audit engine body: %w", err)
	}
	if len(body) > maxEngineBytes {
		return "", fmt.Errorf("audit engine exceeds %d bytes", maxEngineBytes)
	}
	return string(body), nil
}

func validScript(script, origin string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("audit engine from %s is empty", origin)
	}
	return script, nil
}
