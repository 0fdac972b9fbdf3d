package cmd

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/internal/audit"
	"github.com/xkilldash9x/axescan/internal/browser"
	"github.com/xkilldash9x/axescan/internal/config"
	"github.com/xkilldash9x/axescan/internal/scanner"
)

// components is the wired scan pipeline shared by serve and scan.
type components struct {
	scanner  *scanner.Scanner
	sessions *browser.Manager
}

// buildComponents wires the browser manager, audit runner and scanner from
// the loaded configuration.
func buildComponents(cfg config.Interface, logger *zap.Logger) (*components, error) {
	launcher := browser.NewChromeLauncher(cfg.Browser(), cfg.Network().Headers, logger)
	sessions := browser.NewManager(cfg.Browser(), launcher, logger)

	source := audit.NewEngineSource(cfg.Audit(), &http.Client{}, logger)
	runner := audit.NewRunner(cfg.Audit(), source, logger)

	sc, err := scanner.New(cfg.Network(), sessions, runner, logger)
	if err != nil {
		return nil, err
	}
	return &components{scanner: sc, sessions: sessions}, nil
}
