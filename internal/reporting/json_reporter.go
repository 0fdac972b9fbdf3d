package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
)

// reportJSON encodes exactly like encoding/json so the CLI output and the
// HTTP responses share one shape.
var reportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	encoder *jsoniter.Encoder
	logger  *zap.Logger
}

// NewJSONReporter creates a reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	encoder := reportJSON.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return &JSONReporter{
		writer:  writer,
		encoder: encoder,
		logger:  logger.Named("json_reporter"),
	}
}

func (r *JSONReporter) Write(report *schemas.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	r.logger.Debug("Wrote JSON report.", zap.String("url", report.URL))
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}
