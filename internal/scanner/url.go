package scanner

import (
	"errors"
	"net/url"
	"strings"

	"github.com/xkilldash9x/axescan/internal/scanerr"
)

const opValidate = "scan.validate"

// ErrURLRequired is wrapped by ValidateURL for blank input.
var ErrURLRequired = errors.New("URL is required")

// NormalizeURL trims s and prefixes https:// when it carries no scheme.
// Blank input stays blank.
func NormalizeURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}
	if strings.Contains(s, "://") {
		// Some other scheme; leave it for ValidateURL to reject.
		return s
	}
	return "https://" + s
}

// ValidateURL checks that raw is an absolute http or https URL with a host
// and returns its canonical form. Failures are INVALID_INPUT.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", scanerr.New(scanerr.KindInvalidInput, scanerr.ReasonNone, opValidate, ErrURLRequired)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", scanerr.New(scanerr.KindInvalidInput, scanerr.ReasonNone, opValidate, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", scanerr.Errorf(scanerr.KindInvalidInput, scanerr.ReasonNone, opValidate,
			"unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", scanerr.Errorf(scanerr.KindInvalidInput, scanerr.ReasonNone, opValidate,
			"URL %q has no host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String(), nil
}
