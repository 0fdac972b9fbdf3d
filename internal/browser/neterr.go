package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/xkilldash9x/axescan/internal/scanerr"
)

var netErrorPattern = regexp.MustCompile(`net::(ERR_[A-Z0-9_]+)`)

// netErrorReasons maps Chrome network error code prefixes to navigation
// reasons. Order matters: the first matching prefix wins.
var netErrorReasons = []struct {
	prefix string
	reason scanerr.Reason
}{
	{"ERR_NAME_NOT_RESOLVED", scanerr.ReasonDNS},
	{"ERR_NAME_RESOLUTION_FAILED", scanerr.ReasonDNS},
	{"ERR_DNS_", scanerr.ReasonDNS},
	{"ERR_CERT_", scanerr.ReasonTLS},
	{"ERR_SSL_", scanerr.ReasonTLS},
	{"ERR_BAD_SSL_", scanerr.ReasonTLS},
	{"ERR_TIMED_OUT", scanerr.ReasonTimeout},
	{"ERR_CONNECTION_TIMED_OUT", scanerr.ReasonTimeout},
	{"ERR_CONNECTION_", scanerr.ReasonConnection},
	{"ERR_ADDRESS_UNREACHABLE", scanerr.ReasonConnection},
	{"ERR_INTERNET_DISCONNECTED", scanerr.ReasonConnection},
	{"ERR_NETWORK_CHANGED", scanerr.ReasonConnection},
	{"ERR_EMPTY_RESPONSE", scanerr.ReasonConnection},
	{"ERR_TUNNEL_CONNECTION_FAILED", scanerr.ReasonConnection},
	{"ERR_PROXY_CONNECTION_FAILED", scanerr.ReasonConnection},
	{"ERR_ABORTED", scanerr.ReasonAborted},
	{"ERR_BLOCKED_BY_", scanerr.ReasonAborted},
}

// NetErrorCode extracts the Chrome net error code (e.g. "ERR_NAME_NOT_RESOLVED")
// from an error message, or "" if none is present.
func NetErrorCode(msg string) string {
	m := netErrorPattern.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	return m[1]
}

// ClassifyNetError returns the navigation reason for a Chrome network error
// message. Messages without a recognized net:: code are ReasonUnknown.
func ClassifyNetError(msg string) scanerr.Reason {
	code := NetErrorCode(msg)
	if code == "" {
		return scanerr.ReasonUnknown
	}
	for _, r := range netErrorReasons {
		if strings.HasPrefix(code, r.prefix) {
			return r.reason
		}
	}
	return scanerr.ReasonUnknown
}

// navigationError converts a failed page load into a typed scan error.
// caller is the scan context, run the context bounded by the navigation
// timeout.
func navigationError(caller, run context.Context, err error) *scanerr.Error {
	if caller.Err() != nil {
		return scanerr.FromContext(caller, scanerr.KindNavigation, opNavigate)
	}
	if run.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return scanerr.New(scanerr.KindNavigation, scanerr.ReasonTimeout, opNavigate, err)
	}
	return scanerr.New(scanerr.KindNavigation, ClassifyNetError(err.Error()), opNavigate, err)
}
