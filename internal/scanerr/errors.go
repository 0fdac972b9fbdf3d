// internal/scanerr/errors.go
package scanerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a scan failure. Using a custom type ensures that only the
// predefined constants are used where a Kind is expected.
type Kind string

const (
	// KindInvalidInput rejects a request before any session is acquired.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindLaunch means the browser process failed to start or exceeded the launch timeout.
	KindLaunch Kind = "LAUNCH_ERROR"
	// KindNavigation covers timeouts, DNS, TLS and HTTP failures while loading the page.
	KindNavigation Kind = "NAVIGATION_ERROR"
	// KindAudit means the audit engine could not be injected or threw while running.
	KindAudit Kind = "AUDIT_ERROR"
	// KindResourceExhausted means the session limit was reached. Callers may retry later.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// KindCanceled means the caller went away before the scan finished.
	KindCanceled Kind = "CANCELED"
)

// Reason refines a Kind. Navigation failures in particular carry different
// remediation meaning depending on the reason.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonTimeout    Reason = "timeout"
	ReasonDNS        Reason = "dns"
	ReasonTLS        Reason = "tls"
	ReasonHTTPStatus Reason = "http_status"
	ReasonConnection Reason = "connection"
	ReasonAborted    Reason = "aborted"
	ReasonStart      Reason = "start"
	ReasonInjection  Reason = "injection"
	ReasonExecution  Reason = "execution"
	ReasonDecode     Reason = "decode"
	ReasonUnknown    Reason = "unknown"
)

// Error is the typed failure surfaced by every stage of a scan.
type Error struct {
	Kind   Kind
	Reason Reason
	// Op names the stage that failed, e.g. "browser.acquire".
	Op string
	// Status holds the HTTP status for ReasonHTTPStatus navigation failures.
	Status int
	// Elapsed is the time spent in the stage before it failed.
	Elapsed time.Duration
	Err     error
}

// New creates an Error of the given kind wrapping err.
func New(kind Kind, reason Reason, op string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Op: op, Err: err}
}

// Errorf creates an Error with a formatted cause.
func Errorf(kind Kind, reason Reason, op, format string, args ...any) *Error {
	return New(kind, reason, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != ReasonNone {
		b.WriteString(" (")
		b.WriteString(string(e.Reason))
		if e.Status != 0 {
			fmt.Fprintf(&b, " %d", e.Status)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithElapsed records the stage duration and returns the same error.
func (e *Error) WithElapsed(d time.Duration) *Error {
	e.Elapsed = d
	return e
}

// KindOf extracts the Kind of err. A bare context.Canceled maps to
// KindCanceled; any other untyped error reports an empty Kind.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return ""
}

// ReasonOf extracts the Reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonNone
}

// Is reports whether err is a scan error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext converts a finished context into the matching scan error for
// the stage op. A deadline becomes fallback with ReasonTimeout; a
// cancellation becomes KindCanceled.
func FromContext(ctx context.Context, fallback Kind, op string) *Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return New(fallback, ReasonTimeout, op, err)
	}
	return New(KindCanceled, ReasonNone, op, err)
}
