package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/axescan/internal/scanerr"
)

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		msg  string
		want scanerr.Reason
	}{
		{"page load error net::ERR_NAME_NOT_RESOLVED", scanerr.ReasonDNS},
		{"page load error net::ERR_NAME_RESOLUTION_FAILED", scanerr.ReasonDNS},
		{"page load error net::ERR_CERT_AUTHORITY_INVALID", scanerr.ReasonTLS},
		{"page load error net::ERR_CERT_DATE_INVALID", scanerr.ReasonTLS},
		{"page load error net::ERR_SSL_PROTOCOL_ERROR", scanerr.ReasonTLS},
		{"page load error net::ERR_TIMED_OUT", scanerr.ReasonTimeout},
		{"page load error net::ERR_CONNECTION_TIMED_OUT", scanerr.ReasonTimeout},
		{"page load error net::ERR_CONNECTION_REFUSED", scanerr.ReasonConnection},
		{"page load error net::ERR_CONNECTION_RESET", scanerr.ReasonConnection},
		{"page load error net::ERR_ADDRESS_UNREACHABLE", scanerr.ReasonConnection},
		{"page load error net::ERR_EMPTY_RESPONSE", scanerr.ReasonConnection},
		{"page load error net::ERR_ABORTED", scanerr.ReasonAborted},
		{"page load error net::ERR_BLOCKED_BY_CLIENT", scanerr.ReasonAborted},
		{"page load error net::ERR_TOO_MANY_REDIRECTS", scanerr.ReasonUnknown},
		{"websocket url timeout reached", scanerr.ReasonUnknown},
		{"", scanerr.ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyNetError(tt.msg))
		})
	}
}

func TestNetErrorCode(t *testing.T) {
	assert.Equal(t, "ERR_NAME_NOT_RESOLVED", NetErrorCode("page load error net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, "", NetErrorCode("could not dial"))
}

func TestNavigationError(t *testing.T) {
	t.Run("caller cancellation wins", func(t *testing.T) {
		caller, cancel := context.WithCancel(context.Background())
		cancel()
		err := navigationError(caller, caller, errors.New("net::ERR_ABORTED"))
		assert.Equal(t, scanerr.KindCanceled, err.Kind)
	})

	t.Run("navigation deadline is a timeout", func(t *testing.T) {
		run, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-run.Done()
		err := navigationError(context.Background(), run, context.Canceled)
		assert.Equal(t, scanerr.KindNavigation, err.Kind)
		assert.Equal(t, scanerr.ReasonTimeout, err.Reason)
	})

	t.Run("net error text is classified", func(t *testing.T) {
		cause := errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
		err := navigationError(context.Background(), context.Background(), cause)
		assert.Equal(t, scanerr.KindNavigation, err.Kind)
		assert.Equal(t, scanerr.ReasonDNS, err.Reason)
		assert.ErrorIs(t, err, cause)
	})
}
