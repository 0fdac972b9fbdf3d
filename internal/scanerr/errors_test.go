package scanerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Kind:   KindNavigation,
		Reason: ReasonHTTPStatus,
		Op:     "browser.navigate",
		Status: 503,
		Err:    errors.New("main document returned 503"),
	}
	assert.Equal(t, "browser.navigate: NAVIGATION_ERROR (http_status 503): main document returned 503", err.Error())

	bare := New(KindResourceExhausted, ReasonNone, "", nil)
	assert.Equal(t, "RESOURCE_EXHAUSTED", bare.Error())
}

func TestKindOfUnwrapsChains(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	inner := New(KindNavigation, ReasonDNS, "browser.navigate", cause)
	wrapped := fmt.Errorf("scan failed: %w", inner)

	assert.Equal(t, KindNavigation, KindOf(wrapped))
	assert.Equal(t, ReasonDNS, ReasonOf(wrapped))
	assert.True(t, Is(wrapped, KindNavigation))
	assert.False(t, Is(wrapped, KindAudit))
	assert.ErrorIs(t, wrapped, cause)

	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ReasonNone, ReasonOf(errors.New("plain")))
}

func TestFromContext(t *testing.T) {
	t.Run("deadline becomes a timeout of the fallback kind", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		err := FromContext(ctx, KindLaunch, "browser.launch")
		assert.Equal(t, KindLaunch, err.Kind)
		assert.Equal(t, ReasonTimeout, err.Reason)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancellation is reported as canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := FromContext(ctx, KindNavigation, "browser.navigate")
		require.NotNil(t, err)
		assert.Equal(t, KindCanceled, err.Kind)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWithElapsed(t *testing.T) {
	err := New(KindAudit, ReasonExecution, "audit.run", errors.New("boom")).WithElapsed(2 * time.Second)
	assert.Equal(t, 2*time.Second, err.Elapsed)
}
