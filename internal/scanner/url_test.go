package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/axescan/internal/scanerr"
)

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"":                        "",
		"  ":                      "",
		"example.com":             "https://example.com",
		" example.com/a?b=c ":     "https://example.com/a?b=c",
		"http://example.com":      "http://example.com",
		"HTTPS://Example.com":     "HTTPS://Example.com",
		"ftp://example.com/file":  "ftp://example.com/file",
		"localhost:8080/checkout": "https://localhost:8080/checkout",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeURL(in), "input %q", in)
	}
}

func TestValidateURL(t *testing.T) {
	t.Run("accepts http and https", func(t *testing.T) {
		got, err := ValidateURL(" HTTPS://example.com/path ")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/path", got)

		got, err = ValidateURL("http://127.0.0.1:3000")
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:3000", got)
	})

	rejects := []struct {
		name string
		in   string
	}{
		{"blank", ""},
		{"unparsable", "http://[::1"},
		{"relative", "/just/a/path"},
		{"other scheme", "javascript:alert(1)"},
		{"file scheme", "file:///etc/passwd"},
		{"no host", "https:///path"},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateURL(tt.in)
			require.Error(t, err)
			assert.Equal(t, scanerr.KindInvalidInput, scanerr.KindOf(err))
		})
	}

	_, err := ValidateURL("")
	assert.ErrorIs(t, err, ErrURLRequired)
}
