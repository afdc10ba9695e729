package safety_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/market-agent/internal/safety"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name         string
		raw          string
		allowPrivate bool
		code         string
	}{
		{"https ok", "https://www.cbsl.gov.lk/en/statistics", false, ""},
		{"http ok", " http://example.com ", false, ""},
		{"ftp rejected", "ftp://example.com/file", false, "ERR_URL_SCHEME"},
		{"file rejected", "file:///etc/passwd", false, "ERR_URL_SCHEME"},
		{"no scheme", "example.com", false, "ERR_URL_SCHEME"},
		{"no host", "http://", false, "ERR_URL_INVALID"},
		{"loopback", "http://127.0.0.1:8080/", false, "ERR_URL_PRIVATE"},
		{"localhost", "http://localhost/", false, "ERR_URL_PRIVATE"},
		{"private v4", "http://10.1.2.3/", false, "ERR_URL_PRIVATE"},
		{"link local", "http://169.254.169.254/latest/meta-data", false, "ERR_URL_PRIVATE"},
		{"v6 loopback", "http://[::1]/", false, "ERR_URL_PRIVATE"},
		{"loopback allowed", "http://127.0.0.1:8080/", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := safety.ValidateURL(tc.raw, tc.allowPrivate)
			if tc.code == "" {
				require.NoError(t, err)
				assert.NotNil(t, u)
				return
			}
			var te safety.ToolError
			require.True(t, errors.As(err, &te), "got %v", err)
			assert.Equal(t, tc.code, te.Code)
		})
	}
}

func TestIsPublicAddr(t *testing.T) {
	assert.True(t, safety.IsPublicAddr(netip.MustParseAddr("93.184.216.34")))
	assert.False(t, safety.IsPublicAddr(netip.MustParseAddr("192.168.1.1")))
	assert.False(t, safety.IsPublicAddr(netip.MustParseAddr("::ffff:127.0.0.1")))
	assert.False(t, safety.IsPublicAddr(netip.MustParseAddr("0.0.0.0")))
}

func TestDialControl(t *testing.T) {
	assert.Error(t, safety.DialControl("tcp", "127.0.0.1:80", nil))
	assert.NoError(t, safety.DialControl("tcp", "93.184.216.34:443", nil))
}
