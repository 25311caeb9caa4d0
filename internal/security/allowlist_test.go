package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	entries := []string{"203.0.113.7", "10.0.0.0/8", "172.16.0.0/16", "192.168.1.0/24", " 198.51.100.9 ", "2001:db8::1"}

	cases := []struct {
		ip   string
		want bool
	}{
		{"203.0.113.7", true},
		{"203.0.113.8", false},
		{"10.200.3.4", true},
		{"11.0.0.1", false},
		{"172.16.99.1", true},
		{"172.17.0.1", false},
		{"192.168.1.250", true},
		{"192.168.2.1", false},
		{"198.51.100.9", true},
		{"::ffff:10.1.1.1", true},
		{"2001:db8::1", true},
		{"2001:db8::2", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Allowed(entries, tc.ip), tc.ip)
	}
}

func TestAllowed_UnsupportedPrefixLengthsNeverMatch(t *testing.T) {
	assert.False(t, Allowed([]string{"10.0.0.0/12"}, "10.1.2.3"))
	assert.False(t, Allowed([]string{"10.0.0.0/20"}, "10.0.0.5"))
	assert.True(t, Allowed([]string{"10.0.0.5/32"}, "10.0.0.5"))
}

func TestAllowed_UnmaskedPrefix(t *testing.T) {
	// Host bits in the entry are ignored.
	assert.True(t, Allowed([]string{"10.1.2.3/16"}, "10.1.200.1"))
}

func TestAllowed_Empty(t *testing.T) {
	assert.False(t, Allowed(nil, "10.0.0.1"))
	assert.False(t, Allowed([]string{"", "garbage"}, "10.0.0.1"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.RemoteAddr = "192.0.2.2"
	assert.Equal(t, "192.0.2.2", ClientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r))
}
