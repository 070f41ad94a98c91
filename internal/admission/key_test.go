package admission

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTrustedProxies(t *testing.T) {
	t.Parallel()

	t.Run("addresses and ranges", func(t *testing.T) {
		t.Parallel()
		p, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", "", "::1"})
		if err != nil {
			t.Fatalf("ParseTrustedProxies() error = %v", err)
		}
		for _, ip := range []string{"10.1.2.3", "192.0.2.10", "::1", "::ffff:10.0.0.1"} {
			if !p.Trusts(ip) {
				t.Errorf("Trusts(%q) = false, want true", ip)
			}
		}
		for _, ip := range []string{"192.0.2.11", "203.0.113.9", "not-an-ip", ""} {
			if p.Trusts(ip) {
				t.Errorf("Trusts(%q) = true, want false", ip)
			}
		}
	})

	t.Run("invalid entries", func(t *testing.T) {
		t.Parallel()
		for _, entry := range []string{"10.0.0.0/33", "proxy.internal", "1.2.3"} {
			if _, err := ParseTrustedProxies([]string{entry}); !errors.Is(err, ErrInvalidTrustedProxy) {
				t.Errorf("ParseTrustedProxies(%q) error = %v, want ErrInvalidTrustedProxy", entry, err)
			}
		}
	})

	t.Run("zero value trusts nobody", func(t *testing.T) {
		t.Parallel()
		if (TrustedProxies{}).Trusts("127.0.0.1") {
			t.Error("zero TrustedProxies must not trust any address")
		}
	})
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}

	tests := []struct {
		name    string
		proxies TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "untrusted peer ignores forwarded for", headers: map[string]string{"X-Forwarded-For": "198.51.100.7"},
			remote: "203.0.113.9:5555", want: "203.0.113.9"},
		{name: "untrusted peer ignores real ip", headers: map[string]string{"X-Real-IP": "198.51.100.1"},
			remote: "203.0.113.9:5555", want: "203.0.113.9"},
		{name: "no proxies configured", proxies: TrustedProxies{}, headers: map[string]string{"X-Forwarded-For": "198.51.100.7"},
			remote: "10.0.0.2:5555", want: "10.0.0.2"},
		{name: "trusted peer forwarded for", proxies: proxies, headers: map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"},
			remote: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "client supplied hops are skipped", proxies: proxies, headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.7"},
			remote: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "all hops trusted", proxies: proxies, headers: map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.1"},
			remote: "10.0.0.2:5555", want: "10.0.0.5"},
		{name: "garbage hops skipped", proxies: proxies, headers: map[string]string{"X-Forwarded-For": "203.0.113.7, bogus"},
			remote: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "trusted peer real ip", proxies: proxies, headers: map[string]string{"X-Real-IP": "198.51.100.1"},
			remote: "10.0.0.2:5555", want: "198.51.100.1"},
		{name: "trusted peer without headers", proxies: proxies, remote: "10.0.0.2:5555", want: "10.0.0.2"},
		{name: "remote addr without port", remote: "10.0.0.2", want: "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := tt.proxies.ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("package helper uses the socket peer", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.9:5555"
		r.Header.Set("X-Forwarded-For", "198.51.100.7")
		if got := ClientIP(r); got != "203.0.113.9" {
			t.Errorf("ClientIP() = %q, want 203.0.113.9", got)
		}
	})
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	t.Run("user agents are distinguished", func(t *testing.T) {
		t.Parallel()
		a := httptest.NewRequest("GET", "/", nil)
		a.RemoteAddr = "192.0.2.1:1000"
		a.Header.Set("User-Agent", "curl/8.0")
		b := httptest.NewRequest("GET", "/", nil)
		b.RemoteAddr = "192.0.2.1:2000"
		b.Header.Set("User-Agent", "Mozilla/5.0")

		ka, kb := ClientKey(a), ClientKey(b)
		if ka == kb {
			t.Fatalf("ClientKey() equal for different user agents: %s", ka)
		}
		ip, digest, ok := strings.Cut(ka, ":")
		if !ok || ip != "192.0.2.1" || len(digest) != 16 {
			t.Errorf("ClientKey() = %q, want ip:16-hex-digest", ka)
		}
		if ClientKey(a) != ka {
			t.Error("ClientKey() not stable")
		}
	})

	t.Run("rotating forwarded for keeps the key", func(t *testing.T) {
		t.Parallel()
		keys := make(map[string]struct{})
		for _, spoofed := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = "203.0.113.9:4000"
			r.Header.Set("X-Forwarded-For", spoofed)
			keys[ClientKey(r)] = struct{}{}
		}
		if len(keys) != 1 {
			t.Errorf("expected one key for one peer, got %d", len(keys))
		}
	})
}
