package admission

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/crypto/sha3"
)

const userAgentDigestLen = 16

// ErrInvalidTrustedProxy is returned by ParseTrustedProxies.
var ErrInvalidTrustedProxy = errors.New("admission: invalid trusted proxy")

// TrustedProxies is the set of peers allowed to report the client address
// through X-Forwarded-For and X-Real-IP. The zero value trusts nobody, so
// only the socket peer identifies the client.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var p TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return TrustedProxies{}, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, entry)
			}
			p.prefixes = append(p.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, entry)
		}
		addr = addr.Unmap()
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

// Trusts reports whether ip belongs to a trusted proxy.
func (p TrustedProxies) Trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the caller of r. Forwarding headers are
// read only when the socket peer is trusted: X-Forwarded-For is walked from
// the right and the first untrusted hop wins, then X-Real-IP is used.
func (p TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !p.Trusts(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		leftmost := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				continue
			}
			if !p.Trusts(hop) {
				return hop
			}
			leftmost = hop
		}
		if leftmost != "" {
			return leftmost
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return peer
}

// ClientKey identifies the caller of r as its IP plus a short digest of its
// User-Agent, so clients sharing an address are counted apart.
func (p TrustedProxies) ClientKey(r *http.Request) string {
	sum := sha3.Sum256([]byte(r.UserAgent()))
	return p.ClientIP(r) + ":" + hex.EncodeToString(sum[:])[:userAgentDigestLen]
}

// ClientKey is ClientKey without trusted proxies.
func ClientKey(r *http.Request) string {
	return TrustedProxies{}.ClientKey(r)
}

// ClientIP is the host part of RemoteAddr. Forwarding headers are ignored.
func ClientIP(r *http.Request) string {
	return TrustedProxies{}.ClientIP(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
