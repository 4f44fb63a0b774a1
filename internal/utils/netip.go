package utils

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseHostNoPort returns the host part (no port) from strings like "ip:port", "[v6]:port", or "ip".
func ParseHostNoPort(s string) string {
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}

// FirstForwardedFor returns the first IP from X-Forwarded-For (left-most), trimmed.
func FirstForwardedFor(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// ClientIP resolves the client address of r. With trustProxy, X-Forwarded-For
// (left-most) and then X-Real-IP are honored; otherwise only RemoteAddr.
// The zero Addr is returned when nothing parses.
func ClientIP(r *http.Request, trustProxy bool) netip.Addr {
	if trustProxy {
		for _, v := range []string{
			FirstForwardedFor(r.Header.Get("X-Forwarded-For")),
			strings.TrimSpace(r.Header.Get("X-Real-IP")),
		} {
			if ip, err := netip.ParseAddr(ParseHostNoPort(v)); err == nil {
				return ip.Unmap()
			}
		}
	}
	ip, _ := netip.ParseAddr(ParseHostNoPort(r.RemoteAddr))
	return ip.Unmap()
}

// PrefixMatcher matches addresses against a list of CIDRs. Bare addresses
// are treated as single-host prefixes.
type PrefixMatcher struct {
	prefixes []netip.Prefix
}

// NewPrefixMatcher parses list. Blank entries are skipped; the first invalid
// entry fails the whole list.
func NewPrefixMatcher(list []string) (*PrefixMatcher, error) {
	m := &PrefixMatcher{}
	for _, raw := range list {
		p, err := ParsePrefix(raw)
		if err != nil {
			return nil, err
		}
		if p.IsValid() {
			m.prefixes = append(m.prefixes, p)
		}
	}
	return m, nil
}

// ParsePrefix accepts "10.0.0.0/8", "::1" or "127.0.0.1". A blank string
// yields the zero Prefix and no error.
func ParsePrefix(raw string) (netip.Prefix, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Prefix{}, nil
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	ip = ip.Unmap()
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}

func (m *PrefixMatcher) IsEmpty() bool {
	return len(m.prefixes) == 0
}

func (m *PrefixMatcher) Allow(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	for _, p := range m.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
