// SPDX-License-Identifier: MIT

package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPResolver resolves the client IP of a request. Forwarding headers are
// honored only when the direct peer is inside one of the trusted proxy
// networks; otherwise a client could spoof its way past per-IP limits.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver parses a comma-separated list of CIDRs. Bare IPs are
// accepted as /32 (or /128) networks. An empty list trusts no proxies.
func NewIPResolver(cidrs string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, entry := range strings.Split(cidrs, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("ratelimit: invalid trusted proxy %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: invalid trusted proxy %q: %w", entry, err)
		}
		r.trusted = append(r.trusted, ipnet)
	}
	return r, nil
}

// ClientIP returns the effective client address for req.
func (r *IPResolver) ClientIP(req *http.Request) string {
	peer := remoteHost(req)
	if !r.isTrusted(peer) {
		return peer
	}
	return GetClientIP(req)
}

func (r *IPResolver) isTrusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, ipnet := range r.trusted {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
