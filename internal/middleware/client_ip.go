package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

const ContextClientIPKey = "client_ip"

// TrustedProxies resolves the caller address once per request. Forwarding
// headers are honoured only when the socket peer is in trusted; with an
// empty list the peer address is always used.
func TrustedProxies(trusted []string) (gin.HandlerFunc, error) {
	nets, err := parseProxies(trusted)
	if err != nil {
		return nil, err
	}
	return func(c *gin.Context) {
		c.Set(ContextClientIPKey, resolveClientIP(nets, c.RemoteIP(), c.GetHeader("X-Forwarded-For")))
		c.Next()
	}, nil
}

// ClientIP returns the address resolved by TrustedProxies, or the socket
// peer when the middleware is not installed.
func ClientIP(c *gin.Context) string {
	if v, ok := c.Get(ContextClientIPKey); ok {
		if ip, ok := v.(string); ok && ip != "" {
			return ip
		}
	}
	return c.RemoteIP()
}

func parseProxies(trusted []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(trusted))
	for _, item := range trusted {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", item)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", item, err)
		}
		nets = append(nets, cidr)
	}
	return nets, nil
}

func isTrusted(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// resolveClientIP walks X-Forwarded-For right to left, skipping trusted
// hops, and stops at the first untrusted one.
func resolveClientIP(nets []*net.IPNet, remote, forwarded string) string {
	peer := net.ParseIP(remote)
	if peer == nil || forwarded == "" || !isTrusted(nets, peer) {
		return remote
	}
	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			return remote
		}
		if i == 0 || !isTrusted(nets, ip) {
			return hop
		}
	}
	return remote
}
