// Package safehttp provides an HTTP client for outbound model calls that
// refuses to reach private networks, since the model endpoint is
// configurable.
package safehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPrivateAddress is wrapped by dial errors for denied destinations.
var ErrPrivateAddress = errors.New("private address denied")

// Denied reports whether ip is loopback, private, link-local or
// unspecified.
func Denied(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	if ip == nil {
		conn.Close()
		return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
	}

	if Denied(ip) {
		conn.Close()
		return nil, fmt.Errorf("dial %s: %w: %s", addr, ErrPrivateAddress, ip)
	}

	return conn, nil
}

// NewTransport returns a transport that rejects connections to private or
// loopback IP ranges.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialContext
	t.Proxy = nil
	return t
}

// NewClient returns a client using NewTransport. A zero timeout leaves
// requests bounded only by their context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(), Timeout: timeout}
}
