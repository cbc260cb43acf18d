package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// EndpointCheck defines how to check that the endpoint can be reached.
// Implementations should be lightweight (no API calls, no quota spent).
type EndpointCheck interface {
	// Check returns nil if the endpoint is reachable.
	Check(ctx context.Context) error
}

// TCPCheck dials the endpoint's host and port.
type TCPCheck struct {
	address string
	timeout time.Duration
}

// NewTCPCheck creates a TCP check for rawURL. The port defaults from the
// scheme (443 for https, 80 for http).
func NewTCPCheck(rawURL string, timeout time.Duration) (*TCPCheck, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("health: parse endpoint url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("health: endpoint url %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	if timeout <= 0 {
		timeout = time.Duration(DefaultProbeTimeoutMS) * time.Millisecond
	}

	return &TCPCheck{
		address: net.JoinHostPort(u.Hostname(), port),
		timeout: timeout,
	}, nil
}

// Address returns the host:port being dialed.
func (c *TCPCheck) Address() string {
	return c.address
}

// Check performs the dial.
func (c *TCPCheck) Check(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEndpointUnreachable, c.address, err)
	}
	return conn.Close()
}

// NoOpCheck always reports the endpoint reachable.
type NoOpCheck struct{}

// Check always returns nil.
func (NoOpCheck) Check(_ context.Context) error {
	return nil
}

// NewEndpointCheck returns the check selected by cfg.
func NewEndpointCheck(rawURL string, cfg ProbeConfig) (EndpointCheck, error) {
	if !cfg.IsEnabled() {
		return NoOpCheck{}, nil
	}
	return NewTCPCheck(rawURL, cfg.GetTimeout())
}
