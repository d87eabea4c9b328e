package apns

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Dialer opens an authenticated stream to a gateway or feedback endpoint.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TLSDialer dials TLS connections presenting a client certificate.
type TLSDialer struct {
	config    *tls.Config
	keepAlive time.Duration
}

// NewTLSDialer builds a dialer for cert. config may be nil; its Certificates are replaced.
func NewTLSDialer(cert tls.Certificate, config *tls.Config) *TLSDialer {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if config != nil {
		cfg = config.Clone()
	}
	cfg.Certificates = []tls.Certificate{cert}
	return &TLSDialer{config: cfg, keepAlive: 30 * time.Second}
}

// DialContext connects to address and completes the TLS handshake before returning.
func (d *TLSDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	cfg := d.config.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		cfg.ServerName = host
	}

	td := &tls.Dialer{
		NetDialer: &net.Dialer{KeepAlive: d.keepAlive},
		Config:    cfg,
	}
	return td.DialContext(ctx, "tcp", address)
}
