package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/log"
)

// DialConfig configures Dial.
type DialConfig struct {
	// TLS is the client TLS config. Required.
	TLS *tls.Config

	// ConnectTimeout applies when ctx has no deadline (default 30s).
	ConnectTimeout time.Duration

	// Conn options for the established connection.
	Conn ConnOptions
}

// Dial connects to address, performs the TLS 1.3 handshake and verifies the
// negotiated protocol.
func Dial(ctx context.Context, address string, cfg DialConfig) (*Conn, error) {
	if cfg.TLS == nil {
		return nil, errors.New("TLS config is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tc := tls.Client(raw, cfg.TLS)
	if err := tc.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tc.ConnectionState()); err != nil {
		tc.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}

	cfg.Conn.Role = log.RoleCommissioner
	return NewConn(tc, cfg.Conn), nil
}

// Listener accepts TLS connections and wraps them as Conns.
type Listener struct {
	ln   net.Listener
	opts ConnOptions
}

// Listen starts a TLS listener on address.
func Listen(address string, tlsConf *tls.Config, opts ConnOptions) (*Listener, error) {
	ln, err := tls.Listen("tcp", address, tlsConf)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return &Listener{ln: ln, opts: opts}, nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection and completes its handshake.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	tc := raw.(*tls.Conn)
	if err := tc.HandshakeContext(ctx); err != nil {
		tc.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tc.ConnectionState()); err != nil {
		tc.Close()
		return nil, err
	}
	return NewConn(tc, l.opts), nil
}

// Close stops the listener.
func (l *Listener) Close() error { return l.ln.Close() }
