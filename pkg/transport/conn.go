package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// ErrConnectionClosed is returned for operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// ConnOptions configures a Conn.
type ConnOptions struct {
	// MaxMessageSize bounds frame payloads (DefaultMaxMessageSize if zero).
	MaxMessageSize uint32

	// ProtocolLogger receives frame and message events. Optional.
	ProtocolLogger log.Logger

	// Role is recorded in protocol events.
	Role log.Role
}

// Conn exchanges wire envelopes over a framed stream.
type Conn struct {
	conn   net.Conn
	framer *Framer
	id     string
	opts   ConnOptions

	readMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an established stream.
func NewConn(c net.Conn, opts ConnOptions) *Conn {
	id := uuid.NewString()
	f := NewFramer(c, opts.MaxMessageSize)
	if opts.ProtocolLogger != nil {
		f.SetLogger(opts.ProtocolLogger, id, opts.Role)
	}
	return &Conn{
		conn:   c,
		framer: f,
		id:     id,
		opts:   opts,
		closed: make(chan struct{}),
	}
}

// ID returns the connection id used in protocol events.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// TLSState returns the TLS state, if the stream is TLS.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// Send encodes v in an envelope of type t and writes it.
func (c *Conn) Send(t wire.MessageType, v any) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	data, err := wire.Encode(t, v)
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return err
	}
	c.logMessage(log.DirectionOut, t, len(data), v)
	return nil
}

// Receive reads the next envelope. It returns ctx.Err() if ctx ends first.
func (c *Conn) Receive(ctx context.Context) (*wire.Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closed:
		return nil, ErrConnectionClosed
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	data, err := c.framer.ReadFrame()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		select {
		case <-c.closed:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}

	env, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	c.logEnvelope(env, len(data))
	return env, nil
}

// Request sends a message and waits for the reply. A StatusReport reply
// with a failure status is returned as *wire.StatusError.
func (c *Conn) Request(ctx context.Context, t wire.MessageType, in any, out any) error {
	if err := c.Send(t, in); err != nil {
		return err
	}
	env, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	if err := env.Status(); err != nil {
		return err
	}

	want := wire.ResponseType(t)
	if env.Type != want {
		return fmt.Errorf("%w: got %s, want %s", wire.ErrInvalidMessage, env.Type, want)
	}
	if out == nil {
		return nil
	}
	return env.Into(out)
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) logMessage(dir log.Direction, t wire.MessageType, size int, v any) {
	if c.opts.ProtocolLogger == nil {
		return
	}
	ev := &log.MessageEvent{Type: t, PayloadSize: size}
	switch m := v.(type) {
	case wire.StatusReport:
		ev.Status = &m.Status
	case *wire.StatusReport:
		ev.Status = &m.Status
	}
	c.emit(dir, ev)
}

func (c *Conn) logEnvelope(env *wire.Envelope, size int) {
	if c.opts.ProtocolLogger == nil {
		return
	}
	ev := &log.MessageEvent{Type: env.Type, PayloadSize: size}
	if env.Type == wire.MessageTypeStatusReport {
		var sr wire.StatusReport
		if env.Into(&sr) == nil {
			ev.Status = &sr.Status
		}
	}
	c.emit(log.DirectionIn, ev)
}

func (c *Conn) emit(dir log.Direction, ev *log.MessageEvent) {
	c.opts.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    c.opts.Role,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Message:      ev,
	})
}
