package testdevice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// ErrChannelClosed is returned by Invoke after Close.
var ErrChannelClosed = errors.New("channel closed")

// Channel is an in-process PASE session to the device. Every command is
// encoded and decoded as it would be on the wire.
type Channel struct {
	dev       *Device
	deviceID  fabric.NodeID
	challenge []byte
	closed    atomic.Bool
}

var _ session.Channel = (*Channel)(nil)

// Channel opens an in-process PASE session with a random attestation
// challenge.
func (d *Device) Channel(deviceID fabric.NodeID) *Channel {
	challenge := make([]byte, 16)
	_, _ = rand.Read(challenge)
	return &Channel{dev: d, deviceID: deviceID, challenge: challenge}
}

// OperationalChannel opens an in-process session that behaves like an
// operational one: there is no attestation challenge and administrator
// commands are accepted.
func (d *Device) OperationalChannel(deviceID fabric.NodeID) *Channel {
	return &Channel{dev: d, deviceID: deviceID}
}

func (c *Channel) DeviceID() fabric.NodeID { return c.deviceID }

func (c *Channel) AttestationChallenge() []byte { return c.challenge }

func (c *Channel) RemoteAddr() string { return "in-process" }

// Closed reports whether Close was called.
func (c *Channel) Closed() bool { return c.closed.Load() }

func (c *Channel) Close() error {
	c.closed.Store(true)
	return nil
}

// Invoke hands the command to the device and decodes its answer. A stalled
// command blocks until ctx is done.
func (c *Channel) Invoke(ctx context.Context, t wire.MessageType, in, out any) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	req, err := roundTrip(t, in)
	if err != nil {
		return err
	}

	rt, reply := c.dev.Handle(c.challenge, req)
	if reply == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	env, err := roundTrip(rt, reply)
	if err != nil {
		return err
	}
	if err := env.Status(); err != nil {
		return err
	}
	if want := wire.ResponseType(t); env.Type != want {
		return fmt.Errorf("%w: got %s, want %s", wire.ErrInvalidMessage, env.Type, want)
	}
	if out == nil {
		return nil
	}
	return env.Into(out)
}

func roundTrip(t wire.MessageType, v any) (*wire.Envelope, error) {
	data, err := wire.Encode(t, v)
	if err != nil {
		return nil, err
	}
	return wire.Decode(data)
}
