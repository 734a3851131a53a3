package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/failure"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/transport"
	"github.com/mash-protocol/mash-commissioner/pkg/window"
)

// PairDevice starts PASE with a device found by discriminator and PIN.
func (c *Controller) PairDevice(ctx context.Context, deviceID fabric.NodeID, discriminator uint16, pin uint32) error {
	return c.exec(ctx, "controller.PairDevice", func(r *commissioner) error {
		return r.pairing.PairWithCode(deviceID, discriminator, pin)
	})
}

// PairDeviceWithAddress starts PASE with a device at host:port.
func (c *Controller) PairDeviceWithAddress(ctx context.Context, deviceID fabric.NodeID, host string, port uint16, pin uint32) error {
	return c.exec(ctx, "controller.PairDeviceWithAddress", func(r *commissioner) error {
		return r.pairing.PairWithAddress(deviceID, host, port, pin)
	})
}

// PairDeviceWithCode starts PASE from a manual code or QR payload.
func (c *Controller) PairDeviceWithCode(ctx context.Context, deviceID fabric.NodeID, payload string) error {
	return c.exec(ctx, "controller.PairDeviceWithCode", func(r *commissioner) error {
		return r.pairing.PairWithPayload(deviceID, payload)
	})
}

// CommissionDevice commissions a paired device. Progress and the outcome
// are reported to the pairing delegate.
func (c *Controller) CommissionDevice(ctx context.Context, deviceID fabric.NodeID, params commissioning.Parameters) error {
	return c.exec(ctx, "controller.CommissionDevice", func(r *commissioner) error {
		return r.engine.Commission(deviceID, params)
	})
}

// ContinueCommissioningDevice resumes a commissioning suspended on an
// attestation failure.
func (c *Controller) ContinueCommissioningDevice(ctx context.Context, deviceID fabric.NodeID, ignoreAttestationFailure bool) error {
	return c.exec(ctx, "controller.ContinueCommissioningDevice", func(r *commissioner) error {
		return r.engine.ContinueAfterAttestation(deviceID, ignoreAttestationFailure)
	})
}

// StopDevicePairing cancels a device's pairing and any commissioning
// running over it. Other devices are not affected.
func (c *Controller) StopDevicePairing(ctx context.Context, deviceID fabric.NodeID) error {
	return c.exec(ctx, "controller.StopDevicePairing", func(r *commissioner) error {
		if err := r.pairing.StopPairing(deviceID); err != nil {
			return err
		}
		r.engine.Cancel(deviceID)
		return nil
	})
}

// DeviceBeingCommissioned returns the device certificate issuance is
// currently bound to.
func (c *Controller) DeviceBeingCommissioned(ctx context.Context) (fabric.NodeID, bool, error) {
	type bound struct {
		id fabric.NodeID
		ok bool
	}
	b, err := call(ctx, c, "controller.DeviceBeingCommissioned", func(r *commissioner) (bound, error) {
		id, ok := r.issuer.DeviceBeingCommissioned()
		return bound{id, ok}, nil
	})
	return b.id, b.ok, err
}

// SetPairingDelegate replaces the pairing delegate. Nil removes it.
func (c *Controller) SetPairingDelegate(ctx context.Context, d pairing.Delegate) error {
	return c.exec(ctx, "controller.SetPairingDelegate", func(r *commissioner) error {
		r.delegate = d
		r.pairing.SetDelegate(d)
		return nil
	})
}

// PairingState returns the pairing state of a device.
func (c *Controller) PairingState(ctx context.Context, deviceID fabric.NodeID) (pairing.State, error) {
	return call(ctx, c, "controller.PairingState", func(r *commissioner) (pairing.State, error) {
		return r.pairing.State(deviceID), nil
	})
}

// Devices lists the devices commissioned onto the controller's fabric.
func (c *Controller) Devices(ctx context.Context) ([]persistence.DeviceRecord, error) {
	return call(ctx, c, "controller.Devices", func(r *commissioner) ([]persistence.DeviceRecord, error) {
		recs, err := r.registry.List(r.info.Index)
		if err != nil {
			return nil, failure.New(failure.KindStorage, "controller.Devices", err)
		}
		return recs, nil
	})
}

// GetConnectedDevice opens an operational session to a commissioned
// device. The lookup happens before it returns; the connect runs in the
// background and done is called on executor (inline when nil).
func (c *Controller) GetConnectedDevice(ctx context.Context, deviceID fabric.NodeID, executor func(func()), done func(session.Channel, error)) error {
	const op = "controller.GetConnectedDevice"

	if done == nil {
		return failure.Errorf(failure.KindInvalidArgument, op, "completion is required")
	}
	if executor == nil {
		executor = func(fn func()) { fn() }
	}
	t, err := call(ctx, c, op, func(r *commissioner) (target, error) {
		return r.target(op, deviceID)
	})
	if err != nil {
		return err
	}
	go func() {
		ch, err := c.dial(t.ctx, op, t)
		executor(func() { done(ch, err) })
	}()
	return nil
}

// OpenPairingWindow opens a basic commissioning window on a device.
func (c *Controller) OpenPairingWindow(ctx context.Context, deviceID fabric.NodeID, duration time.Duration) error {
	o, err := c.opener(ctx, "controller.OpenPairingWindow")
	if err != nil {
		return err
	}
	return o.OpenBasic(ctx, deviceID, duration)
}

// OpenPairingWindowWithPIN opens an enhanced commissioning window and
// returns the invitation for the next administrator.
func (c *Controller) OpenPairingWindowWithPIN(ctx context.Context, deviceID fabric.NodeID, duration time.Duration, iterations uint32, discriminator uint16, pin uint32) (*window.Invitation, error) {
	o, err := c.opener(ctx, "controller.OpenPairingWindowWithPIN")
	if err != nil {
		return nil, err
	}
	return o.OpenEnhanced(ctx, deviceID, duration, iterations, discriminator, pin)
}

func (c *Controller) opener(ctx context.Context, op string) (*window.Opener, error) {
	return call(ctx, c, op, func(r *commissioner) (*window.Opener, error) {
		return r.opener, nil
	})
}

// UpdateDevice re-resolves a commissioned device's operational address
// and records it.
func (c *Controller) UpdateDevice(ctx context.Context, deviceID fabric.NodeID) (string, error) {
	const op = "controller.UpdateDevice"

	t, err := call(ctx, c, op, func(r *commissioner) (target, error) {
		return r.target(op, deviceID)
	})
	if err != nil {
		return "", err
	}
	addr, err := c.cfg.Transport.ResolveOperational(ctx, t.cfid, deviceID)
	if err != nil {
		return "", failure.Wrap(failure.KindProtocol, op, err)
	}
	err = c.exec(ctx, op, func(r *commissioner) error {
		if err := r.registry.UpdateAddress(r.info.Index, deviceID, addr, c.cfg.Now()); err != nil {
			return failure.New(failure.KindStorage, op, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("device address updated", "device", deviceID, "address", addr)
	return addr, nil
}

// target is what an operational connect needs, captured on the work queue.
type target struct {
	ctx      context.Context
	deviceID fabric.NodeID
	address  string
	index    fabric.FabricIndex
	cfid     fabric.CompressedFabricID
	creds    transport.OperationalTLSConfig
	registry *persistence.DeviceRegistry
}

func (r *commissioner) target(op string, deviceID fabric.NodeID) (target, error) {
	rec, err := r.registry.Get(r.info.Index, deviceID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return target{}, failure.New(failure.KindInvalidArgument, op, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID))
	case err != nil:
		return target{}, failure.New(failure.KindStorage, op, err)
	}
	return target{
		ctx:      r.ctx,
		deviceID: deviceID,
		address:  rec.Address,
		index:    r.info.Index,
		cfid:     r.info.CompressedFabricID,
		creds:    transport.OperationalTLSConfig{Chain: r.chain, Key: r.key},
		registry: r.registry,
	}, nil
}

// dial connects to t, resolving and recording the address first when none
// is known.
func (c *Controller) dial(ctx context.Context, op string, t target) (session.Channel, error) {
	addr := t.address
	if addr == "" {
		resolved, err := c.cfg.Transport.ResolveOperational(ctx, t.cfid, t.deviceID)
		if err != nil {
			return nil, failure.Wrap(failure.KindProtocol, op, err)
		}
		addr = resolved
		_ = c.work.Post(func() {
			if err := t.registry.UpdateAddress(t.index, t.deviceID, addr, c.cfg.Now()); err != nil {
				c.logger.Warn("record device address", "device", t.deviceID, "error", err)
			}
		})
	}
	ch, err := c.cfg.Transport.ConnectOperational(ctx, t.deviceID, addr, t.creds)
	if err != nil {
		return nil, failure.Wrap(failure.KindProtocol, op, err)
	}
	return ch, nil
}

// connector opens operational sessions for the window opener.
type connector struct{ c *Controller }

func (k connector) Connect(ctx context.Context, deviceID fabric.NodeID) (session.Channel, error) {
	const op = "controller.Connect"

	t, err := call(ctx, k.c, op, func(r *commissioner) (target, error) {
		return r.target(op, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return k.c.dial(ctx, op, t)
}
