package controller

import (
	"context"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/transport"
)

// Transport is the session layer the controller drives.
// *session.Manager satisfies it.
type Transport interface {
	// EstablishPASE connects to a commissionable device and runs PASE.
	EstablishPASE(ctx context.Context, deviceID fabric.NodeID, target session.Target) (session.Channel, error)

	// ConnectOperational opens a NOC-authenticated session to a
	// commissioned device.
	ConnectOperational(ctx context.Context, deviceID fabric.NodeID, address string, creds transport.OperationalTLSConfig) (session.Channel, error)

	// ResolveOperational finds the current address of a node on a fabric.
	ResolveOperational(ctx context.Context, cfid fabric.CompressedFabricID, node fabric.NodeID) (string, error)

	// ComputePAKEVerifier derives a PASE verifier for an enhanced window.
	ComputePAKEVerifier(pin uint32, salt []byte, iterations uint32) ([]byte, error)
}

var _ Transport = (*session.Manager)(nil)

// Owner is told when a controller stops being active.
type Owner interface {
	ControllerShuttingDown(c *Controller)
}
