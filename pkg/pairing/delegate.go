package pairing

import (
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Delegate receives pairing and commissioning lifecycle events. Events are
// delivered in order on the manager's executor; a delegate may call back
// into the controller from them.
type Delegate interface {
	// OnStatusUpdate reports pairing state transitions.
	OnStatusUpdate(deviceID fabric.NodeID, state State)

	// OnPairingComplete reports the end of a handshake; err is nil when a
	// session was established.
	OnPairingComplete(deviceID fabric.NodeID, err error)

	// OnPairingDeleted reports that a pairing was stopped.
	OnPairingDeleted(deviceID fabric.NodeID, err error)

	// OnCommissioningStatusUpdate reports commissioning stage progress.
	OnCommissioningStatusUpdate(deviceID fabric.NodeID, stage string, err error)

	// OnCommissioningComplete reports the end of commissioning.
	OnCommissioningComplete(deviceID fabric.NodeID, err error)
}

// BaseDelegate implements Delegate with no-ops, for embedding.
type BaseDelegate struct{}

func (BaseDelegate) OnStatusUpdate(fabric.NodeID, State)                      {}
func (BaseDelegate) OnPairingComplete(fabric.NodeID, error)                   {}
func (BaseDelegate) OnPairingDeleted(fabric.NodeID, error)                    {}
func (BaseDelegate) OnCommissioningStatusUpdate(fabric.NodeID, string, error) {}
func (BaseDelegate) OnCommissioningComplete(fabric.NodeID, error)             {}

var _ Delegate = BaseDelegate{}
