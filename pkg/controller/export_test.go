package controller

import (
	"github.com/mash-protocol/mash-commissioner/pkg/credentials"
	"github.com/mash-protocol/mash-commissioner/pkg/dispatch"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// WorkQueue exposes the serialized context to tests.
func (c *Controller) WorkQueue() *dispatch.Queue { return c.work }

// SetBeforeGroupKey installs a hook run right before the IPK is installed
// during startup.
func (c *Controller) SetBeforeGroupKey(fn func(*credentials.Issuer, fabric.FabricIndex)) {
	c.beforeGroupKey = fn
}
