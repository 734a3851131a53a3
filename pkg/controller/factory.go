package controller

import (
	"context"
	"sync"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Factory creates controllers sharing one fabric table and releases each
// controller's fabric entry when it shuts down.
type Factory struct {
	template Config
	table    *fabric.Table

	mu          sync.Mutex
	controllers map[*Controller]struct{}
}

// NewFactory creates a factory. cfg is the template for every controller;
// its Fabrics and Owner are replaced by the factory's own.
func NewFactory(cfg Config) *Factory {
	f := &Factory{
		table:       fabric.NewTable(),
		controllers: make(map[*Controller]struct{}),
	}
	cfg.Fabrics = f.table
	cfg.Owner = f
	f.template = cfg
	return f
}

// Fabrics returns the shared fabric table.
func (f *Factory) Fabrics() *fabric.Table {
	return f.table
}

// NewController creates a stopped controller.
func (f *Factory) NewController() (*Controller, error) {
	c, err := New(f.template)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.controllers[c] = struct{}{}
	f.mu.Unlock()
	return c, nil
}

// ControllerShuttingDown releases the fabric entry of a controller that is
// tearing down.
func (f *Factory) ControllerShuttingDown(c *Controller) {
	idx := c.retiredFabric()
	if !idx.IsValid() {
		return
	}
	if err := f.table.Remove(idx); err != nil {
		c.logger.Warn("release fabric", "fabric_index", idx, "error", err)
	}
}

// Close closes every controller the factory created.
func (f *Factory) Close() {
	f.mu.Lock()
	controllers := f.controllers
	f.controllers = make(map[*Controller]struct{})
	f.mu.Unlock()

	for c := range controllers {
		c.Close()
	}
}

// Shutdown shuts down every running controller without closing them.
func (f *Factory) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	controllers := make([]*Controller, 0, len(f.controllers))
	for c := range f.controllers {
		controllers = append(controllers, c)
	}
	f.mu.Unlock()

	for _, c := range controllers {
		if err := c.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
