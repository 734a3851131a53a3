// Package controller implements the device controller: the public facade
// that owns one commissioner identity on one fabric and exposes pairing,
// commissioning and commissioning-window operations.
//
// # Lifecycle
//
// A controller is created by a Factory (or New) and is inert until
// Startup. Startup loads or allocates the controller's node id, brings up
// the credential issuer, issues the controller's own operational
// certificate, registers the fabric in the factory's fabric table and
// installs the fabric's identity protection key. A failure at any step
// tears down whatever was built, leaving the controller not running.
//
// Shutdown tears the running state down in a fixed order: the commissioner
// (commissioning flows and pairings), the attestation bridge, the issuer
// and finally the pairing delegate binding. The owner is then told the
// controller is no longer active so it can release the fabric table entry.
//
// # Concurrency
//
// Every mutating operation runs on the controller's work queue, one at a
// time in submission order; callers block until their turn. IsRunning,
// ControllerNodeID and FabricIndex read an atomically published snapshot
// and never enter the queue.
//
// Handshakes, commissioning flows and operational connects run on their
// own goroutines. Their completions are posted back onto the work queue.
// Delegate events are delivered on a second queue, so a delegate may call
// back into the controller from an event.
package controller
