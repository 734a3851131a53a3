// Package failsafe mirrors a device's commissioning fail-safe on the
// commissioner side.
//
// A commissioner arms the device fail-safe (ArmFailSafe) before changing
// any configuration. If commissioning does not complete before the armed
// expiry, the device rolls back everything added since arming. The Timer
// here tracks the same deadline locally so a suspended commissioning (for
// example one waiting for an attestation decision) is abandoned instead of
// continuing against a device that has already rolled back.
//
// # Timer Behavior
//
//   - Arm starts the timer; arming again replaces the deadline
//   - Disarm stops it after CommissioningComplete or an abort
//   - Expiry moves the timer to EXPIRED and fires OnExpire once
package failsafe
