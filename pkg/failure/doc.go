// Package failure defines the structured error value returned across the
// commissioner's public boundaries.
//
// Every error carries a Kind from a closed taxonomy plus the operation that
// failed, an optional protocol status code and the wrapped cause:
//
//	if errors.Is(err, failure.ErrNotRunning) {
//		// controller was shut down
//	}
//
// Lower layers keep returning their own sentinel errors; the controller,
// pairing manager and commissioning engine classify them with New or Wrap.
package failure
