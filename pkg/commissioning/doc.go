// Package commissioning drives an established PASE session through
// credential installation.
//
// # Flow
//
//	ArmFailSafe -> AttestationRequest -> verify evidence
//	            -> CSRRequest -> issue NOC chain
//	            -> AddTrustedRoot -> AddNOC
//	            -> NetworkConfig (optional)
//	            -> CommissioningComplete
//
// Evidence is checked by the built-in verifier, or, when the caller binds
// an attestation delegate, handed to an attestation.Bridge. A flow whose
// delegate rejects the evidence (or does not answer in time) suspends until
// ContinueAfterAttestation resumes it with a verdict. The local fail-safe
// timer mirrors the expiry armed on the device and aborts a flow that
// outlives it.
//
// NOC issuance is funneled through Config.Serialize so that no two
// issuance calls ever overlap.
package commissioning
