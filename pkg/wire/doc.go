// Package wire defines the CBOR messages exchanged between a commissioner
// and a commissionee.
//
// Every message travels inside an Envelope carrying its MessageType and a
// CBOR payload. Payload structs use integer keys. Envelopes are written as
// length-prefixed frames over TLS 1.3 by package transport.
//
// # Message families
//
//   - PASE: PBKDFParamRequest/Response, Pake1, Pake2, Pake3
//   - Commissioning commands: ArmFailSafe through CommissioningComplete
//   - Window management: OpenCommissioningWindow, OpenBasicCommissioningWindow
//   - StatusReport: success or failure of a step that has no data response
package wire
