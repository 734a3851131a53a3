// Package transport carries wire envelopes over TLS 1.3.
//
// Frames are a 4-byte big-endian length followed by a CBOR envelope.
// Commissioning connections skip certificate verification (PASE
// authenticates the peer); operational connections verify the peer NOC
// against the fabric root and expected node id.
package transport
