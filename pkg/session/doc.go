// Package session establishes the secure sessions a commissioner talks to
// devices over: PASE sessions to commissionable devices, and operational
// (NOC-authenticated TLS) sessions to commissioned ones.
//
// Manager resolves addresses through mDNS when a target carries only a
// discriminator, retries dialing with exponential backoff, and runs the
// PASE handshake. Sessions satisfy Channel, the narrow interface the
// commissioning and window packages send commands through.
package session
