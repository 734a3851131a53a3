// Package discovery implements mDNS/DNS-SD discovery for commissioning.
//
// # Commissionable Discovery (_mashc._udp)
//
// Devices with an open commissioning window advertise this service.
// Instance name format: MASH-<discriminator>
// TXT records include: D (discriminator), VP (vendor+product),
// CM (commissioning mode) and optionally DN (device name).
//
// # Operational Discovery (_mash._tcp)
//
// Commissioned devices advertise one instance per fabric. Instance name
// format: <compressed-fabric-id>-<node-id>, both as 16 upper-case hex digits.
package discovery
