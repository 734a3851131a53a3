// Package setupcode converts onboarding payloads to and from the numeric
// parameters needed to start a PASE session.
//
// Two encodings are supported:
//
//   - Manual pairing codes: 13 decimal digits. The first 12 digits are the
//     zero-padded value discriminator<<27 | pin; the last digit is a
//     Verhoeff check digit. Every 12-bit discriminator and every 27-bit PIN
//     round-trips.
//
//   - QR payloads: "MT:" followed by the base38 encoding of an 88-bit packed
//     record carrying version, vendor id, product id, commissioning flow,
//     rendezvous capabilities, discriminator and PIN.
//
// All functions are pure and deterministic apart from the Generate helpers.
package setupcode
