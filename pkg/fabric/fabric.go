// Package fabric defines the identifiers of an administrative trust domain
// and the shared fabric table owned by a controller factory.
package fabric

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// NodeID identifies a node within a fabric.
type NodeID uint64

// Node id ranges.
const (
	// NodeIDUnspecified is the reserved "no node" value.
	NodeIDUnspecified NodeID = 0

	// MinOperationalNodeID is the lowest operational node id.
	MinOperationalNodeID NodeID = 0x0000_0000_0000_0001

	// MaxOperationalNodeID is the highest operational node id.
	MaxOperationalNodeID NodeID = 0xFFFF_FFEF_FFFF_FFFF
)

// IsOperational reports whether n falls in the operational node id range.
func (n NodeID) IsOperational() bool {
	return n >= MinOperationalNodeID && n <= MaxOperationalNodeID
}

// String returns the node id as 16 upper-case hex digits.
func (n NodeID) String() string {
	return fmt.Sprintf("%016X", uint64(n))
}

// FabricID identifies a fabric.
type FabricID uint64

// FabricIDUndefined is the reserved undefined fabric id.
const FabricIDUndefined FabricID = 0

// IsValid reports whether f is not the undefined sentinel.
func (f FabricID) IsValid() bool {
	return f != FabricIDUndefined
}

// String returns the fabric id as 16 upper-case hex digits.
func (f FabricID) String() string {
	return fmt.Sprintf("%016X", uint64(f))
}

// FabricIndex is the local handle of a fabric table entry.
type FabricIndex uint8

// Fabric index range.
const (
	FabricIndexUndefined FabricIndex = 0
	MinFabricIndex       FabricIndex = 1
	MaxFabricIndex       FabricIndex = 254
)

// IsValid reports whether i is an allocatable fabric index.
func (i FabricIndex) IsValid() bool {
	return i >= MinFabricIndex && i <= MaxFabricIndex
}

// VendorID identifies a device or controller vendor.
type VendorID uint16

// Vendor ids with special meaning.
const (
	// VendorIDCommon is the reserved "common" vendor id and is never a valid
	// administrator vendor.
	VendorIDCommon VendorID = 0x0000

	// VendorIDTest1 is the first test vendor id.
	VendorIDTest1 VendorID = 0xFFF1

	// VendorIDTest4 is the last test vendor id.
	VendorIDTest4 VendorID = 0xFFF4
)

// IsValid reports whether v may be used as an administrator vendor id.
func (v VendorID) IsValid() bool {
	return v != VendorIDCommon
}

// Key material sizes.
const (
	// IPKSize is the size of an identity protection key epoch key.
	IPKSize = 16

	// CompressedFabricIDSize is the size of a compressed fabric identifier.
	CompressedFabricIDSize = 8
)

// CompressedFabricID is the 64-bit digest of root public key and fabric id
// used in operational instance names.
type CompressedFabricID [CompressedFabricIDSize]byte

// Uint64 returns the compressed fabric id as a big-endian integer.
func (c CompressedFabricID) Uint64() uint64 {
	return binary.BigEndian.Uint64(c[:])
}

// String returns the compressed fabric id as 16 upper-case hex digits.
func (c CompressedFabricID) String() string {
	return fmt.Sprintf("%016X", c.Uint64())
}

// HKDF info labels.
var (
	compressedFabricInfo = []byte("CompressedFabric")
	groupKeyInfo         = []byte("GroupKey v1.0")
)

// Derivation errors.
var (
	ErrInvalidRootKey = errors.New("invalid root public key")
	ErrInvalidIPK     = errors.New("invalid IPK length")
)

// DeriveCompressedFabricID derives the compressed fabric id from the root
// public key and fabric id.
func DeriveCompressedFabricID(rootKey *ecdsa.PublicKey, id FabricID) (CompressedFabricID, error) {
	var out CompressedFabricID
	if rootKey == nil {
		return out, ErrInvalidRootKey
	}
	pub, err := rootKey.ECDH()
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRootKey, err)
	}
	if pub.Curve() != ecdh.P256() {
		return out, fmt.Errorf("%w: not P-256", ErrInvalidRootKey)
	}

	// Uncompressed point without the 0x04 format byte.
	raw := pub.Bytes()[1:]

	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], uint64(id))

	r := hkdf.New(sha256.New, raw, salt[:], compressedFabricInfo)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("derive compressed fabric id: %w", err)
	}
	return out, nil
}

// DeriveOperationalGroupKey derives the operational group key for an IPK
// epoch key within a fabric.
func DeriveOperationalGroupKey(epochKey []byte, cfid CompressedFabricID) ([]byte, error) {
	if len(epochKey) != IPKSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIPK, len(epochKey))
	}
	out := make([]byte, IPKSize)
	r := hkdf.New(sha256.New, epochKey, cfid[:], groupKeyInfo)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive group key: %w", err)
	}
	return out, nil
}
