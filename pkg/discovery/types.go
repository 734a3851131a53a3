package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Service type constants for mDNS.
const (
	// ServiceTypeCommissionable is the service type for devices in commissioning mode.
	ServiceTypeCommissionable = "_mashc._udp"

	// ServiceTypeOperational is the service type for commissioned devices.
	ServiceTypeOperational = "_mash._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default commissioning port.
	DefaultPort = 5540
)

// TXT record key constants.
const (
	TXTKeyDiscriminator     = "D"  // Discriminator (0-4095)
	TXTKeyVendorProduct     = "VP" // <vendor>+<product>, decimal
	TXTKeyCommissioningMode = "CM" // 1 basic, 2 enhanced
	TXTKeyDeviceName        = "DN" // Device name (optional)
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxDiscriminator is the maximum discriminator value (12 bits).
	MaxDiscriminator = 4095

	// BrowseTimeout is the default timeout for mDNS lookups.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	ErrInvalidDiscriminator = errors.New("discriminator out of range")
	ErrInvalidTXTRecord     = errors.New("invalid TXT record format")
	ErrMissingRequired      = errors.New("missing required field")
	ErrInvalidInstanceName  = errors.New("invalid instance name")
	ErrNotFound             = errors.New("service not found")
)

// CommissioningMode is the advertised window type.
type CommissioningMode uint8

const (
	CommissioningModeClosed   CommissioningMode = 0
	CommissioningModeBasic    CommissioningMode = 1
	CommissioningModeEnhanced CommissioningMode = 2
)

// String returns the mode name.
func (m CommissioningMode) String() string {
	switch m {
	case CommissioningModeClosed:
		return "CLOSED"
	case CommissioningModeBasic:
		return "BASIC"
	case CommissioningModeEnhanced:
		return "ENHANCED"
	default:
		return "UNKNOWN"
	}
}

// CommissionableInfo is what a device advertises while its window is open.
type CommissionableInfo struct {
	Discriminator uint16
	VendorID      fabric.VendorID
	ProductID     uint16
	Mode          CommissioningMode
	DeviceName    string
	Port          uint16
}

// OperationalInfo is what a commissioned device advertises per fabric.
type OperationalInfo struct {
	CompressedFabricID fabric.CompressedFabricID
	NodeID             fabric.NodeID
	Port               uint16
}

// CommissionableService is a resolved commissionable advertisement.
type CommissionableService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	CommissionableInfo
}

// Address returns host:port for the first resolved address.
func (s *CommissionableService) Address() string {
	return joinFirst(s.Addresses, s.Host, s.Port)
}

// OperationalService is a resolved operational advertisement.
type OperationalService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	CompressedFabricID fabric.CompressedFabricID
	NodeID             fabric.NodeID
}

// Address returns host:port for the first resolved address.
func (s *OperationalService) Address() string {
	return joinFirst(s.Addresses, s.Host, s.Port)
}

func joinFirst(addrs []string, host string, port uint16) string {
	h := host
	if len(addrs) > 0 {
		h = addrs[0]
	}
	return net.JoinHostPort(strings.TrimSuffix(h, "."), strconv.Itoa(int(port)))
}

// CommissionableInstanceName returns the instance name for a discriminator.
func CommissionableInstanceName(discriminator uint16) string {
	return fmt.Sprintf("MASH-%04d", discriminator)
}

// OperationalInstanceName returns the instance name of a node on a fabric.
func OperationalInstanceName(cfid fabric.CompressedFabricID, node fabric.NodeID) string {
	return cfid.String() + "-" + node.String()
}

// ParseOperationalInstanceName is the inverse of OperationalInstanceName.
func ParseOperationalInstanceName(name string) (fabric.CompressedFabricID, fabric.NodeID, error) {
	var cfid fabric.CompressedFabricID
	left, right, ok := strings.Cut(name, "-")
	if !ok || len(left) != 16 || len(right) != 16 {
		return cfid, 0, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	c, err := strconv.ParseUint(left, 16, 64)
	if err != nil {
		return cfid, 0, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	n, err := strconv.ParseUint(right, 16, 64)
	if err != nil {
		return cfid, 0, fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	for i := range cfid {
		cfid[i] = byte(c >> (56 - 8*i))
	}
	return cfid, fabric.NodeID(n), nil
}
