package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeCommissionableTXT creates TXT records for commissionable discovery.
func EncodeCommissionableTXT(info *CommissionableInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	txt[TXTKeyDiscriminator] = strconv.FormatUint(uint64(info.Discriminator), 10)
	txt[TXTKeyVendorProduct] = fmt.Sprintf("%d+%d", info.VendorID, info.ProductID)
	txt[TXTKeyCommissioningMode] = strconv.FormatUint(uint64(info.Mode), 10)
	if info.DeviceName != "" {
		txt[TXTKeyDeviceName] = info.DeviceName
	}
	return txt
}

// DecodeCommissionableTXT parses TXT records from commissionable discovery.
// Only the discriminator is required.
func DecodeCommissionableTXT(txt TXTRecordMap) (*CommissionableInfo, error) {
	info := &CommissionableInfo{}

	dStr, ok := txt[TXTKeyDiscriminator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDiscriminator)
	}
	d, err := strconv.ParseUint(dStr, 10, 16)
	if err != nil || d > MaxDiscriminator {
		return nil, ErrInvalidDiscriminator
	}
	info.Discriminator = uint16(d)

	if vp, ok := txt[TXTKeyVendorProduct]; ok {
		v, p, _ := strings.Cut(vp, "+")
		vid, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: vendor %q", ErrInvalidTXTRecord, v)
		}
		info.VendorID = fabric.VendorID(vid)
		if p != "" {
			pid, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: product %q", ErrInvalidTXTRecord, p)
			}
			info.ProductID = uint16(pid)
		}
	}

	if cm, ok := txt[TXTKeyCommissioningMode]; ok {
		m, err := strconv.ParseUint(cm, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: mode %q", ErrInvalidTXTRecord, cm)
		}
		info.Mode = CommissioningMode(m)
	}

	info.DeviceName = txt[TXTKeyDeviceName]
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
