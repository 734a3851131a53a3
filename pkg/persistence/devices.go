package persistence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

const devicePrefix = "devices/"

// DeviceRecord describes a device commissioned by this controller.
type DeviceRecord struct {
	NodeID         fabric.NodeID      `cbor:"1,keyasint"`
	FabricIndex    fabric.FabricIndex `cbor:"2,keyasint"`
	Address        string             `cbor:"3,keyasint,omitempty"`
	CommissionedAt time.Time          `cbor:"4,keyasint"`
	UpdatedAt      time.Time          `cbor:"5,keyasint"`
}

// DeviceRegistry stores DeviceRecords in a KVStore, one key per device and fabric.
type DeviceRegistry struct {
	kv KVStore
}

// NewDeviceRegistry creates a registry on kv.
func NewDeviceRegistry(kv KVStore) *DeviceRegistry {
	return &DeviceRegistry{kv: kv}
}

func deviceKey(idx fabric.FabricIndex, id fabric.NodeID) string {
	return fmt.Sprintf("%s%02X/%s", devicePrefix, uint8(idx), id)
}

// Put stores rec.
func (r *DeviceRegistry) Put(rec DeviceRecord) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode device record: %w", err)
	}
	return r.kv.Set(deviceKey(rec.FabricIndex, rec.NodeID), data)
}

// Get returns the record for id on fabric idx, or ErrNotFound.
func (r *DeviceRegistry) Get(idx fabric.FabricIndex, id fabric.NodeID) (DeviceRecord, error) {
	data, err := r.kv.Get(deviceKey(idx, id))
	if err != nil {
		return DeviceRecord{}, err
	}
	var rec DeviceRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return DeviceRecord{}, fmt.Errorf("decode device record: %w", err)
	}
	return rec, nil
}

// UpdateAddress replaces the address of an existing record.
func (r *DeviceRegistry) UpdateAddress(idx fabric.FabricIndex, id fabric.NodeID, addr string, now time.Time) error {
	rec, err := r.Get(idx, id)
	if err != nil {
		return err
	}
	rec.Address = addr
	rec.UpdatedAt = now
	return r.Put(rec)
}

// Delete removes the record for id on fabric idx.
func (r *DeviceRegistry) Delete(idx fabric.FabricIndex, id fabric.NodeID) error {
	return r.kv.Delete(deviceKey(idx, id))
}

// List returns every record on fabric idx.
func (r *DeviceRegistry) List(idx fabric.FabricIndex) ([]DeviceRecord, error) {
	prefix := fmt.Sprintf("%s%02X/", devicePrefix, uint8(idx))
	keys, err := r.kv.Keys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceRecord, 0, len(keys))
	for _, k := range keys {
		data, err := r.kv.Get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec DeviceRecord
		if err := cbor.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", strings.TrimPrefix(k, devicePrefix), err)
		}
		out = append(out, rec)
	}
	return out, nil
}
