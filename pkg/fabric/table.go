package fabric

import (
	"crypto/ecdsa"
	"errors"
	"sync"
)

// Table errors.
var (
	ErrTableFull     = errors.New("fabric table full")
	ErrFabricExists  = errors.New("fabric already present")
	ErrFabricUnknown = errors.New("fabric not found")
)

// Info describes one fabric table entry.
type Info struct {
	Index              FabricIndex
	FabricID           FabricID
	NodeID             NodeID
	VendorID           VendorID
	RootPublicKey      *ecdsa.PublicKey
	CompressedFabricID CompressedFabricID
}

// Table is the shared fabric table. Controllers created by the same factory
// add their own fabric at startup and remove it at shutdown.
type Table struct {
	mu      sync.RWMutex
	entries map[FabricIndex]Info
	next    FabricIndex
}

// NewTable creates an empty fabric table.
func NewTable() *Table {
	return &Table{
		entries: make(map[FabricIndex]Info),
		next:    MinFabricIndex,
	}
}

// Add allocates a fabric index for the given fabric.
// The same (root key, fabric id) pair may only be present once.
func (t *Table) Add(root *ecdsa.PublicKey, id FabricID, node NodeID, vendor VendorID) (Info, error) {
	cfid, err := DeriveCompressedFabricID(root, id)
	if err != nil {
		return Info{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.FabricID == id && e.RootPublicKey.Equal(root) {
			return Info{}, ErrFabricExists
		}
	}

	idx, ok := t.allocate()
	if !ok {
		return Info{}, ErrTableFull
	}

	info := Info{
		Index:              idx,
		FabricID:           id,
		NodeID:             node,
		VendorID:           vendor,
		RootPublicKey:      root,
		CompressedFabricID: cfid,
	}
	t.entries[idx] = info
	return info, nil
}

// allocate returns the next free index, wrapping after MaxFabricIndex.
// Caller must hold the write lock.
func (t *Table) allocate() (FabricIndex, bool) {
	if len(t.entries) >= int(MaxFabricIndex) {
		return FabricIndexUndefined, false
	}
	for {
		idx := t.next
		t.next++
		if t.next > MaxFabricIndex || t.next < MinFabricIndex {
			t.next = MinFabricIndex
		}
		if _, used := t.entries[idx]; !used {
			return idx, true
		}
	}
}

// Remove deletes the entry at idx.
func (t *Table) Remove(idx FabricIndex) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[idx]; !ok {
		return ErrFabricUnknown
	}
	delete(t.entries, idx)
	return nil
}

// Get returns the entry at idx.
func (t *Table) Get(idx FabricIndex) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.entries[idx]
	return info, ok
}

// Find looks up the index of a fabric by root key and fabric id.
func (t *Table) Find(root *ecdsa.PublicKey, id FabricID) (FabricIndex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for idx, e := range t.entries {
		if e.FabricID == id && e.RootPublicKey.Equal(root) {
			return idx, true
		}
	}
	return FabricIndexUndefined, false
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
