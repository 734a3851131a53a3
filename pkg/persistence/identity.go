package persistence

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// NodeIDKey is the key under which the controller's node id is persisted.
const NodeIDKey = "commissioner/node-id"

// ErrCorruptNodeID is returned when the persisted node id cannot be used.
var ErrCorruptNodeID = errors.New("persisted node id is corrupt")

// NodeIdentityStore persists the controller's own node id.
type NodeIdentityStore struct {
	mu   sync.Mutex
	kv   KVStore
	rand io.Reader
}

// NewNodeIdentityStore creates an identity store on kv.
func NewNodeIdentityStore(kv KVStore) *NodeIdentityStore {
	return &NodeIdentityStore{kv: kv, rand: rand.Reader}
}

// GetOrCreate returns the persisted node id, allocating and persisting a
// random operational node id on first use.
func (s *NodeIdentityStore) GetOrCreate() (fabric.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(NodeIDKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("%w: %d bytes", ErrCorruptNodeID, len(raw))
		}
		id := fabric.NodeID(binary.LittleEndian.Uint64(raw))
		if !id.IsOperational() {
			return 0, fmt.Errorf("%w: %s not operational", ErrCorruptNodeID, id)
		}
		return id, nil
	case !errors.Is(err, ErrNotFound):
		return 0, fmt.Errorf("read node id: %w", err)
	}

	id, err := s.allocate()
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	if err := s.kv.Set(NodeIDKey, buf[:]); err != nil {
		return 0, fmt.Errorf("write node id: %w", err)
	}
	return id, nil
}

// allocate draws a uniformly random operational node id.
func (s *NodeIdentityStore) allocate() (fabric.NodeID, error) {
	var buf [8]byte
	for {
		if _, err := io.ReadFull(s.rand, buf[:]); err != nil {
			return 0, fmt.Errorf("allocate node id: %w", err)
		}
		id := fabric.NodeID(binary.LittleEndian.Uint64(buf[:]))
		if id.IsOperational() {
			return id, nil
		}
	}
}
