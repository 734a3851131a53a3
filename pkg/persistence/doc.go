// Package persistence provides the key-value storage used by the commissioner.
//
// The KVStore interface is the storage collaborator: a flat namespace of
// string keys and opaque byte values. Two implementations are provided:
// MemoryStore for tests and ephemeral controllers, and BoltStore backed by a
// bbolt database file.
//
// On top of the store sit the NodeIdentityStore, which lazily allocates and
// persists the controller's own node id, and the DeviceRegistry, which
// remembers how to reach devices this controller has commissioned.
package persistence
