package cert

import (
	"crypto/x509"
	"errors"
	"fmt"

	"filippo.io/age"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
)

// AuthorityStore persists fabric root authorities in a key-value store.
// Certificates are stored as DER; private keys are sealed to an age
// X25519 identity.
type AuthorityStore struct {
	kv       persistence.KVStore
	identity *age.X25519Identity
}

// NewAuthorityStore creates a store sealing keys to identity.
func NewAuthorityStore(kv persistence.KVStore, identity *age.X25519Identity) *AuthorityStore {
	return &AuthorityStore{kv: kv, identity: identity}
}

func authorityKeys(id fabric.FabricID) (certKey, keyKey string) {
	prefix := fmt.Sprintf("authority/%016X/", uint64(id))
	return prefix + "rcac", prefix + "key"
}

// Save stores the authority for a fabric, replacing any previous one.
func (s *AuthorityStore) Save(id fabric.FabricID, a *Authority) error {
	if err := checkIssuer(a); err != nil {
		return err
	}
	sealed, err := SealKey(a.PrivateKey, s.identity.Recipient())
	if err != nil {
		return err
	}
	certKey, keyKey := authorityKeys(id)
	if err := s.kv.Set(keyKey, sealed); err != nil {
		return fmt.Errorf("store authority key: %w", err)
	}
	if err := s.kv.Set(certKey, a.Certificate.Raw); err != nil {
		return fmt.Errorf("store authority certificate: %w", err)
	}
	return nil
}

// Load reads the authority for a fabric. It returns an error wrapping
// persistence.ErrNotFound when none is stored.
func (s *AuthorityStore) Load(id fabric.FabricID) (*Authority, error) {
	certKey, keyKey := authorityKeys(id)
	der, err := s.kv.Get(certKey)
	if err != nil {
		return nil, fmt.Errorf("load authority certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCert, err)
	}
	sealed, err := s.kv.Get(keyKey)
	if err != nil {
		return nil, fmt.Errorf("load authority key: %w", err)
	}
	key, err := OpenKey(sealed, s.identity)
	if err != nil {
		return nil, err
	}
	if !key.PublicKey.Equal(c.PublicKey) {
		return nil, fmt.Errorf("%w: key does not match certificate", ErrInvalidKey)
	}
	return &Authority{Certificate: c, PrivateKey: key}, nil
}

// LoadOrCreate returns the stored authority for a fabric, creating and
// persisting a new root when none exists. created reports which happened.
func (s *AuthorityStore) LoadOrCreate(id fabric.FabricID) (a *Authority, created bool, err error) {
	a, err = s.Load(id)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, false, err
	}

	a, err = NewRootAuthority(1, id, RootValidity)
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(id, a); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Delete removes the stored authority for a fabric.
func (s *AuthorityStore) Delete(id fabric.FabricID) error {
	certKey, keyKey := authorityKeys(id)
	if err := s.kv.Delete(certKey); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	if err := s.kv.Delete(keyKey); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return nil
}
