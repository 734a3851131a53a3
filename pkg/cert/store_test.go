package cert

import (
	"crypto/x509"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
)

func newTestIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	return id
}

func TestSealOpenKey(t *testing.T) {
	id := newTestIdentity(t)
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := SealKey(kp.PrivateKey, id.Recipient())
	require.NoError(t, err)

	key, err := OpenKey(sealed, id)
	require.NoError(t, err)
	assert.True(t, key.Equal(kp.PrivateKey))

	_, err = OpenKey(sealed, newTestIdentity(t))
	assert.Error(t, err)
}

func TestAuthorityStoreLoadOrCreate(t *testing.T) {
	kv := persistence.NewMemoryStore()
	id := newTestIdentity(t)
	store := NewAuthorityStore(kv, id)

	_, err := store.Load(7)
	require.ErrorIs(t, err, persistence.ErrNotFound)

	a, created, err := store.LoadOrCreate(7)
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := NewAuthorityStore(kv, id).LoadOrCreate(7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, a.Certificate.Equal(b.Certificate))
	assert.True(t, a.PrivateKey.Equal(b.PrivateKey))

	raw, err := kv.Get("authority/0000000000000007/key")
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(a.PrivateKey)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(der))

	require.NoError(t, store.Delete(7))
	_, err = store.Load(7)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestAuthorityStoreWrongIdentity(t *testing.T) {
	kv := persistence.NewMemoryStore()
	_, _, err := NewAuthorityStore(kv, newTestIdentity(t)).LoadOrCreate(1)
	require.NoError(t, err)

	_, err = NewAuthorityStore(kv, newTestIdentity(t)).Load(1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, persistence.ErrNotFound)
}
