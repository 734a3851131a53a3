package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"io"

	"filippo.io/age"
)

// SealKey encrypts a private key to an age recipient. The plaintext is the
// SEC 1 DER encoding of the key.
func SealKey(key *ecdsa.PrivateKey, recipient age.Recipient) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(der); err != nil {
		return nil, fmt.Errorf("writing key to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// OpenKey decrypts a key sealed with SealKey.
func OpenKey(sealed []byte, identity age.Identity) (*ecdsa.PrivateKey, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	der, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}
