package cert

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"time"
)

// Certificate validity periods.
const (
	// RootValidity is the validity period of a fabric root CA (RCAC).
	RootValidity = 20 * 365 * 24 * time.Hour

	// IntermediateValidity is the validity period of an intermediate CA (ICAC).
	IntermediateValidity = 10 * 365 * 24 * time.Hour

	// OperationalCertValidity is the default validity period of a NOC.
	OperationalCertValidity = 365 * 24 * time.Hour
)

// Subject DN attribute types carrying fabric identities.
var (
	OIDNodeID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 1}
	OIDICACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 3}
	OIDRCACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 4}
	OIDFabricID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 5}

	OIDVendorID  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 1}
	OIDProductID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 2}
)

// DeviceAttestationValidity is the default validity of a DAC.
const DeviceAttestationValidity = 10 * 365 * 24 * time.Hour

// KeyPair holds an ECDSA P-256 key pair.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Authority is a certificate authority able to sign certificates for a fabric.
// It is either the fabric root (RCAC) or an intermediate (ICAC).
type Authority struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// Chain is an operational certificate chain. ICAC is nil when the NOC is
// signed directly by the root.
type Chain struct {
	NOC  *x509.Certificate
	ICAC *x509.Certificate
	RCAC *x509.Certificate
}

// TLSCertificate pairs the chain with the NOC private key for use in TLS.
func (c *Chain) TLSCertificate(key *ecdsa.PrivateKey) tls.Certificate {
	if c == nil || c.NOC == nil || key == nil {
		return tls.Certificate{}
	}
	der := [][]byte{c.NOC.Raw}
	if c.ICAC != nil {
		der = append(der, c.ICAC.Raw)
	}
	return tls.Certificate{
		Certificate: der,
		PrivateKey:  key,
		Leaf:        c.NOC,
	}
}

// RootPool returns a pool holding only the chain's root certificate.
func (c *Chain) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	if c != nil && c.RCAC != nil {
		pool.AddCert(c.RCAC)
	}
	return pool
}

// ExpiresAt returns when the NOC expires.
func (c *Chain) ExpiresAt() time.Time {
	if c == nil || c.NOC == nil {
		return time.Time{}
	}
	return c.NOC.NotAfter
}
