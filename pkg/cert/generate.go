package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Generation errors.
var (
	ErrInvalidCert    = errors.New("invalid certificate")
	ErrInvalidCSR     = errors.New("invalid certificate signing request")
	ErrNotCA          = errors.New("issuer is not a certificate authority")
	ErrInvalidNodeID  = errors.New("node id is not operational")
	ErrMissingSubject = errors.New("certificate subject attribute missing")
)

// clockSkew backdates NotBefore so freshly issued certificates verify on
// peers whose clocks run slightly behind.
const clockSkew = 5 * time.Minute

// GenerateKeyPair creates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeyPair{PrivateKey: key, PublicKey: &key.PublicKey}, nil
}

// ComputeSKI computes a subject key identifier (SHA-1 of the uncompressed point).
func ComputeSKI(pub *ecdsa.PublicKey) ([]byte, error) {
	ek, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sum := sha1.Sum(ek.Bytes())
	return sum[:], nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 63)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	return n.Add(n, big.NewInt(1)), nil
}

func hexAttr(oid asn1.ObjectIdentifier, v uint64) pkix.AttributeTypeAndValue {
	return pkix.AttributeTypeAndValue{Type: oid, Value: fmt.Sprintf("%016X", v)}
}

// NewRootAuthority creates a self-signed RCAC for a fabric.
func NewRootAuthority(rcacID uint64, fabricID fabric.FabricID, validity time.Duration) (*Authority, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	subject := pkix.Name{
		ExtraNames: []pkix.AttributeTypeAndValue{
			hexAttr(OIDRCACID, rcacID),
			hexAttr(OIDFabricID, uint64(fabricID)),
		},
	}
	tmpl, err := caTemplate(subject, kp.PublicKey, validity, 1)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}
	return &Authority{Certificate: c, PrivateKey: kp.PrivateKey}, nil
}

// NewIntermediate creates an ICAC signed by parent.
func NewIntermediate(parent *Authority, icacID uint64, fabricID fabric.FabricID, validity time.Duration) (*Authority, error) {
	if err := checkIssuer(parent); err != nil {
		return nil, err
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	subject := pkix.Name{
		ExtraNames: []pkix.AttributeTypeAndValue{
			hexAttr(OIDICACID, icacID),
			hexAttr(OIDFabricID, uint64(fabricID)),
		},
	}
	tmpl, err := caTemplate(subject, kp.PublicKey, validity, 0)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent.Certificate, kp.PublicKey, parent.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create intermediate certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse intermediate certificate: %w", err)
	}
	return &Authority{Certificate: c, PrivateKey: kp.PrivateKey}, nil
}

func caTemplate(subject pkix.Name, pub *ecdsa.PublicKey, validity time.Duration, maxPath int) (*x509.Certificate, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	ski, err := ComputeSKI(pub)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            maxPath,
		MaxPathLenZero:        maxPath == 0,
		SubjectKeyId:          ski,
	}, nil
}

func checkIssuer(a *Authority) error {
	if a == nil || a.Certificate == nil || a.PrivateKey == nil {
		return fmt.Errorf("%w: missing issuer", ErrInvalidCert)
	}
	if !a.Certificate.IsCA {
		return ErrNotCA
	}
	return nil
}

// IssueNOC signs a node operational certificate for pub.
func IssueNOC(issuer *Authority, pub *ecdsa.PublicKey, nodeID fabric.NodeID, fabricID fabric.FabricID, validity time.Duration) (*x509.Certificate, error) {
	if err := checkIssuer(issuer); err != nil {
		return nil, err
	}
	if !nodeID.IsOperational() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNodeID, nodeID)
	}
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: P-256 public key required", ErrInvalidKey)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	ski, err := ComputeSKI(pub)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			ExtraNames: []pkix.AttributeTypeAndValue{
				hexAttr(OIDNodeID, uint64(nodeID)),
				hexAttr(OIDFabricID, uint64(fabricID)),
			},
		},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer.Certificate, pub, issuer.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create operational certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// CreateCSR builds a DER-encoded CSR for kp.
func CreateCSR(kp *KeyPair) ([]byte, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "CSR"},
	}, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}
	return der, nil
}

// ParseCSR parses a DER CSR, checks its self-signature and returns the
// P-256 public key it carries.
func ParseCSR(der []byte) (*ecdsa.PublicKey, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSR, err)
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSR, ErrUnsupportedEC)
	}
	return pub, nil
}

func subjectUint64(c *x509.Certificate, oid asn1.ObjectIdentifier) (uint64, error) {
	if c == nil {
		return 0, ErrInvalidCert
	}
	for _, n := range c.Subject.Names {
		if !n.Type.Equal(oid) {
			continue
		}
		s, ok := n.Value.(string)
		if !ok {
			break
		}
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidCert, err)
		}
		return v, nil
	}
	return 0, ErrMissingSubject
}

// NodeIDOf extracts the node id from a NOC subject.
func NodeIDOf(c *x509.Certificate) (fabric.NodeID, error) {
	v, err := subjectUint64(c, OIDNodeID)
	return fabric.NodeID(v), err
}

// FabricIDOf extracts the fabric id from a certificate subject.
func FabricIDOf(c *x509.Certificate) (fabric.FabricID, error) {
	v, err := subjectUint64(c, OIDFabricID)
	return fabric.FabricID(v), err
}
