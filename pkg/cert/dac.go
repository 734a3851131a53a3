package cert

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// NewProductAuthority creates a self-signed product attestation
// intermediate (PAI) for a vendor. Tests and the simulated device use it in
// place of a vendor PKI.
func NewProductAuthority(vendorID fabric.VendorID, validity time.Duration) (*Authority, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	subject := pkix.Name{
		CommonName: "PAI",
		ExtraNames: []pkix.AttributeTypeAndValue{
			hexAttr(OIDVendorID, uint64(vendorID)),
		},
	}
	tmpl, err := caTemplate(subject, kp.PublicKey, validity, 0)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create PAI: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Authority{Certificate: c, PrivateKey: kp.PrivateKey}, nil
}

// IssueDAC signs a device attestation certificate carrying vendor and
// product ids.
func IssueDAC(pai *Authority, pub *ecdsa.PublicKey, vendorID fabric.VendorID, productID uint16, validity time.Duration) (*x509.Certificate, error) {
	if err := checkIssuer(pai); err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "DAC",
			ExtraNames: []pkix.AttributeTypeAndValue{
				hexAttr(OIDVendorID, uint64(vendorID)),
				hexAttr(OIDProductID, uint64(productID)),
			},
		},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, pai.Certificate, pub, pai.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create DAC: %w", err)
	}
	return x509.ParseCertificate(der)
}

// VendorIDOf extracts the vendor id from a DAC or PAI subject.
func VendorIDOf(c *x509.Certificate) (fabric.VendorID, error) {
	v, err := subjectUint64(c, OIDVendorID)
	return fabric.VendorID(v), err
}

// ProductIDOf extracts the product id from a DAC subject.
func ProductIDOf(c *x509.Certificate) (uint16, error) {
	v, err := subjectUint64(c, OIDProductID)
	return uint16(v), err
}
