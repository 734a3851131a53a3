package cert

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
	ErrFabricMismatch  = errors.New("certificate fabric mismatch")
)

// VerifyChain checks that the NOC chains to the RCAC (through the ICAC if
// present), that every certificate carries the same fabric id and that the
// NOC names an operational node id.
func VerifyChain(chain *Chain, now time.Time) error {
	if chain == nil || chain.NOC == nil || chain.RCAC == nil {
		return fmt.Errorf("%w: NOC and RCAC required", ErrInvalidChain)
	}

	if now.Before(chain.NOC.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(chain.NOC.NotAfter) {
		return ErrCertExpired
	}

	opts := x509.VerifyOptions{
		Roots:         chain.RootPool(),
		Intermediates: x509.NewCertPool(),
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if chain.ICAC != nil {
		opts.Intermediates.AddCert(chain.ICAC)
	}
	if _, err := chain.NOC.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}

	nocFabric, err := FabricIDOf(chain.NOC)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	for _, ca := range []*x509.Certificate{chain.ICAC, chain.RCAC} {
		if ca == nil {
			continue
		}
		id, err := FabricIDOf(ca)
		if err == nil && id != nocFabric {
			return fmt.Errorf("%w: %s != %s", ErrFabricMismatch, id, nocFabric)
		}
	}

	node, err := NodeIDOf(chain.NOC)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if !node.IsOperational() {
		return fmt.Errorf("%w: %s", ErrInvalidNodeID, node)
	}
	return nil
}

// VerifyPeerCertificate returns a TLS verification callback accepting peers
// whose leaf chains to root and carries the expected node id. A zero
// expected node id accepts any operational node.
func VerifyPeerCertificate(root *x509.Certificate, expected fabric.NodeID) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no peer certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("parse peer certificate: %w", err)
			}
			certs = append(certs, c)
		}

		chain := &Chain{NOC: certs[0], RCAC: root}
		if len(certs) > 1 {
			chain.ICAC = certs[1]
		}
		if err := VerifyChain(chain, time.Now()); err != nil {
			return err
		}
		if expected != 0 {
			node, _ := NodeIDOf(chain.NOC)
			if node != expected {
				return fmt.Errorf("peer node id %s, want %s", node, expected)
			}
		}
		return nil
	}
}

// IssuedBy reports whether c's authority key id matches issuer's subject key id.
func IssuedBy(c, issuer *x509.Certificate) bool {
	if c == nil || issuer == nil || len(c.AuthorityKeyId) == 0 {
		return false
	}
	return bytes.Equal(c.AuthorityKeyId, issuer.SubjectKeyId)
}
