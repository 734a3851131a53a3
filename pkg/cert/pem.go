package cert

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrInvalidPEM    = errors.New("invalid PEM data")
	ErrInvalidKey    = errors.New("invalid key")
	ErrUnsupportedEC = errors.New("unsupported EC key type")
)

const pemCertificate = "CERTIFICATE"

// EncodeChainPEM writes the chain leaf first: NOC, ICAC when present, RCAC.
func EncodeChainPEM(c *Chain) []byte {
	var buf bytes.Buffer
	for _, crt := range []*x509.Certificate{c.NOC, c.ICAC, c.RCAC} {
		if crt == nil {
			continue
		}
		_ = pem.Encode(&buf, &pem.Block{Type: pemCertificate, Bytes: crt.Raw})
	}
	return buf.Bytes()
}

// DecodeChainPEM parses certificates in any order and sorts them into a
// chain by their basic constraints. A self-signed CA is the root.
func DecodeChainPEM(data []byte) (*Chain, error) {
	var c Chain
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != pemCertificate {
			return nil, fmt.Errorf("%w: unexpected block %q", ErrInvalidPEM, block.Type)
		}
		crt, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		slot := &c.NOC
		if crt.IsCA {
			slot = &c.ICAC
			if bytes.Equal(crt.RawIssuer, crt.RawSubject) {
				slot = &c.RCAC
			}
		}
		if *slot != nil {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidPEM, crt.Subject)
		}
		*slot = crt
	}
	if c.NOC == nil || c.RCAC == nil {
		return nil, fmt.Errorf("%w: chain needs a NOC and a root", ErrInvalidPEM)
	}
	return &c, nil
}
