package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

const (
	// ALPNProtocol is negotiated on every connection.
	ALPNProtocol = "mash-commissioning/1"

	// DefaultPort is the default commissioning and operational port.
	DefaultPort = 5540
)

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
		NextProtos: []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
	}
}

// NewCommissioningClientTLSConfig creates the client config used before a
// device has operational credentials. The device certificate is not
// verified; peer authentication comes from PASE.
func NewCommissioningClientTLSConfig() *tls.Config {
	c := baseTLSConfig()
	c.InsecureSkipVerify = true
	return c
}

// NewCommissioningServerTLSConfig creates the commissionee side config
// presenting a self-signed certificate.
func NewCommissioningServerTLSConfig(certificate tls.Certificate) (*tls.Config, error) {
	if len(certificate.Certificate) == 0 {
		return nil, errors.New("server certificate is required")
	}
	c := baseTLSConfig()
	c.Certificates = []tls.Certificate{certificate}
	c.ClientAuth = tls.NoClientCert
	return c, nil
}

// OperationalTLSConfig holds the credentials of one side of an operational
// (post-commissioning) connection.
type OperationalTLSConfig struct {
	// Chain is the local NOC chain.
	Chain *cert.Chain

	// Key is the NOC private key.
	Key *ecdsa.PrivateKey

	// PeerNodeID, if non-zero, is the node id the peer's NOC must carry.
	PeerNodeID fabric.NodeID
}

func (c *OperationalTLSConfig) validate() error {
	if c == nil || c.Chain == nil || c.Chain.NOC == nil || c.Chain.RCAC == nil {
		return errors.New("operational chain is required")
	}
	if c.Key == nil {
		return errors.New("operational key is required")
	}
	return nil
}

// NewOperationalClientTLSConfig creates a mutually authenticated client
// config. Peers are verified against the fabric root by node id instead of
// host name.
func NewOperationalClientTLSConfig(cfg *OperationalTLSConfig) (*tls.Config, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := baseTLSConfig()
	c.Certificates = []tls.Certificate{cfg.Chain.TLSCertificate(cfg.Key)}
	c.InsecureSkipVerify = true // verified by VerifyPeerCertificate
	c.VerifyPeerCertificate = cert.VerifyPeerCertificate(cfg.Chain.RCAC, cfg.PeerNodeID)
	return c, nil
}

// NewOperationalServerTLSConfig creates the server side of an operational
// connection, requiring a client NOC from the same fabric.
func NewOperationalServerTLSConfig(cfg *OperationalTLSConfig) (*tls.Config, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := baseTLSConfig()
	c.Certificates = []tls.Certificate{cfg.Chain.TLSCertificate(cfg.Key)}
	c.ClientAuth = tls.RequireAnyClientCert
	c.VerifyPeerCertificate = cert.VerifyPeerCertificate(cfg.Chain.RCAC, cfg.PeerNodeID)
	return c, nil
}

// SelfSignedCertificate creates a short-lived self-signed certificate for a
// commissionee's PASE listener.
func SelfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "commissionee"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// VerifyConnection checks TLS 1.3 and ALPN on an established connection.
func VerifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
