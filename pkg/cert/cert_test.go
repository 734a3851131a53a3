package cert

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if kp.PrivateKey == nil || kp.PublicKey == nil {
		t.Fatal("key pair incomplete")
	}
	if kp.PrivateKey.Curve.Params().Name != "P-256" {
		t.Errorf("Expected P-256 curve, got %s", kp.PrivateKey.Curve.Params().Name)
	}
}

func TestComputeSKI(t *testing.T) {
	kp, _ := GenerateKeyPair()
	ski, err := ComputeSKI(kp.PublicKey)
	if err != nil {
		t.Fatalf("ComputeSKI() error = %v", err)
	}
	if len(ski) != 20 {
		t.Errorf("SKI length = %d, want 20", len(ski))
	}
	ski2, _ := ComputeSKI(kp.PublicKey)
	if !bytes.Equal(ski, ski2) {
		t.Error("Same key should produce same SKI")
	}
	kp2, _ := GenerateKeyPair()
	ski3, _ := ComputeSKI(kp2.PublicKey)
	if bytes.Equal(ski, ski3) {
		t.Error("Different keys should produce different SKIs")
	}
}

func TestNewRootAuthority(t *testing.T) {
	root, err := NewRootAuthority(1, 0xFAB, RootValidity)
	if err != nil {
		t.Fatalf("NewRootAuthority() error = %v", err)
	}
	c := root.Certificate
	if !c.IsCA {
		t.Error("root should be a CA")
	}
	if c.MaxPathLen != 1 {
		t.Errorf("MaxPathLen = %d, want 1", c.MaxPathLen)
	}
	id, err := FabricIDOf(c)
	if err != nil || id != 0xFAB {
		t.Errorf("FabricIDOf() = %v, %v", id, err)
	}
	if d := c.NotAfter.Sub(c.NotBefore); d < RootValidity {
		t.Errorf("validity = %v, want >= %v", d, RootValidity)
	}
}

func TestIssueNOCDirect(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()

	noc, err := IssueNOC(root, kp.PublicKey, 0x1122, 7, OperationalCertValidity)
	if err != nil {
		t.Fatalf("IssueNOC() error = %v", err)
	}
	if noc.IsCA {
		t.Error("NOC must not be a CA")
	}
	node, err := NodeIDOf(noc)
	if err != nil || node != 0x1122 {
		t.Errorf("NodeIDOf() = %v, %v", node, err)
	}
	if !IssuedBy(noc, root.Certificate) {
		t.Error("NOC should be issued by root")
	}

	chain := &Chain{NOC: noc, RCAC: root.Certificate}
	if err := VerifyChain(chain, time.Now()); err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
}

func TestIssueNOCViaIntermediate(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	icac, err := NewIntermediate(root, 2, 7, IntermediateValidity)
	if err != nil {
		t.Fatalf("NewIntermediate() error = %v", err)
	}
	kp, _ := GenerateKeyPair()
	noc, err := IssueNOC(icac, kp.PublicKey, 42, 7, OperationalCertValidity)
	if err != nil {
		t.Fatalf("IssueNOC() error = %v", err)
	}

	chain := &Chain{NOC: noc, ICAC: icac.Certificate, RCAC: root.Certificate}
	if err := VerifyChain(chain, time.Now()); err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}

	// Without the intermediate the NOC does not chain.
	if err := VerifyChain(&Chain{NOC: noc, RCAC: root.Certificate}, time.Now()); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("VerifyChain() without ICAC error = %v, want ErrInvalidChain", err)
	}

	tlsCert := chain.TLSCertificate(kp.PrivateKey)
	if len(tlsCert.Certificate) != 2 {
		t.Errorf("TLS chain length = %d, want 2", len(tlsCert.Certificate))
	}
}

func TestIssueNOCRejects(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()

	if _, err := IssueNOC(root, kp.PublicKey, 0, 7, OperationalCertValidity); !errors.Is(err, ErrInvalidNodeID) {
		t.Errorf("node 0: error = %v, want ErrInvalidNodeID", err)
	}
	if _, err := IssueNOC(root, kp.PublicKey, fabric.NodeID(0xFFFFFFFF00000001), 7, OperationalCertValidity); !errors.Is(err, ErrInvalidNodeID) {
		t.Errorf("group range: error = %v, want ErrInvalidNodeID", err)
	}
	if _, err := IssueNOC(nil, kp.PublicKey, 1, 7, OperationalCertValidity); !errors.Is(err, ErrInvalidCert) {
		t.Errorf("nil issuer: error = %v, want ErrInvalidCert", err)
	}

	noc, _ := IssueNOC(root, kp.PublicKey, 1, 7, OperationalCertValidity)
	leaf := &Authority{Certificate: noc, PrivateKey: kp.PrivateKey}
	if _, err := IssueNOC(leaf, kp.PublicKey, 2, 7, OperationalCertValidity); !errors.Is(err, ErrNotCA) {
		t.Errorf("leaf issuer: error = %v, want ErrNotCA", err)
	}
}

func TestVerifyChainWrongRoot(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	other, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()
	noc, _ := IssueNOC(root, kp.PublicKey, 5, 7, OperationalCertValidity)

	err := VerifyChain(&Chain{NOC: noc, RCAC: other.Certificate}, time.Now())
	if !errors.Is(err, ErrInvalidChain) {
		t.Errorf("error = %v, want ErrInvalidChain", err)
	}
}

func TestVerifyChainExpiry(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()
	noc, _ := IssueNOC(root, kp.PublicKey, 5, 7, time.Hour)
	chain := &Chain{NOC: noc, RCAC: root.Certificate}

	if err := VerifyChain(chain, time.Now().Add(2*time.Hour)); !errors.Is(err, ErrCertExpired) {
		t.Errorf("error = %v, want ErrCertExpired", err)
	}
	if err := VerifyChain(chain, time.Now().Add(-time.Hour)); !errors.Is(err, ErrCertNotYetValid) {
		t.Errorf("error = %v, want ErrCertNotYetValid", err)
	}
}

func TestVerifyChainFabricMismatch(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()
	noc, _ := IssueNOC(root, kp.PublicKey, 5, 8, OperationalCertValidity)

	err := VerifyChain(&Chain{NOC: noc, RCAC: root.Certificate}, time.Now())
	if !errors.Is(err, ErrFabricMismatch) {
		t.Errorf("error = %v, want ErrFabricMismatch", err)
	}
}

func TestCSR(t *testing.T) {
	kp, _ := GenerateKeyPair()
	der, err := CreateCSR(kp)
	if err != nil {
		t.Fatalf("CreateCSR() error = %v", err)
	}
	pub, err := ParseCSR(der)
	if err != nil {
		t.Fatalf("ParseCSR() error = %v", err)
	}
	if !pub.Equal(kp.PublicKey) {
		t.Error("CSR key does not match")
	}

	der[len(der)-1] ^= 0xFF
	if _, err := ParseCSR(der); !errors.Is(err, ErrInvalidCSR) {
		t.Errorf("tampered CSR error = %v, want ErrInvalidCSR", err)
	}
}

func TestVerifyPeerCertificate(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	kp, _ := GenerateKeyPair()
	noc, _ := IssueNOC(root, kp.PublicKey, 9, 7, OperationalCertValidity)

	if err := VerifyPeerCertificate(root.Certificate, 9)([][]byte{noc.Raw}, nil); err != nil {
		t.Errorf("expected node: error = %v", err)
	}
	if err := VerifyPeerCertificate(root.Certificate, 0)([][]byte{noc.Raw}, nil); err != nil {
		t.Errorf("any node: error = %v", err)
	}
	if err := VerifyPeerCertificate(root.Certificate, 10)([][]byte{noc.Raw}, nil); err == nil {
		t.Error("wrong node id should be rejected")
	}
	if err := VerifyPeerCertificate(root.Certificate, 0)(nil, nil); err == nil {
		t.Error("empty chain should be rejected")
	}
}

func TestChainPEMRoundTrip(t *testing.T) {
	root, _ := NewRootAuthority(1, 7, RootValidity)
	icac, err := NewIntermediate(root, 2, 7, IntermediateValidity)
	if err != nil {
		t.Fatalf("NewIntermediate() error = %v", err)
	}
	kp, _ := GenerateKeyPair()
	noc, err := IssueNOC(icac, kp.PublicKey, 0x1234, 7, OperationalCertValidity)
	if err != nil {
		t.Fatalf("IssueNOC() error = %v", err)
	}
	chain := &Chain{NOC: noc, ICAC: icac.Certificate, RCAC: root.Certificate}

	got, err := DecodeChainPEM(EncodeChainPEM(chain))
	if err != nil {
		t.Fatalf("DecodeChainPEM() error = %v", err)
	}
	if !got.NOC.Equal(noc) || !got.ICAC.Equal(icac.Certificate) || !got.RCAC.Equal(root.Certificate) {
		t.Error("chain mismatch after PEM round trip")
	}

	direct := &Chain{NOC: noc, RCAC: root.Certificate}
	got, err = DecodeChainPEM(EncodeChainPEM(direct))
	if err != nil {
		t.Fatalf("DecodeChainPEM() error = %v", err)
	}
	if got.ICAC != nil {
		t.Error("ICAC should be nil for a two-certificate chain")
	}

	if _, err := DecodeChainPEM([]byte("garbage")); !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("error = %v, want ErrInvalidPEM", err)
	}
	rootOnly := EncodeChainPEM(&Chain{RCAC: root.Certificate})
	if _, err := DecodeChainPEM(rootOnly); !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("root-only chain error = %v, want ErrInvalidPEM", err)
	}
}
