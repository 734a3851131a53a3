package pase

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// SPAKE2+ sizes.
const (
	// wsSize is the PBKDF2 output length per scalar.
	wsSize = 40

	// scalarSize is the encoded length of a P-256 scalar.
	scalarSize = 32

	// pointSize is the uncompressed encoding length of a P-256 point.
	pointSize = 65

	// VerifierSize is len(W0) + len(L).
	VerifierSize = scalarSize + pointSize

	// ContextPrefix starts the transcript context hash.
	ContextPrefix = "MASH PAKE V1 Commissioning"

	SessionKeySize           = 16
	AttestationChallengeSize = 16
)

// SPAKE2+ errors.
var (
	ErrInvalidPoint       = errors.New("invalid curve point")
	ErrConfirmationFailed = errors.New("key confirmation failed")
	ErrInvalidVerifier    = errors.New("invalid verifier")
)

var curve = elliptic.P256()

// M and N are the fixed SPAKE2+ P-256 points.
var pointM, pointN = mustDecompress("02886e2f97ace46e55ba9dd7242579f2993b64e16ef3dcab95afd497333d8fa12f"),
	mustDecompress("03d8bbd6c639c62937b04d997f38c3770719c629d7014d49a24b4f98baa1292b49")

type point struct {
	x, y *big.Int
}

func mustDecompress(s string) point {
	raw, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid hex point: " + s)
	}
	b := make([]byte, 33)
	raw.FillBytes(b)
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		panic("point not on curve: " + s)
	}
	return point{x, y}
}

func (p point) bytes() []byte {
	return elliptic.Marshal(curve, p.x, p.y)
}

func (p point) mul(k *big.Int) point {
	x, y := curve.ScalarMult(p.x, p.y, k.Bytes())
	return point{x, y}
}

func (p point) add(q point) point {
	x, y := curve.Add(p.x, p.y, q.x, q.y)
	return point{x, y}
}

func (p point) neg() point {
	y := new(big.Int).Neg(p.y)
	return point{p.x, y.Mod(y, curve.Params().P)}
}

func baseMul(k *big.Int) point {
	x, y := curve.ScalarBaseMult(k.Bytes())
	return point{x, y}
}

func parsePoint(b []byte) (point, error) {
	if len(b) != pointSize {
		return point{}, ErrInvalidPoint
	}
	x, y := elliptic.Unmarshal(curve, b)
	if x == nil {
		return point{}, ErrInvalidPoint
	}
	return point{x, y}, nil
}

func scalarBytes(k *big.Int) []byte {
	b := make([]byte, scalarSize)
	return k.FillBytes(b)
}

// deriveW computes w0 and w1 from the PIN.
func deriveW(pin uint32, salt []byte, iterations uint32) (w0, w1 *big.Int) {
	var pw [4]byte
	binary.LittleEndian.PutUint32(pw[:], pin)
	ws := pbkdf2.Key(pw[:], salt, int(iterations), 2*wsSize, sha256.New)

	n := curve.Params().N
	w0 = new(big.Int).SetBytes(ws[:wsSize])
	w0.Mod(w0, n)
	w1 = new(big.Int).SetBytes(ws[wsSize:])
	w1.Mod(w1, n)
	return w0, w1
}

// verifier is the responder's PAKE material.
type verifier struct {
	w0 *big.Int
	l  point
}

func (v verifier) encode() []byte {
	return append(scalarBytes(v.w0), v.l.bytes()...)
}

func parseVerifier(b []byte) (verifier, error) {
	if len(b) != VerifierSize {
		return verifier{}, fmt.Errorf("%w: length %d", ErrInvalidVerifier, len(b))
	}
	w0 := new(big.Int).SetBytes(b[:scalarSize])
	if w0.Cmp(curve.Params().N) >= 0 {
		return verifier{}, fmt.Errorf("%w: w0 out of range", ErrInvalidVerifier)
	}
	l, err := parsePoint(b[scalarSize:])
	if err != nil {
		return verifier{}, fmt.Errorf("%w: %v", ErrInvalidVerifier, err)
	}
	return verifier{w0: w0, l: l}, nil
}

// keySchedule holds everything derived from the SPAKE2+ transcript.
type keySchedule struct {
	kcA, kcB []byte
	ke       []byte
}

// transcriptKeys hashes the length-prefixed transcript
// context || idP || idV || M || N || X || Y || Z || V || w0.
func transcriptKeys(context []byte, pA, pB []byte, z, v point, w0 *big.Int) (*keySchedule, error) {
	h := sha256.New()
	for _, part := range [][]byte{
		context, nil, nil,
		pointM.bytes(), pointN.bytes(),
		pA, pB,
		z.bytes(), v.bytes(),
		scalarBytes(w0),
	} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	sum := h.Sum(nil)
	ka, ke := sum[:16], sum[16:]

	kc := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ka, nil, []byte("ConfirmationKeys")), kc); err != nil {
		return nil, fmt.Errorf("derive confirmation keys: %w", err)
	}
	return &keySchedule{kcA: kc[:16], kcB: kc[16:], ke: ke}, nil
}

func confirmation(key, peerShare []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(peerShare)
	return mac.Sum(nil)
}

func (k *keySchedule) sessionKeys() (*SessionKeys, error) {
	out := make([]byte, 2*SessionKeySize+AttestationChallengeSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.ke, nil, []byte("SessionKeys")), out); err != nil {
		return nil, fmt.Errorf("derive session keys: %w", err)
	}
	var sk SessionKeys
	copy(sk.I2RKey[:], out[:16])
	copy(sk.R2IKey[:], out[16:32])
	copy(sk.AttestationChallenge[:], out[32:])
	return &sk, nil
}

// transcriptContext hashes the encoded PBKDF parameter exchange.
func transcriptContext(request, response []byte) []byte {
	h := sha256.New()
	h.Write([]byte(ContextPrefix))
	h.Write(request)
	h.Write(response)
	return h.Sum(nil)
}
