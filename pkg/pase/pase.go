package pase

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// Handshake errors.
var (
	ErrInvalidPIN        = errors.New("invalid setup PIN")
	ErrInvalidParameters = errors.New("invalid PBKDF parameters")
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// DefaultIterations is the PBKDF2 iteration count used for new verifiers.
const DefaultIterations = wire.MinPBKDFIteration

// SessionKeys is the output of a successful handshake.
type SessionKeys struct {
	I2RKey               [SessionKeySize]byte
	R2IKey               [SessionKeySize]byte
	AttestationChallenge [AttestationChallengeSize]byte
}

// MessageConn is the envelope exchange a handshake runs over.
// *transport.Conn satisfies it.
type MessageConn interface {
	Send(t wire.MessageType, v any) error
	Receive(ctx context.Context) (*wire.Envelope, error)
}

func checkParameters(pin uint32, salt []byte, iterations uint32) error {
	if pin == 0 || pin > setupcode.PINMax {
		return fmt.Errorf("%w: %d", ErrInvalidPIN, pin)
	}
	if len(salt) < wire.MinSaltSize || len(salt) > wire.MaxSaltSize {
		return fmt.Errorf("%w: salt length %d", ErrInvalidParameters, len(salt))
	}
	if iterations < wire.MinPBKDFIteration || iterations > wire.MaxPBKDFIteration {
		return fmt.Errorf("%w: iterations %d", ErrInvalidParameters, iterations)
	}
	return nil
}

// ComputeVerifier derives the serialized PAKE verifier (W0 || L) for a PIN.
func ComputeVerifier(pin uint32, salt []byte, iterations uint32) ([]byte, error) {
	if err := checkParameters(pin, salt, iterations); err != nil {
		return nil, err
	}
	w0, w1 := deriveW(pin, salt, iterations)
	return verifier{w0: w0, l: baseMul(w1)}.encode(), nil
}

// GenerateSalt returns a random salt of the maximum size.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, wire.MaxSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func randomScalar() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, curve.Params().N)
		if err != nil {
			return nil, err
		}
		if k.Sign() > 0 {
			return k, nil
		}
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func sessionID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]) | 1, nil
}

// expect receives the next envelope and decodes it as t. A failing
// StatusReport is returned as *wire.StatusError.
func expect(ctx context.Context, conn MessageConn, t wire.MessageType, v any) ([]byte, error) {
	env, err := conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if err := env.Status(); err != nil {
		return nil, err
	}
	if env.Type != t {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, env.Type, t)
	}
	if err := env.Into(v); err != nil {
		return nil, err
	}
	return env.Payload, nil
}

func reject(conn MessageConn, status wire.Status, msg string) {
	_ = conn.Send(wire.MessageTypeStatusReport, wire.StatusReport{Status: status, Message: msg})
}

// Handshake runs the initiator side against a commissionee using its
// setup PIN.
func Handshake(ctx context.Context, conn MessageConn, pin uint32) (*SessionKeys, error) {
	if pin == 0 || pin > setupcode.PINMax {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPIN, pin)
	}

	random, err := randomBytes(wire.RandomSize)
	if err != nil {
		return nil, err
	}
	sid, err := sessionID()
	if err != nil {
		return nil, err
	}
	req := wire.PBKDFParamRequest{InitiatorRandom: random, SessionID: sid}
	reqBytes, err := wire.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(wire.MessageTypePBKDFParamRequest, req); err != nil {
		return nil, fmt.Errorf("send PBKDFParamRequest: %w", err)
	}

	var resp wire.PBKDFParamResponse
	respBytes, err := expect(ctx, conn, wire.MessageTypePBKDFParamResponse, &resp)
	if err != nil {
		return nil, fmt.Errorf("PBKDFParamResponse: %w", err)
	}
	if err := resp.Validate(random); err != nil {
		reject(conn, wire.StatusInvalidParameter, err.Error())
		return nil, err
	}

	w0, w1 := deriveW(pin, resp.Salt, resp.Iterations)
	x, err := randomScalar()
	if err != nil {
		return nil, err
	}
	// X = x*G + w0*M
	pA := baseMul(x).add(pointM.mul(w0)).bytes()
	if err := conn.Send(wire.MessageTypePake1, wire.Pake1{PA: pA}); err != nil {
		return nil, fmt.Errorf("send Pake1: %w", err)
	}

	var p2 wire.Pake2
	if _, err := expect(ctx, conn, wire.MessageTypePake2, &p2); err != nil {
		return nil, fmt.Errorf("Pake2: %w", err)
	}
	y, err := parsePoint(p2.PB)
	if err != nil {
		reject(conn, wire.StatusInvalidParameter, "invalid pB")
		return nil, err
	}

	// Z = x*(Y - w0*N), V = w1*(Y - w0*N)
	yn := y.add(pointN.mul(w0).neg())
	z := yn.mul(x)
	v := yn.mul(w1)

	ks, err := transcriptKeys(transcriptContext(reqBytes, respBytes), pA, p2.PB, z, v, w0)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(p2.CB, confirmation(ks.kcB, pA)) {
		reject(conn, wire.StatusInvalidPasscode, "confirmation mismatch")
		return nil, ErrConfirmationFailed
	}

	if err := conn.Send(wire.MessageTypePake3, wire.Pake3{CA: confirmation(ks.kcA, p2.PB)}); err != nil {
		return nil, fmt.Errorf("send Pake3: %w", err)
	}

	env, err := conn.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("PASE status: %w", err)
	}
	if env.Type != wire.MessageTypeStatusReport {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, env.Type, wire.MessageTypeStatusReport)
	}
	if err := env.Status(); err != nil {
		return nil, err
	}
	return ks.sessionKeys()
}

// Responder is the commissionee side of the handshake. It holds only the
// verifier, never the PIN.
type Responder struct {
	v          verifier
	salt       []byte
	iterations uint32
}

// NewResponder creates a responder from a serialized verifier.
func NewResponder(verifierBytes, salt []byte, iterations uint32) (*Responder, error) {
	v, err := parseVerifier(verifierBytes)
	if err != nil {
		return nil, err
	}
	if len(salt) < wire.MinSaltSize || len(salt) > wire.MaxSaltSize {
		return nil, fmt.Errorf("%w: salt length %d", ErrInvalidParameters, len(salt))
	}
	if iterations < wire.MinPBKDFIteration || iterations > wire.MaxPBKDFIteration {
		return nil, fmt.Errorf("%w: iterations %d", ErrInvalidParameters, iterations)
	}
	return &Responder{v: v, salt: append([]byte(nil), salt...), iterations: iterations}, nil
}

// NewResponderFromPIN derives the verifier from a PIN and creates a responder.
func NewResponderFromPIN(pin uint32, salt []byte, iterations uint32) (*Responder, error) {
	vb, err := ComputeVerifier(pin, salt, iterations)
	if err != nil {
		return nil, err
	}
	return NewResponder(vb, salt, iterations)
}

// Respond runs the responder side of one handshake.
func (r *Responder) Respond(ctx context.Context, conn MessageConn) (*SessionKeys, error) {
	var req wire.PBKDFParamRequest
	reqBytes, err := expect(ctx, conn, wire.MessageTypePBKDFParamRequest, &req)
	if err != nil {
		return nil, fmt.Errorf("PBKDFParamRequest: %w", err)
	}
	if len(req.InitiatorRandom) != wire.RandomSize {
		reject(conn, wire.StatusInvalidParameter, "initiator random")
		return nil, fmt.Errorf("%w: initiator random length %d", wire.ErrInvalidMessage, len(req.InitiatorRandom))
	}

	random, err := randomBytes(wire.RandomSize)
	if err != nil {
		return nil, err
	}
	sid, err := sessionID()
	if err != nil {
		return nil, err
	}
	resp := wire.PBKDFParamResponse{
		InitiatorRandom: req.InitiatorRandom,
		ResponderRandom: random,
		SessionID:       sid,
		Iterations:      r.iterations,
		Salt:            r.salt,
	}
	respBytes, err := wire.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(wire.MessageTypePBKDFParamResponse, resp); err != nil {
		return nil, fmt.Errorf("send PBKDFParamResponse: %w", err)
	}

	var p1 wire.Pake1
	if _, err := expect(ctx, conn, wire.MessageTypePake1, &p1); err != nil {
		return nil, fmt.Errorf("Pake1: %w", err)
	}
	x, err := parsePoint(p1.PA)
	if err != nil {
		reject(conn, wire.StatusInvalidParameter, "invalid pA")
		return nil, err
	}

	y, err := randomScalar()
	if err != nil {
		return nil, err
	}
	// Y = y*G + w0*N
	pB := baseMul(y).add(pointN.mul(r.v.w0)).bytes()

	// Z = y*(X - w0*M), V = y*L
	z := x.add(pointM.mul(r.v.w0).neg()).mul(y)
	v := r.v.l.mul(y)

	ks, err := transcriptKeys(transcriptContext(reqBytes, respBytes), p1.PA, pB, z, v, r.v.w0)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(wire.MessageTypePake2, wire.Pake2{PB: pB, CB: confirmation(ks.kcB, p1.PA)}); err != nil {
		return nil, fmt.Errorf("send Pake2: %w", err)
	}

	var p3 wire.Pake3
	if _, err := expect(ctx, conn, wire.MessageTypePake3, &p3); err != nil {
		return nil, fmt.Errorf("Pake3: %w", err)
	}
	if !hmac.Equal(p3.CA, confirmation(ks.kcA, pB)) {
		reject(conn, wire.StatusInvalidPasscode, "confirmation mismatch")
		return nil, ErrConfirmationFailed
	}
	if err := conn.Send(wire.MessageTypeStatusReport, wire.StatusReport{Status: wire.StatusSuccess}); err != nil {
		return nil, fmt.Errorf("send status: %w", err)
	}
	return ks.sessionKeys()
}
