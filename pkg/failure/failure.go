package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	// KindUnknown is used for errors that were never classified.
	KindUnknown Kind = iota

	// KindInvalidArgument covers reserved sentinel values and out-of-range inputs.
	KindInvalidArgument

	// KindNotRunning is returned for operations attempted before startup or after shutdown.
	KindNotRunning

	// KindProtocol indicates the peer rejected a handshake or commissioning step.
	KindProtocol

	// KindCrypto indicates keypair or certificate generation failed.
	KindCrypto

	// KindStorage indicates a persisted key-value read or write failed.
	KindStorage

	// KindTimeout indicates an attestation delegate or fail-safe deadline elapsed.
	KindTimeout

	// KindMisuse covers duplicate startup, stopping an absent pairing and
	// duplicate attestation evidence.
	KindMisuse
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindNotRunning:
		return "NOT_RUNNING"
	case KindProtocol:
		return "PROTOCOL"
	case KindCrypto:
		return "CRYPTO"
	case KindStorage:
		return "STORAGE"
	case KindTimeout:
		return "TIMEOUT"
	case KindMisuse:
		return "MISUSE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified failure.
type Error struct {
	// Kind is the taxonomy kind.
	Kind Kind

	// Op names the operation that failed (e.g. "startup", "pair").
	Op string

	// Code is an optional diagnostic code, typically a wire status.
	Code uint32

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotRunning      = &Error{Kind: KindNotRunning}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrCrypto          = &Error{Kind: KindCrypto}
	ErrStorage         = &Error{Kind: KindStorage}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrMisuse          = &Error{Kind: KindMisuse}
)

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithCode creates a classified error carrying a diagnostic code.
func WithCode(kind Kind, op string, code uint32, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// Wrap classifies err unless it already carries a kind, in which case the
// existing classification wins and only the operation is prefixed.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Op == op {
			return err
		}
		return &Error{Kind: fe.Kind, Op: op, Code: fe.Code, Err: err}
	}
	return New(kind, op, err)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare kind sentinel matching e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil || t.Code != 0 {
		return e == t
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CodeOf returns the first non-zero diagnostic code in err's chain.
func CodeOf(err error) uint32 {
	for err != nil {
		if fe, ok := err.(*Error); ok && fe.Code != 0 {
			return fe.Code
		}
		err = errors.Unwrap(err)
	}
	return 0
}
