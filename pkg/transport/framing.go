package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum frame payload (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize caps the frame bytes copied into log events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// frameLog emits transport-layer frame events when a protocol logger is set.
type frameLog struct {
	logger log.Logger
	connID string
	role   log.Role
}

func (l *frameLog) emit(data []byte, dir log.Direction) {
	if l.logger == nil {
		return
	}
	ev := &log.FrameEvent{Size: LengthPrefixSize + len(data), Data: data}
	if len(data) > MaxLogFrameDataSize {
		ev.Data, ev.Truncated = data[:MaxLogFrameDataSize], true
	}
	l.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    l.role,
		Frame:        ev,
	})
}

// Framer reads and writes length-prefixed frames. Writes are serialized;
// reads must come from a single goroutine.
type Framer struct {
	rw      io.ReadWriter
	maxSize uint32
	log     frameLog

	writeMu   sync.Mutex
	lengthBuf [LengthPrefixSize]byte
}

// NewFramer creates a framer with the given maximum payload size
// (DefaultMaxMessageSize if zero).
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{rw: rw, maxSize: maxSize}
}

// SetLogger configures frame logging. Pass nil to disable.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	f.log = frameLog{logger: logger, connID: connID, role: role}
}

// WriteFrame writes data as a single frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > f.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), f.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	f.writeMu.Lock()
	_, err := f.rw.Write(buf)
	f.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	f.log.emit(data, log.DirectionOut)
	return nil
}

// ReadFrame reads one frame and returns its payload. A clean end of stream
// before a length prefix is reported as io.EOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(f.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > f.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	f.log.emit(payload, log.DirectionIn)
	return payload, nil
}
