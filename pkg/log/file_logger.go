package log

import (
	"os"
	"sync"
	"sync/atomic"
)

// FileLogger appends events to a trace file, one CBOR item per event.
// Events that fail to encode or write are counted, not reported.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File // nil once closed

	dropped atomic.Uint64
}

var _ Logger = (*FileLogger)(nil)

// NewFileLogger opens path for appending. Traces name devices and fabrics,
// so a new file is readable by the owner only.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f}, nil
}

func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)
	if err != nil {
		l.dropped.Add(1)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.Write(data); err != nil {
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to encode or write errors.
func (l *FileLogger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close closes the file. Later events are discarded.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
