package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

func TestEncodeDecodeEvent(t *testing.T) {
	status := wire.StatusBusy
	in := Event{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		LocalRole:    RoleCommissioner,
		Message: &MessageEvent{
			Type:        wire.MessageTypeStatusReport,
			PayloadSize: 4,
			Status:      &status,
		},
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Message == nil || out.Message.Type != wire.MessageTypeStatusReport {
		t.Fatalf("Message = %+v", out.Message)
	}
	if out.Message.Status == nil || *out.Message.Status != wire.StatusBusy {
		t.Errorf("Status = %v", out.Message.Status)
	}
	if out.LocalRole != RoleCommissioner {
		t.Errorf("LocalRole = %v", out.LocalRole)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.mlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	fl.Log(Event{Timestamp: time.Now(), ConnectionID: "a", Layer: LayerTransport, Frame: &FrameEvent{Size: 10}})
	fl.Log(NewStateEvent(RoleCommissioner, StateEntityPairing, "00000000000000AB", "IDLE", "HANDSHAKE", ""))
	fl.Log(NewStateEvent(RoleCommissioner, StateEntityCommissioning, "00000000000000AB", "", "ARM_FAILSAFE", ""))
	if err := fl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	fl.Log(Event{ConnectionID: "ignored"})
	if err := fl.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	count := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		count++
	}
	r.Close()
	if count != 3 {
		t.Errorf("read %d events, want 3", count)
	}

	entity := StateEntityPairing
	fr, err := NewFilteredReader(path, Filter{NodeID: "00000000000000AB", Entity: &entity})
	if err != nil {
		t.Fatalf("NewFilteredReader() error = %v", err)
	}
	defer fr.Close()
	ev, err := fr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.StateChange.NewState != "HANDSHAKE" {
		t.Errorf("NewState = %q, want HANDSHAKE", ev.StateChange.NewState)
	}
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReaderAllAndTimeFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.mlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		fl.Log(Event{Timestamp: base.Add(time.Duration(i) * time.Minute), FabricIndex: uint8(1 + i%2)})
	}
	fl.Close()
	if fl.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", fl.Dropped())
	}

	r, err := NewFilteredReader(path, Filter{FabricIndex: 1, Since: base.Add(time.Minute), Until: base.Add(4 * time.Minute)})
	if err != nil {
		t.Fatalf("NewFilteredReader() error = %v", err)
	}
	defer r.Close()

	var got []time.Time
	for ev, err := range r.All() {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		got = append(got, ev.Timestamp)
	}
	if len(got) != 1 || !got[0].Equal(base.Add(2*time.Minute)) {
		t.Errorf("got %v, want only the event at +2m", got)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.mlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				fl.Log(Event{Timestamp: time.Now(), ConnectionID: "x"})
			}
		}()
	}
	wg.Wait()
	fl.Close()

	r, _ := NewReader(path)
	defer r.Close()
	n := 0
	for {
		if _, err := r.Next(); err != nil {
			break
		}
		n++
	}
	if n != 200 {
		t.Errorf("read %d events, want 200", n)
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(NewStateEvent(RoleCommissioner, StateEntityAttestation, "01", "PENDING", "TIMEOUT", "delegate did not answer"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	for k, want := range map[string]string{
		"entity":    "ATTESTATION",
		"new_state": "TIMEOUT",
		"reason":    "delegate did not answer",
		"node_id":   "01",
		"layer":     "COMMISSIONING",
	} {
		if entry[k] != want {
			t.Errorf("%s = %v, want %q", k, entry[k], want)
		}
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestSlogAdapterErrorsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	adapter.Log(Event{Layer: LayerTransport, Frame: &FrameEvent{Size: 12}})
	if buf.Len() != 0 {
		t.Fatalf("frame event logged at info level: %s", buf.String())
	}

	code := 3
	adapter.Log(Event{Layer: LayerWire, Category: CategoryError, Error: &ErrorEventData{Layer: LayerWire, Message: "bad frame", Code: &code, Context: "decode"}})
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["level"] != "WARN" || entry["error"] != "bad frame" || entry["code"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestMultiLogger(t *testing.T) {
	a, b, c := &recordingLogger{}, &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, NoopLogger{}, NewMultiLogger(b, c))
	if len(m.loggers) != 4 {
		t.Fatalf("got %d loggers, want nested loggers flattened and nil skipped", len(m.loggers))
	}
	m.Log(Event{ConnectionID: "1"})
	m.Log(Event{ConnectionID: "2"})
	for name, r := range map[string]*recordingLogger{"a": a, "b": b, "c": c} {
		if len(r.events) != 2 {
			t.Errorf("%s got %d events, want 2", name, len(r.events))
		}
	}
}
