package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events from a trace. Zero fields match everything.
type Filter struct {
	ConnectionID string

	// NodeID is the hex device id as written by the commissioner.
	NodeID      string
	FabricIndex uint8

	Layer    *Layer
	Category *Category
	Entity   *StateEntity

	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time
}

// Match reports whether event passes the filter.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.NodeID != "" && event.NodeID != f.NodeID:
		return false
	case f.FabricIndex != 0 && event.FabricIndex != f.FabricIndex:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Entity != nil && (event.StateChange == nil || event.StateChange.Entity != *f.Entity):
		return false
	case !f.Since.IsZero() && event.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !event.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Reader streams events from a trace file written by FileLogger.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens a trace for reading every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a trace for reading the events filter matches.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: decMode.NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the trace.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// All iterates over the remaining matching events. Iteration stops at the
// end of the trace or after yielding a decode error.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) Close() error {
	return r.file.Close()
}
