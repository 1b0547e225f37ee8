package sim

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// telemetryCapacity bounds the in-memory snapshot history.
const telemetryCapacity = 1000

// TelemetryBuffer is a bounded ring of FacilityState snapshots. Push evicts
// the oldest entry on overflow. Entries are immutable once appended, so
// readers copy only the slice header under the lock.
type TelemetryBuffer struct {
	mu       sync.Mutex
	entries  []*FacilityState
	capacity int

	sink *jsonlSink
}

// NewTelemetryBuffer creates an empty buffer. If sinkPath is non-empty every
// pushed snapshot is also appended to that file as one JSON line.
func NewTelemetryBuffer(sinkPath string) *TelemetryBuffer {
	b := &TelemetryBuffer{capacity: telemetryCapacity}
	if sinkPath != "" {
		s, err := newJSONLSink(sinkPath)
		if err != nil {
			logrus.Errorf("telemetry sink %s unavailable: %v", sinkPath, err)
		} else {
			b.sink = s
		}
	}
	return b
}

// Push appends a snapshot, evicting the oldest when full.
func (b *TelemetryBuffer) Push(s *FacilityState) {
	b.mu.Lock()
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, s)
	b.mu.Unlock()

	if b.sink != nil {
		b.sink.write(s)
	}
}

// Latest returns the most recent snapshot, or nil if none.
func (b *TelemetryBuffer) Latest() *FacilityState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[len(b.entries)-1]
}

// History returns up to lastN snapshots ending at the most recent, in tick
// order. lastN <= 0 returns everything retained.
func (b *TelemetryBuffer) History(lastN int) []*FacilityState {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	if lastN <= 0 || lastN > n {
		lastN = n
	}
	out := make([]*FacilityState, lastN)
	copy(out, b.entries[n-lastN:])
	return out
}

// Len returns the number of retained snapshots.
func (b *TelemetryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Reset drops all retained snapshots. The sink file is left as-is so a reset
// run appends after the previous one.
func (b *TelemetryBuffer) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

// Close flushes and closes the sink if one is attached.
func (b *TelemetryBuffer) Close() error {
	if b.sink == nil {
		return nil
	}
	return b.sink.close()
}

// jsonlSink appends snapshots to a file, one JSON object per line.
type jsonlSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func newJSONLSink(path string) (*jsonlSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonlSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *jsonlSink) write(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		logrus.Errorf("telemetry sink write failed: %v", err)
	}
}

func (s *jsonlSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
