// Package diag keeps a bounded trace of raw events, state changes and user
// actions for bug reports. Nothing in it feeds back into game logic.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 500

// Kind classifies a diagnostic entry
type Kind string

const (
	KindInboundEvent Kind = "inbound_event"
	KindStateChange  Kind = "state_change"
	KindUserAction   Kind = "user_action"
	KindError        Kind = "error"
)

// Entry is one diagnostic record. Payload is a JSON copy taken when the
// entry was logged.
type Entry struct {
	Offset  time.Duration   `json:"-"`
	Millis  int64           `json:"t_ms"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Export is the JSON form of the whole buffer.
type Export struct {
	SessionStart time.Time `json:"session_start"`
	ExportedAt   time.Time `json:"exported_at"`
	Capacity     int       `json:"capacity"`
	Count        int       `json:"count"`
	Evicted      uint64    `json:"evicted"`
	Entries      []Entry   `json:"entries"`
}

// Logger is a fixed size ring buffer of entries. It is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	clock   quartz.Clock
	origin  time.Time
	entries []Entry
	head    int // index of the oldest entry
	count   int
	evicted uint64
}

// New creates a logger holding at most capacity entries. A non-positive
// capacity uses DefaultCapacity.
func New(capacity int, clock quartz.Clock) *Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Logger{
		clock:   clock,
		origin:  clock.Now(),
		entries: make([]Entry, capacity),
	}
}

// Log records payload under kind. The payload is copied immediately, so the
// caller may keep mutating it.
func (l *Logger) Log(kind Kind, payload interface{}) {
	data := snapshot(payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	offset := l.clock.Since(l.origin)
	e := Entry{
		Offset:  offset,
		Millis:  offset.Milliseconds(),
		Kind:    kind,
		Payload: data,
	}

	capacity := len(l.entries)
	if l.count < capacity {
		l.entries[(l.head+l.count)%capacity] = e
		l.count++
		return
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % capacity
	l.evicted++
}

// Count returns the number of entries currently held.
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the maximum number of entries held.
func (l *Logger) Capacity() int {
	return len(l.entries)
}

// Entries returns the held entries, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesLocked()
}

func (l *Logger) entriesLocked() []Entry {
	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.head+i)%len(l.entries)]
		e.Payload = append(json.RawMessage(nil), e.Payload...)
		out = append(out, e)
	}
	return out
}

// Clear drops every entry and restarts the relative clock.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
	l.head = 0
	l.count = 0
	l.evicted = 0
	l.origin = l.clock.Now()
}

// ExportText renders one line per entry:
//
//	+    1250ms inbound_event {"event":"game_update",...}
func (l *Logger) ExportText() string {
	entries := l.Entries()

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "+%8dms %-13s %s\n", e.Millis, e.Kind, e.Payload)
	}
	return b.String()
}

// ExportJSON returns the buffer contents for serialization.
func (l *Logger) ExportJSON() Export {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Export{
		SessionStart: l.origin,
		ExportedAt:   l.clock.Now(),
		Capacity:     len(l.entries),
		Count:        l.count,
		Evicted:      l.evicted,
		Entries:      l.entriesLocked(),
	}
}

// WriteTo writes the JSON export to w, for saving or sharing a trace.
func (l *Logger) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(l.ExportJSON(), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode diagnostics: %w", err)
	}
	data = append(data, '\n')
	n, err := w.Write(data)
	return int64(n), err
}

// snapshot deep copies payload by encoding it. Raw JSON is copied as is,
// errors are stored as their message, and values that cannot be encoded are
// replaced by a description of the failure.
func snapshot(payload interface{}) json.RawMessage {
	switch p := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if json.Valid(p) {
			return append(json.RawMessage(nil), p...)
		}
		payload = string(p)
	case []byte:
		if json.Valid(p) {
			return append(json.RawMessage(nil), p...)
		}
		payload = string(p)
	case error:
		payload = map[string]string{"error": p.Error()}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"unencodable": err.Error()})
	}
	return data
}
