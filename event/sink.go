package event

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Sink receives marketplace events. Implementations must not block the
// emitting operation and have no way to fail it.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(Event) {}

// MemorySink collects events in order. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports how many events have been emitted.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Reset drops all collected events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// JSONLWriter emits one JSON object per line. Write errors do not propagate
// to the emitter; the first one is retained and exposed via Err.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONLWriter wraps w in a line-oriented event sink.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Emit writes the event as a single JSON line.
func (s *JSONLWriter) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil && s.err == nil {
		s.err = err
	}
}

// Err returns the first write error encountered, if any.
func (s *JSONLWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MultiSink fans each event out to every wrapped sink in order.
type MultiSink struct {
	sinks []Sink
}

// Multi combines sinks into one. Nil entries are skipped.
func Multi(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit forwards the event to every sink.
func (m *MultiSink) Emit(e Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// SlogSink writes one structured log line per event.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink logs events through logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the event at info level.
func (s *SlogSink) Emit(e Event) {
	switch e.Kind {
	case KindListed:
		s.logger.Info("Token listed", "token", e.Token, "seller", e.Seller, "price", e.Price)
	case KindPurchased:
		s.logger.Info("Token purchased", "token", e.Token, "seller", e.Seller, "buyer", e.Buyer, "price", e.Price, "paid", e.Paid)
	case KindEvolved:
		s.logger.Info("Token evolved", "token", e.Token, "stage", e.Stage, "metadata", e.Metadata)
	default:
		s.logger.Info("Market event", "kind", e.Kind, "token", e.Token)
	}
}
