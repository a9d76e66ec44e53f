package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// WriterSink writes each mutation as indented JSON to w.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// ApplyMutation implements Sink.
func (s *WriterSink) ApplyMutation(_ context.Context, m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("writer sink: %w", err)
	}
	return nil
}
