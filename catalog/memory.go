package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/stack-discovery/entity"
)

// MemorySink keeps the current entity set per location key in memory.
type MemorySink struct {
	mu        sync.RWMutex
	locations map[string]map[string]entity.Entity
	removed   map[string][]string
	applied   int
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		locations: make(map[string]map[string]entity.Entity),
		removed:   make(map[string][]string),
	}
}

// ApplyMutation implements Sink.
func (s *MemorySink) ApplyMutation(ctx context.Context, m *Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Type != MutationFull {
		return fmt.Errorf("memory sink: unsupported mutation type %q", m.Type)
	}

	next := make(map[string]entity.Entity, len(m.Entities))
	for _, e := range m.Entities {
		next[e.Metadata.Name] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for name := range s.locations[m.LocationKey] {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	s.locations[m.LocationKey] = next
	s.removed[m.LocationKey] = removed
	s.applied++
	return nil
}

// Entities returns the entities held under locationKey, sorted by name.
func (s *MemorySink) Entities(locationKey string) []entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Entity, 0, len(s.locations[locationKey]))
	for _, e := range s.locations[locationKey] {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b entity.Entity) int {
		return strings.Compare(a.Metadata.Name, b.Metadata.Name)
	})
	return out
}

// Get returns one entity held under locationKey.
func (s *MemorySink) Get(locationKey, name string) (entity.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.locations[locationKey][name]
	return e, ok
}

// Removed returns the names the last mutation for locationKey dropped.
func (s *MemorySink) Removed(locationKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.removed[locationKey])
}

// Applied returns how many mutations were applied.
func (s *MemorySink) Applied() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}
