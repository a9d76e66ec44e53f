// Package catalog submits discovered entity snapshots to the catalog as
// full-replacement mutations.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/stack-discovery/entity"
)

// MutationFull replaces everything previously stored under a location key.
const MutationFull = "full"

// ErrIncompleteSnapshot is returned when asked to emit a snapshot that was
// not marked complete. Submitting it would delete entities that were only
// missed, not removed.
var ErrIncompleteSnapshot = errors.New("catalog: refusing to emit incomplete snapshot")

// Mutation is the payload handed to a Sink.
type Mutation struct {
	Type        string          `json:"type"`
	LocationKey string          `json:"locationKey"`
	Entities    []entity.Entity `json:"entities"`
}

// Sink applies mutations to a catalog. After a successful full mutation the
// location key holds exactly the mutation's entities.
type Sink interface {
	ApplyMutation(ctx context.Context, m *Mutation) error
}

// Emitter turns complete snapshots into full mutations.
type Emitter struct {
	sink        Sink
	locationKey string
	logger      *slog.Logger
}

// NewEmitter creates an Emitter submitting under locationKey.
func NewEmitter(sink Sink, locationKey string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, locationKey: locationKey, logger: logger}
}

// LocationKey returns the key every mutation is submitted under.
func (e *Emitter) LocationKey() string { return e.locationKey }

// Emit submits snap as a full mutation.
func (e *Emitter) Emit(ctx context.Context, snap *entity.Snapshot) error {
	if snap == nil || !snap.Complete {
		return ErrIncompleteSnapshot
	}
	entities := snap.Entities
	if entities == nil {
		entities = []entity.Entity{}
	}
	m := &Mutation{Type: MutationFull, LocationKey: e.locationKey, Entities: entities}
	if err := e.sink.ApplyMutation(ctx, m); err != nil {
		return fmt.Errorf("apply mutation %s: %w", e.locationKey, err)
	}
	e.logger.Info("catalog mutation applied", "locationKey", e.locationKey, "entities", len(entities))
	return nil
}
