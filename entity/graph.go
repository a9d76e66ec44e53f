package entity

import (
	"slices"
	"strings"
	"sync"
)

// Graph collects the fragments of one refresh cycle. Add may be called
// from many goroutines; Snapshot is called once all of them are done.
type Graph struct {
	mu       sync.Mutex
	entities map[string]Entity
	edges    map[Edge]struct{}
	dupes    int
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		entities: make(map[string]Entity),
		edges:    make(map[Edge]struct{}),
	}
}

// Add merges a fragment. An entity whose identity is already present is
// dropped; the first one wins.
func (g *Graph) Add(f Fragment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range f.Entities {
		if _, ok := g.entities[e.Metadata.Name]; ok {
			g.dupes++
			continue
		}
		g.entities[e.Metadata.Name] = e
	}
	for _, edge := range f.Edges {
		g.edges[edge] = struct{}{}
	}
}

// Len returns the number of distinct entities added so far.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entities)
}

// Duplicates returns how many entities Add dropped because their identity
// was already present.
func (g *Graph) Duplicates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dupes
}

// Snapshot derives dependsOn and dependencyOf for every entity from the
// collected edges in one pass and returns the entities sorted by name.
// Edges whose ends are not both present are ignored. Empty relation lists,
// annotations and links are returned non-nil so they always serialize.
// The returned snapshot is not marked complete.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	dependsOn := make(map[string][]string)
	dependencyOf := make(map[string][]string)
	for edge := range g.edges {
		if _, ok := g.entities[edge.From]; !ok {
			continue
		}
		if _, ok := g.entities[edge.To]; !ok {
			continue
		}
		dependsOn[edge.From] = append(dependsOn[edge.From], Ref(edge.To))
		dependencyOf[edge.To] = append(dependencyOf[edge.To], Ref(edge.From))
	}

	snap := &Snapshot{Entities: make([]Entity, 0, len(g.entities))}
	for name, e := range g.entities {
		e.Spec.DependsOn = sorted(dependsOn[name])
		e.Spec.DependencyOf = sorted(dependencyOf[name])
		if e.Metadata.Annotations == nil {
			e.Metadata.Annotations = map[string]string{}
		}
		if e.Metadata.Links == nil {
			e.Metadata.Links = []Link{}
		}
		snap.Entities = append(snap.Entities, e)
	}
	slices.SortFunc(snap.Entities, func(a, b Entity) int {
		return strings.Compare(a.Metadata.Name, b.Metadata.Name)
	})
	return snap
}

func sorted(refs []string) []string {
	if len(refs) == 0 {
		return []string{}
	}
	slices.Sort(refs)
	return refs
}
