// Package entity turns scanned stacks into catalog entities and derives
// the dependency edges between them.
package entity

import "sort"

// Catalog schema constants.
const (
	APIVersion   = "backstage.io/v1alpha1"
	KindResource = "Resource"
	Namespace    = "default"
)

// Values of Spec.Type for the entity variants.
const (
	TypeStack    = "cloudformation-stack"
	TypeFunction = "lambda-function"
	TypeRuntime  = "lambda-runtime"
)

// Link is a metadata link shown next to an entity.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Metadata is the metadata block of an entity.
type Metadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Annotations map[string]string `json:"annotations"`
	Links       []Link            `json:"links"`
}

// Spec is the spec block of an entity.
type Spec struct {
	Type         string   `json:"type"`
	Lifecycle    string   `json:"lifecycle"`
	Owner        string   `json:"owner"`
	System       string   `json:"system,omitempty"`
	DependsOn    []string `json:"dependsOn"`
	DependencyOf []string `json:"dependencyOf"`
}

// Entity is one catalog node. Spec.Type tells the stack, function and
// runtime variants apart.
type Entity struct {
	APIVersion string   `json:"apiVersion"`
	Kind       string   `json:"kind"`
	Metadata   Metadata `json:"metadata"`
	Spec       Spec     `json:"spec"`
}

// Name returns the entity identity.
func (e *Entity) Name() string { return e.Metadata.Name }

// Ref returns the catalog reference used in dependsOn/dependencyOf lists.
func Ref(name string) string {
	return "resource:" + Namespace + "/" + name
}

// Edge says that From depends on To. Both ends are entity identities.
type Edge struct {
	From string
	To   string
}

// Fragment is what the builder produces for one stack.
type Fragment struct {
	Entities []Entity
	Edges    []Edge
}

// Snapshot is the full entity set of one refresh cycle.
type Snapshot struct {
	Entities []Entity `json:"entities"`

	// Complete is set once every account of the cycle has settled. Only a
	// complete snapshot may replace what the catalog holds.
	Complete bool `json:"complete"`
}

// Find returns the entity called name.
func (s *Snapshot) Find(name string) (*Entity, bool) {
	i := sort.Search(len(s.Entities), func(i int) bool { return s.Entities[i].Metadata.Name >= name })
	if i < len(s.Entities) && s.Entities[i].Metadata.Name == name {
		return &s.Entities[i], true
	}
	return nil, false
}

// Count returns the number of entities per Spec.Type.
func (s *Snapshot) Count() map[string]int {
	counts := map[string]int{}
	for i := range s.Entities {
		counts[s.Entities[i].Spec.Type]++
	}
	return counts
}
