// Package annotation resolves reference-atlas voxel coordinates to brain
// region records using a labeled annotation volume and the region
// ontology tree distilled from the Allen structure graph.
package annotation

import (
	"encoding/json"
	"fmt"
	"os"

	"uct2ccf/pkg/volume"
)

const (
	// RootID is the ontology identifier of the root structure.
	RootID = 997

	// MaxAncestryDepth caps the parent walk when assembling an
	// ancestry chain, guarding against cycles in hand-edited trees.
	MaxAncestryDepth = 10
)

// node mirrors one entry of the structure graph JSON.
type node struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Acronym  string `json:"acronym"`
	ParentID *int   `json:"parent_structure_id"`
	Color    string `json:"color_hex_triplet"`
	Depth    int    `json:"st_level"`
	Children []node `json:"children"`
}

// Region is one resolved brain structure.
type Region struct {
	ID       int
	Name     string
	Acronym  string
	ParentID *int
	Color    string
	Depth    int
}

// Ontology is the region tree with lookup indices by id, acronym and name.
type Ontology struct {
	byID      map[int]Region
	byAcronym map[string]Region
	byName    map[string]Region
}

// LoadOntology reads a structure graph JSON file. Both the bare root node
// and the API envelope ({"msg": [root]}) are accepted.
func LoadOntology(path string) (*Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("annotation: reading ontology: %w", err)
	}
	return ParseOntology(data)
}

// ParseOntology builds the ontology from structure graph JSON bytes.
// Three layouts are accepted: a bare root node, a bare list of nodes, and
// the API envelope ({"msg": [...]}).
func ParseOntology(data []byte) (*Ontology, error) {
	var roots []node

	var root node
	if err := json.Unmarshal(data, &root); err == nil && root.ID != 0 {
		roots = []node{root}
	} else if err := json.Unmarshal(data, &roots); err != nil || len(roots) == 0 {
		var envelope struct {
			Msg []node `json:"msg"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Msg) == 0 {
			return nil, fmt.Errorf("annotation: unrecognized ontology JSON")
		}
		roots = envelope.Msg
	}

	o := &Ontology{
		byID:      make(map[int]Region),
		byAcronym: make(map[string]Region),
		byName:    make(map[string]Region),
	}
	for _, n := range roots {
		o.index(n)
	}
	return o, nil
}

// index walks the tree once, registering every structure in all three
// indices.
func (o *Ontology) index(n node) {
	r := Region{
		ID:       n.ID,
		Name:     n.Name,
		Acronym:  n.Acronym,
		ParentID: n.ParentID,
		Color:    n.Color,
		Depth:    n.Depth,
	}
	o.byID[n.ID] = r
	o.byAcronym[n.Acronym] = r
	o.byName[n.Name] = r
	for _, c := range n.Children {
		o.index(c)
	}
}

// ByID returns the region with the given ontology id.
func (o *Ontology) ByID(id int) (Region, bool) {
	r, ok := o.byID[id]
	return r, ok
}

// ByAcronym returns the region with the given acronym.
func (o *Ontology) ByAcronym(acronym string) (Region, bool) {
	r, ok := o.byAcronym[acronym]
	return r, ok
}

// ByName returns the region with the given full name.
func (o *Ontology) ByName(name string) (Region, bool) {
	r, ok := o.byName[name]
	return r, ok
}

// Len returns the number of indexed structures.
func (o *Ontology) Len() int { return len(o.byID) }

// Ancestry returns the full names from the given region up through its
// ancestors, starting with the region itself. The root structure is not
// included: the walk stops once the next parent is the root, at a missing
// parent, or after MaxAncestryDepth steps.
func (o *Ontology) Ancestry(r Region) []string {
	chain := []string{r.Name}
	cur := r
	for i := 0; i < MaxAncestryDepth; i++ {
		if cur.ParentID == nil || *cur.ParentID == RootID {
			break
		}
		parent, ok := o.byID[*cur.ParentID]
		if !ok {
			break
		}
		chain = append(chain, parent.Name)
		cur = parent
	}
	return chain
}

// Class categorizes a lookup outcome.
type Class int

const (
	// Known: the voxel carries an id present in the ontology.
	Known Class = iota

	// Background: the voxel carries label 0, outside any structure.
	Background

	// OutOfBounds: the point lies outside the annotation volume.
	OutOfBounds

	// Unknown: the voxel carries an id the ontology does not define.
	Unknown
)

func (c Class) String() string {
	switch c {
	case Known:
		return "known"
	case Background:
		return "background"
	case OutOfBounds:
		return "out of bounds"
	default:
		return "unknown"
	}
}

// Result is the outcome of resolving one voxel coordinate.
type Result struct {
	Class    Class
	Region   Region
	Ancestry []string
}

// Lookup resolves a reference voxel coordinate against the annotation
// volume. Every coordinate yields a Result: out-of-bounds points and
// background voxels are reported as such rather than as errors, and ids
// absent from the ontology produce a synthetic placeholder record so the
// offending label stays visible downstream.
func (o *Ontology) Lookup(annot *volume.Volume, p volume.Point) Result {
	if !annot.InBounds(p) {
		return Result{Class: OutOfBounds}
	}
	id := int(annot.At(p.Z, p.Y, p.X))
	if id == 0 {
		return Result{Class: Background}
	}
	r, ok := o.byID[id]
	if !ok {
		r = Region{
			ID:      id,
			Name:    fmt.Sprintf("Unknown_Region_%d", id),
			Acronym: fmt.Sprintf("UNK%d", id),
			Color:   "FFFFFF",
		}
		return Result{Class: Unknown, Region: r, Ancestry: []string{r.Name}}
	}
	return Result{Class: Known, Region: r, Ancestry: o.Ancestry(r)}
}
