package annotation

import (
	"os"
	"path/filepath"
	"testing"

	"uct2ccf/pkg/volume"
)

// testGraph is a miniature structure graph: root -> grey -> (CTX, TH).
const testGraph = `{
	"id": 997, "name": "root", "acronym": "root",
	"parent_structure_id": null, "color_hex_triplet": "FFFFFF", "st_level": 0,
	"children": [
		{
			"id": 8, "name": "Basic cell groups and regions", "acronym": "grey",
			"parent_structure_id": 997, "color_hex_triplet": "BFDAE3", "st_level": 1,
			"children": [
				{
					"id": 688, "name": "Cerebral cortex", "acronym": "CTX",
					"parent_structure_id": 8, "color_hex_triplet": "B0F0FF", "st_level": 2,
					"children": []
				},
				{
					"id": 549, "name": "Thalamus", "acronym": "TH",
					"parent_structure_id": 8, "color_hex_triplet": "FF7080", "st_level": 2,
					"children": []
				}
			]
		}
	]
}`

func testOntology(t *testing.T) *Ontology {
	t.Helper()
	o, err := ParseOntology([]byte(testGraph))
	if err != nil {
		t.Fatalf("ParseOntology failed: %v", err)
	}
	return o
}

// labelVolume builds a 3x3x3 annotation volume: background everywhere
// except CTX at (1,1,1) and an undefined id at (2,2,2).
func labelVolume() *volume.Volume {
	v := volume.NewEmpty([3]int{3, 3, 3}, [3]float64{0.025, 0.025, 0.025}, volume.Float64)
	v.Set(1, 1, 1, 688)
	v.Set(2, 2, 2, 12345)
	return v
}

// TestParseOntologyIndices verifies all three lookup indices over the tree
func TestParseOntologyIndices(t *testing.T) {
	o := testOntology(t)

	if o.Len() != 4 {
		t.Fatalf("Expected 4 structures, got %d", o.Len())
	}

	r, ok := o.ByID(688)
	if !ok || r.Acronym != "CTX" {
		t.Errorf("ByID(688): expected CTX, got %+v", r)
	}
	r, ok = o.ByAcronym("TH")
	if !ok || r.ID != 549 {
		t.Errorf("ByAcronym(TH): expected 549, got %+v", r)
	}
	r, ok = o.ByName("root")
	if !ok || r.ID != RootID {
		t.Errorf("ByName(root): expected %d, got %+v", RootID, r)
	}
	if _, ok := o.ByID(1); ok {
		t.Error("ByID(1) should miss")
	}
}

// TestParseOntologyEnvelope verifies the API envelope form is accepted
func TestParseOntologyEnvelope(t *testing.T) {
	o, err := ParseOntology([]byte(`{"msg": [` + testGraph + `]}`))
	if err != nil {
		t.Fatalf("ParseOntology failed: %v", err)
	}
	if o.Len() != 4 {
		t.Errorf("Expected 4 structures, got %d", o.Len())
	}

	if _, err := ParseOntology([]byte(`{"msg": []}`)); err == nil {
		t.Error("Expected error for empty envelope")
	}
	if _, err := ParseOntology([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

// TestParseOntologyBareList verifies a top-level JSON list of nodes is
// accepted
func TestParseOntologyBareList(t *testing.T) {
	o, err := ParseOntology([]byte(`[` + testGraph + `]`))
	if err != nil {
		t.Fatalf("ParseOntology failed: %v", err)
	}
	if o.Len() != 4 {
		t.Errorf("Expected 4 structures, got %d", o.Len())
	}
	if _, ok := o.ByAcronym("TH"); !ok {
		t.Error("List form should index nested children")
	}

	if _, err := ParseOntology([]byte(`[]`)); err == nil {
		t.Error("Expected error for an empty list")
	}
}

// TestLoadOntology verifies file loading
func TestLoadOntology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(testGraph), 0644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOntology(path)
	if err != nil {
		t.Fatalf("LoadOntology failed: %v", err)
	}
	if o.Len() != 4 {
		t.Errorf("Expected 4 structures, got %d", o.Len())
	}

	if _, err := LoadOntology(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestAncestry verifies the parent walk collects region names and stops
// before the root structure
func TestAncestry(t *testing.T) {
	o := testOntology(t)
	ctx, _ := o.ByID(688)

	chain := o.Ancestry(ctx)
	want := []string{"Cerebral cortex", "Basic cell groups and regions"}
	if len(chain) != len(want) {
		t.Fatalf("Expected %v, got %v", want, chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, chain)
		}
	}

	// A direct child of the root lists only itself.
	grey, _ := o.ByID(8)
	if chain := o.Ancestry(grey); len(chain) != 1 || chain[0] != "Basic cell groups and regions" {
		t.Errorf("Root child ancestry should be itself only, got %v", chain)
	}

	root, _ := o.ByID(RootID)
	if chain := o.Ancestry(root); len(chain) != 1 || chain[0] != "root" {
		t.Errorf("Root ancestry should be itself only, got %v", chain)
	}
}

// TestAncestryCycleTermination verifies the depth cap on a corrupted tree
func TestAncestryCycleTermination(t *testing.T) {
	// Two structures pointing at each other.
	a, b := 1, 2
	o := &Ontology{
		byID:      map[int]Region{},
		byAcronym: map[string]Region{},
		byName:    map[string]Region{},
	}
	o.byID[a] = Region{ID: a, Name: "A", ParentID: &b}
	o.byID[b] = Region{ID: b, Name: "B", ParentID: &a}

	chain := o.Ancestry(o.byID[a])
	if len(chain) != MaxAncestryDepth+1 {
		t.Errorf("Cycle walk should stop after %d steps, got %d", MaxAncestryDepth, len(chain)-1)
	}
}

// TestLookupDispositions verifies the four lookup outcomes
func TestLookupDispositions(t *testing.T) {
	o := testOntology(t)
	annot := labelVolume()

	res := o.Lookup(annot, volume.Point{Z: 1, Y: 1, X: 1})
	if res.Class != Known || res.Region.Acronym != "CTX" {
		t.Errorf("Expected known CTX, got %+v", res)
	}
	if len(res.Ancestry) != 2 || res.Ancestry[0] != "Cerebral cortex" {
		t.Errorf("Expected name chain up to the root child, got %v", res.Ancestry)
	}

	res = o.Lookup(annot, volume.Point{Z: 0, Y: 0, X: 0})
	if res.Class != Background {
		t.Errorf("Expected background, got %+v", res)
	}

	res = o.Lookup(annot, volume.Point{Z: -1, Y: 0, X: 0})
	if res.Class != OutOfBounds {
		t.Errorf("Expected out of bounds, got %+v", res)
	}
	res = o.Lookup(annot, volume.Point{Z: 0, Y: 0, X: 3})
	if res.Class != OutOfBounds {
		t.Errorf("Expected out of bounds, got %+v", res)
	}
}

// TestLookupUnknownID verifies the synthetic record for undefined labels
func TestLookupUnknownID(t *testing.T) {
	o := testOntology(t)
	res := o.Lookup(labelVolume(), volume.Point{Z: 2, Y: 2, X: 2})

	if res.Class != Unknown {
		t.Fatalf("Expected unknown, got %+v", res)
	}
	if res.Region.ID != 12345 {
		t.Errorf("Synthetic record should keep the id, got %d", res.Region.ID)
	}
	if res.Region.Name != "Unknown_Region_12345" || res.Region.Acronym != "UNK12345" {
		t.Errorf("Unexpected synthetic record: %+v", res.Region)
	}
	if res.Region.Color != "FFFFFF" {
		t.Errorf("Synthetic record should carry the white placeholder color, got %q", res.Region.Color)
	}
	if len(res.Ancestry) != 1 || res.Ancestry[0] != "Unknown_Region_12345" {
		t.Errorf("Unknown ancestry should be the placeholder only, got %v", res.Ancestry)
	}
}
