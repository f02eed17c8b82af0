package models

import (
	"reflect"
	"testing"

	"atlasfusion/pkg/volume"
)

func testAtlasSet() AtlasSet {
	img := func() *volume.Image { return volume.New([3]int{2, 2, 2}) }
	return AtlasSet{
		"case02": {
			"DIR": LabelSet{
				WeightMapKey: img(),
				"Heart":      img(),
			},
		},
		"case01": {
			"DIR": LabelSet{
				WeightMapKey: img(),
				"Heart":      img(),
				"Lung":       img(),
			},
		},
		"case03": {
			"RIGID": LabelSet{
				"Heart": img(),
			},
		},
	}
}

// TestStructures verifies the sorted union across cases, excluding the
// reserved weight-map entry and other registration methods
func TestStructures(t *testing.T) {
	atlasSet := testAtlasSet()

	got := atlasSet.Structures("DIR")
	want := []string{"Heart", "Lung"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected structures %v, got %v", want, got)
	}

	if got := atlasSet.Structures("RIGID"); !reflect.DeepEqual(got, []string{"Heart"}) {
		t.Errorf("Expected RIGID structures [Heart], got %v", got)
	}
	if got := atlasSet.Structures("missing"); len(got) != 0 {
		t.Errorf("Expected no structures for an unknown method, got %v", got)
	}
}

// TestValidCases verifies sorted case selection per structure
func TestValidCases(t *testing.T) {
	atlasSet := testAtlasSet()

	got := atlasSet.ValidCases("DIR", "Heart")
	want := []string{"case01", "case02"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected cases %v, got %v", want, got)
	}

	if got := atlasSet.ValidCases("DIR", "Lung"); !reflect.DeepEqual(got, []string{"case01"}) {
		t.Errorf("Expected only case01 for Lung, got %v", got)
	}
	if got := atlasSet.ValidCases("DIR", "Spleen"); len(got) != 0 {
		t.Errorf("Expected no cases for an absent structure, got %v", got)
	}
}

// TestWeightMap verifies weight-map lookup and its nil fallback
func TestWeightMap(t *testing.T) {
	atlasSet := testAtlasSet()

	if atlasSet.WeightMap("case01", "DIR") == nil {
		t.Errorf("Expected a weight map for case01")
	}
	if atlasSet.WeightMap("case03", "RIGID") != nil {
		t.Errorf("Expected nil for a case without a weight map")
	}
	if atlasSet.WeightMap("nope", "DIR") != nil {
		t.Errorf("Expected nil for an unknown case")
	}
}
