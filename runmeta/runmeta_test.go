package runmeta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunIDProducesDistinctUUIDs(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if a == b {
		t.Fatalf("expected two distinct run ids, got %q twice", a)
	}
	if len(strings.Split(a, "-")) != 5 {
		t.Errorf("run id %q does not look like a UUID", a)
	}
}

func TestWriteProducesValidSortedKeyJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	md := &Metadata{
		Tool:    "permucn",
		Version: "test",
		RunID:   "abc-123",
		Inputs:  Inputs{CafeDir: "/data/cafe", TraitTSV: "/data/trait.tsv"},
		Parameters: Parameters{
			Mode: "binary", Direction: "gain", Seed: 42,
		},
		Tree: TreeFacts{NNodes: 5, NNonRootBranches: 4, CladeBins: DefaultCladeBins()},
		Permutation: &PermutationFacts{
			Cache:   CacheFacts{Path: "cache.json", CacheLoaded: true, InitialSource: "cache", DiscardReason: ""},
			Initial: StageFacts{NPerm: 1000},
		},
		Results: ResultsFacts{NFamilies: 3, NTested: 3},
	}

	if err := Write(path, md); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written metadata: %v", err)
	}

	var roundTripped Metadata
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("written metadata is not valid JSON: %v", err)
	}
	if roundTripped.RunID != "abc-123" || roundTripped.Tool != "permucn" {
		t.Errorf("round-tripped metadata mismatch: %+v", roundTripped)
	}
	if roundTripped.Permutation == nil || !roundTripped.Permutation.Cache.CacheLoaded {
		t.Errorf("permutation facts did not round-trip: %+v", roundTripped.Permutation)
	}
	if roundTripped.Tarone != nil {
		t.Errorf("tarone must stay nil (omitempty) when not set")
	}

	if strings.Index(string(data), `"inputs"`) > strings.Index(string(data), `"parameters"`) {
		t.Errorf("expected alphabetically-sorted top-level keys (inputs before parameters):\n%s", data)
	}
	if strings.Contains(string(data), `"tarone"`) {
		t.Errorf("omitempty Tarone field must not appear in output:\n%s", data)
	}
	if strings.Contains(string(data), `"discard_reason"`) {
		t.Errorf("empty omitempty DiscardReason must not appear in output:\n%s", data)
	}
}

func TestDefaultCladeBinsCoversEightBuckets(t *testing.T) {
	bins := DefaultCladeBins()
	if len(bins) != 8 {
		t.Fatalf("got %d clade bins, want 8", len(bins))
	}
	if bins["1"] != 0 || bins["128-255"] != 7 {
		t.Errorf("unexpected bin boundaries: %+v", bins)
	}
}
