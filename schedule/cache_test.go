package schedule

import (
	"path/filepath"
	"testing"

	"bitbucket.org/mrrlab/permucn/bitset"
)

func TestIsBundleCompatibleDetectsMismatches(t *testing.T) {
	fg01 := bitset.New(8)
	fg01.Set(1)
	fg10 := bitset.New(8)
	spec := CacheSpec{TreeFingerprint: "abc", IncludeTraitLoss: true, FG01Mask: fg01, FG10Mask: fg10}
	b := EmptyBundle(spec)

	if !IsBundleCompatible(b, spec) {
		t.Fatalf("freshly built bundle must be compatible with its own spec")
	}

	other := spec
	other.TreeFingerprint = "xyz"
	if IsBundleCompatible(b, other) {
		t.Errorf("a differing tree fingerprint must be incompatible")
	}

	other = spec
	other.IncludeTraitLoss = false
	if IsBundleCompatible(b, other) {
		t.Errorf("a differing include-trait-loss flag must be incompatible")
	}

	other = spec
	flipped := bitset.New(8)
	flipped.Set(2)
	other.FG01Mask = flipped
	if IsBundleCompatible(b, other) {
		t.Errorf("a differing foreground mask must be incompatible")
	}

	if IsBundleCompatible(nil, spec) {
		t.Errorf("a nil bundle must never be compatible")
	}
}

func TestPutAndGetStageCacheRoundTrips(t *testing.T) {
	spec := CacheSpec{TreeFingerprint: "abc", FG01Mask: bitset.New(8), FG10Mask: bitset.New(8)}
	b := EmptyBundle(spec)

	m1 := bitset.New(8)
	m1.Set(0)
	m1.Set(3)
	m2 := bitset.New(8)
	m2.Set(5)
	cache := StageCache{Masks01: []bitset.BitSet{m1, m2}, Masks10: []bitset.BitSet{m2, m1}, TotalAttempts: 10, TotalRestarts: 2}
	PutStageCache(b, "initial", cache)

	got, ok := GetStageCache(b, "initial", 2, 8)
	if !ok {
		t.Fatalf("expected a hit for a fully-sized stage request")
	}
	if !got.Masks01[0].Equal(m1) || !got.Masks01[1].Equal(m2) {
		t.Errorf("Masks01 round-trip mismatch: %+v", got.Masks01)
	}
	if got.TotalAttempts != 10 || got.TotalRestarts != 2 {
		t.Errorf("counters round-trip mismatch: %+v", got)
	}

	if _, ok := GetStageCache(b, "initial", 3, 8); ok {
		t.Errorf("a request for more samples than stored must miss")
	}
	if _, ok := GetStageCache(b, "refine", 1, 8); ok {
		t.Errorf("an unpopulated stage must miss")
	}
	if _, ok := GetStageCache(nil, "initial", 1, 8); ok {
		t.Errorf("a nil bundle must miss")
	}
}

func TestSaveAndLoadBundleRoundTrips(t *testing.T) {
	dir := t.TempDir()
	spec := CacheSpec{TreeFingerprint: "fp1", IncludeTraitLoss: true, FG01Mask: bitset.New(8), FG10Mask: bitset.New(8)}
	spec.FG01Mask.Set(4)
	b := EmptyBundle(spec)
	m := bitset.New(8)
	m.Set(7)
	PutStageCache(b, "initial", StageCache{Masks01: []bitset.BitSet{m}, Masks10: []bitset.BitSet{m}, TotalAttempts: 1})

	path := filepath.Join(dir, "nested", "cache.json")
	if err := SaveBundle(path, b); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if !IsBundleCompatible(loaded, spec) {
		t.Errorf("round-tripped bundle must remain compatible with its original spec")
	}
	stage, ok := GetStageCache(loaded, "initial", 1, 8)
	if !ok || !stage.Masks01[0].Equal(m) {
		t.Errorf("round-tripped stage cache mismatch: %+v, ok=%v", stage, ok)
	}
}

func TestSaveAndLoadBundleRoundTripsGzipped(t *testing.T) {
	dir := t.TempDir()
	spec := CacheSpec{TreeFingerprint: "fp2", FG01Mask: bitset.New(8), FG10Mask: bitset.New(8)}
	b := EmptyBundle(spec)

	path := filepath.Join(dir, "cache.json.gz")
	if err := SaveBundle(path, b); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle (gzip): %v", err)
	}
	if !IsBundleCompatible(loaded, spec) {
		t.Errorf("gzip round-tripped bundle must remain compatible")
	}
}

func TestMaskToHexRoundTripsViaHexToMask(t *testing.T) {
	m := bitset.New(70)
	m.Set(0)
	m.Set(63)
	m.Set(69)
	hex := maskToHex(m)
	back, err := hexToMask(hex, 70)
	if err != nil {
		t.Fatalf("hexToMask: %v", err)
	}
	if !back.Equal(m) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", back, m)
	}
}

func TestHexToMaskEmptyStringIsZeroMask(t *testing.T) {
	m, err := hexToMask("", 16)
	if err != nil {
		t.Fatalf("hexToMask: %v", err)
	}
	if m.PopCount() != 0 {
		t.Errorf("expected an all-zero mask, got PopCount=%d", m.PopCount())
	}
}
