package permute

import (
	"testing"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/tree"
)

func eightTipTree(t *testing.T) *tree.Tree {
	t.Helper()
	nwk := "(((A<1>:1,B<2>:1)n1:1,(C<3>:1,D<4>:1)n2:1)n3:1,((E<5>:1,F<6>:1)n4:1,(G<7>:1,H<8>:1)n5:1)n6:1)root;"
	tr, err := tree.ParseNewickString(nwk, false)
	if err != nil {
		t.Fatalf("ParseNewickString: %v", err)
	}
	return tr
}

func maskOf(t *testing.T, tr *tree.Tree, keys ...string) bitset.BitSet {
	t.Helper()
	m := bitset.New(tr.NumBranches())
	for _, k := range keys {
		idx := tr.Index(k)
		if idx < 0 {
			t.Fatalf("unknown branch key %q", k)
		}
		m.Set(idx)
	}
	return m
}

func noSharedAncestry(tr *tree.Tree, m bitset.BitSet) bool {
	ok := true
	m.ForEach(func(i int) {
		other := m
		other.ForEach(func(j int) {
			if i == j {
				return
			}
			if tr.Branches[i].Ancestors.Test(j) || tr.Branches[i].Descendants.Test(j) {
				ok = false
			}
		})
	})
	return ok
}

func TestGenerateProducesRequestedCountAndBinComposition(t *testing.T) {
	tr := eightTipTree(t)
	obs01 := maskOf(t, tr, "A<1>", "C<3>") // two tips, same clade bin (0)
	obs10 := bitset.New(tr.NumBranches())

	gen := NewGenerator(tr, obs01, obs10, false, 0, 0)
	res, err := gen.Generate(20, 42, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Masks01) != 20 {
		t.Fatalf("got %d samples, want 20", len(res.Masks01))
	}
	for i, m := range res.Masks01 {
		if m.PopCount() != obs01.PopCount() {
			t.Errorf("sample %d: PopCount=%d, want %d", i, m.PopCount(), obs01.PopCount())
		}
		if !noSharedAncestry(tr, m) {
			t.Errorf("sample %d: branches share an ancestor/descendant relationship", i)
		}
		// bin composition must match the observed set's per-bin counts.
		binCounts := map[int]int{}
		m.ForEach(func(idx int) { binCounts[tr.Branches[idx].CladeBin]++ })
		obsBinCounts := map[int]int{}
		obs01.ForEach(func(idx int) { obsBinCounts[tr.Branches[idx].CladeBin]++ })
		for bin, want := range obsBinCounts {
			if binCounts[bin] != want {
				t.Errorf("sample %d: bin %d count=%d, want %d", i, bin, binCounts[bin], want)
			}
		}
	}
}

func TestGenerateIsDeterministicAcrossJobCounts(t *testing.T) {
	tr := eightTipTree(t)
	obs01 := maskOf(t, tr, "A<1>", "E<5>")
	obs10 := bitset.New(tr.NumBranches())
	gen := NewGenerator(tr, obs01, obs10, false, 0, 0)

	single, err := gen.Generate(10, 7, 1)
	if err != nil {
		t.Fatalf("Generate(jobs=1): %v", err)
	}
	multi, err := gen.Generate(10, 7, 4)
	if err != nil {
		t.Fatalf("Generate(jobs=4): %v", err)
	}
	for i := range single.Masks01 {
		if !single.Masks01[i].Equal(multi.Masks01[i]) {
			t.Errorf("sample %d differs between jobs=1 and jobs=4", i)
		}
	}
}

func TestGenerateRejectsNonPositiveNPerm(t *testing.T) {
	tr := eightTipTree(t)
	gen := NewGenerator(tr, bitset.New(tr.NumBranches()), bitset.New(tr.NumBranches()), false, 0, 0)
	if _, err := gen.Generate(0, 1, 1); err == nil {
		t.Errorf("expected an error for n_perm=0")
	}
}

func TestGenerateWithLossDependentlyPlacesBelowGain(t *testing.T) {
	tr := eightTipTree(t)
	obs01 := maskOf(t, tr, "n3") // internal branch, subtree has 4 tips (bin 2)
	obs10 := maskOf(t, tr, "A<1>")

	gen := NewGenerator(tr, obs01, obs10, true, 0, 0)
	res, err := gen.Generate(15, 99, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := range res.Masks01 {
		m01, m10 := res.Masks01[i], res.Masks10[i]
		if m01.PopCount() != 1 || m10.PopCount() != 1 {
			t.Fatalf("sample %d: expected exactly one gain and one loss branch", i)
		}
		below := bitset.New(tr.NumBranches())
		m01.ForEach(func(j int) { below = below.Or(tr.Branches[j].Descendants) })
		if !m10.AndNot(below).IsZero() {
			t.Errorf("sample %d: loss branch is not below the gain branch", i)
		}
	}
}
