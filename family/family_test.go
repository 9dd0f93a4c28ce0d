package family

import (
	"testing"

	"bitbucket.org/mrrlab/permucn/tree"
)

func toyTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr, err := tree.ParseNewickString("((A<1>:1,B<2>:2)n1:1,C<3>:1)root;", false)
	if err != nil {
		t.Fatalf("ParseNewickString: %v", err)
	}
	return tr
}

func TestNewDefaultsMissingBranchesToZero(t *testing.T) {
	tr := toyTree(t)
	f := New(tr, "fam1", map[string]int{"A<1>": 2, "n1": -1}, false)
	if len(f.Delta) != tr.NumBranches() {
		t.Fatalf("delta length = %d, want %d", len(f.Delta), tr.NumBranches())
	}
	if f.Delta[tr.Index("A<1>")] != 2 {
		t.Errorf("A<1> delta = %d, want 2", f.Delta[tr.Index("A<1>")])
	}
	if f.Delta[tr.Index("B<2>")] != 0 {
		t.Errorf("B<2> delta = %d, want 0 (undeclared branch)", f.Delta[tr.Index("B<2>")])
	}
	if !f.PosMask.Test(tr.Index("A<1>")) {
		t.Errorf("expected A<1> set in pos mask")
	}
	if !f.NegMask.Test(tr.Index("n1")) {
		t.Errorf("expected n1 set in neg mask")
	}
	if f.PosMask.Test(tr.Index("B<2>")) || f.NegMask.Test(tr.Index("B<2>")) {
		t.Errorf("zero-delta branch must not be in either sign mask")
	}
}

func TestNewIgnoresUnknownBranchKeys(t *testing.T) {
	tr := toyTree(t)
	f := New(tr, "fam1", map[string]int{"nonexistent<99>": 5}, false)
	if f.PosMask.PopCount() != 0 || f.NegMask.PopCount() != 0 {
		t.Errorf("unknown branch key must not affect any mask")
	}
}

func TestNewRateModeComputesRateOnlyForPositiveLength(t *testing.T) {
	tr := toyTree(t)
	f := New(tr, "fam1", map[string]int{"B<2>": 4}, true)
	bIdx := tr.Index("B<2>")
	if !f.HasRate.Test(bIdx) {
		t.Fatalf("expected HasRate set for a positive-length branch")
	}
	want := 4.0 / tr.Branches[bIdx].Length
	if f.Rate[bIdx] != want {
		t.Errorf("rate = %v, want %v", f.Rate[bIdx], want)
	}
}

func TestNewNonRateModeLeavesRateEmpty(t *testing.T) {
	tr := toyTree(t)
	f := New(tr, "fam1", map[string]int{"B<2>": 4}, false)
	if f.Rate != nil || f.HasRate.Len() != 0 {
		t.Errorf("non-rate mode must not populate rate fields")
	}
}
