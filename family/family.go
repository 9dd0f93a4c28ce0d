// Package family holds the per-gene-family branch-delta vectors, sign
// masks, and (in rate mode) per-branch rate vectors that the statistics
// and permutation packages evaluate against.
//
// Grounded on spec.md §3/§4.C and original_source/permucn's change-table
// row handling (undeclared branches default to delta=0, the root is never
// a column).
package family

import (
	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/tree"
)

// Family is one gene family's per-branch copy-number change vector,
// indexed into the canonical branch order of the tree it was built from.
type Family struct {
	ID      string
	Delta   []int // per branch; 0 for branches the change table did not list
	PosMask bitset.BitSet
	NegMask bitset.BitSet

	// Rate is only populated in rate mode: Rate[b] = Delta[b]/length[b]
	// wherever length[b] > 0. HasRate marks which branches got a defined
	// entry; stats.go masks every rate aggregation through it so a
	// zero-length branch's unset Rate[b] is excluded rather than read as 0.
	Rate    []float64
	HasRate bitset.BitSet
}

// New builds a Family from a sparse branch-key -> delta map (as loaded
// from one row of a CAFE change table). Keys absent from the tree are
// ignored here: the collaborator I/O layer is responsible for rejecting
// unknown columns up front, so any survivor here is a defensive no-op
// rather than an expected path.
func New(t *tree.Tree, id string, deltaByKey map[string]int, rateMode bool) *Family {
	n := t.NumBranches()
	delta := make([]int, n)
	for key, d := range deltaByKey {
		idx := t.Index(key)
		if idx < 0 {
			continue
		}
		delta[idx] = d
	}

	pos := bitset.New(n)
	neg := bitset.New(n)
	for i, d := range delta {
		switch {
		case d > 0:
			pos.Set(i)
		case d < 0:
			neg.Set(i)
		}
	}

	f := &Family{ID: id, Delta: delta, PosMask: pos, NegMask: neg}
	if rateMode {
		rate := make([]float64, n)
		hasRate := bitset.New(n)
		for i, b := range t.Branches {
			if b.Length > 0 {
				rate[i] = float64(delta[i]) / b.Length
				hasRate.Set(i)
			}
		}
		f.Rate = rate
		f.HasRate = hasRate
	}
	return f
}
