// Package events builds the per-family CAFE-significance bitmask used by
// the `--cafe-significant-only` restriction (spec.md §4.C/§6.2): a branch
// counts toward a family's statistic only when CAFE itself called that
// branch significant at alpha.
//
// Grounded on original_source/permucn/events.py:build_significance_mask.
package events

import (
	"math"

	"bitbucket.org/mrrlab/permucn/bitset"
)

// BuildSignificanceMask sets bit i wherever probs[i] <= alpha, skipping
// NaN entries (branches CAFE left unscored for this family). A nil probs
// (the family has no probability row at all) yields an empty mask, per
// events.py's `if prob_vec is None: return 0`.
func BuildSignificanceMask(probs []float64, alpha float64) bitset.BitSet {
	mask := bitset.New(len(probs))
	if probs == nil {
		return mask
	}
	for i, p := range probs {
		if math.IsNaN(p) {
			continue
		}
		if p <= alpha {
			mask.Set(i)
		}
	}
	return mask
}
