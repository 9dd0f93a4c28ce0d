// Package fisher implements the one-sided Fisher-exact/Tarone-screening
// path of spec.md §4.F: per-family hypergeometric enrichment p-values, the
// minimum attainable p for the observed margins, and the Tarone-Bonferroni
// multiple-testing correction across families.
//
// Grounded on original_source/permucn/stats_fisher.py (log-space
// hypergeometric PMF via lgamma, tail logsumexp) and
// original_source/permucn/multiple_testing.py:tarone_screen_min_pvalues
// (discrete Bonferroni screening). The reference CLI never wires this path
// in; spec.md §2/§6.2 names it as component F and the `--binary-test
// fisher-tarone` option, so it is implemented and wired here regardless.
package fisher

import (
	"fmt"
	"math"
)

// OneSidedFromCounts returns the one-sided Fisher-exact p-value for
// foreground enrichment of the 2x2 table:
//
//	               concordant   not-concordant
//	foreground     fgConc       fgTotal-fgConc
//	background      bgConc       bgTotal-bgConc
func OneSidedFromCounts(fgConcordant, fgTotal, bgConcordant, bgTotal int) (float64, error) {
	if err := validateCounts(fgConcordant, fgTotal, bgConcordant, bgTotal); err != nil {
		return 0, err
	}
	nConcordant := fgConcordant + bgConcordant
	lower, upper := supportBounds(fgTotal, bgTotal, nConcordant)
	obs := fgConcordant
	if obs < lower || obs > upper {
		return 0, fmt.Errorf("fisher: observed concordant count %d outside hypergeometric support [%d, %d]", obs, lower, upper)
	}

	logps := make([]float64, 0, upper-obs+1)
	for x := obs; x <= upper; x++ {
		logps = append(logps, hypergeomLogPMF(x, fgTotal, bgTotal, nConcordant))
	}
	return math.Exp(logSumExp(logps)), nil
}

// MinAttainablePValue returns the smallest one-sided p-value achievable for
// fixed margins (fgTotal, bgTotal, totalConcordant) — the p obtained when
// every concordant unit falls in the foreground, the tightest enrichment
// the table's margins allow.
func MinAttainablePValue(fgTotal, bgTotal, totalConcordant int) (float64, error) {
	if fgTotal < 0 || bgTotal < 0 || totalConcordant < 0 {
		return 0, fmt.Errorf("fisher: margins must be non-negative")
	}
	if totalConcordant > fgTotal+bgTotal {
		return 0, fmt.Errorf("fisher: total_concordant cannot exceed fg_total + bg_total")
	}
	_, upper := supportBounds(fgTotal, bgTotal, totalConcordant)
	return math.Exp(hypergeomLogPMF(upper, fgTotal, bgTotal, totalConcordant)), nil
}

func validateCounts(fgConcordant, fgTotal, bgConcordant, bgTotal int) error {
	if fgTotal < 0 || bgTotal < 0 {
		return fmt.Errorf("fisher: totals must be non-negative")
	}
	if fgConcordant < 0 || bgConcordant < 0 {
		return fmt.Errorf("fisher: concordant counts must be non-negative")
	}
	if fgConcordant > fgTotal {
		return fmt.Errorf("fisher: fg_concordant_count cannot exceed fg_total")
	}
	if bgConcordant > bgTotal {
		return fmt.Errorf("fisher: bg_concordant_count cannot exceed bg_total")
	}
	return nil
}

func supportBounds(nFG, nBG, nConcordant int) (lower, upper int) {
	lower = nConcordant - nBG
	if lower < 0 {
		lower = 0
	}
	upper = nFG
	if nConcordant < upper {
		upper = nConcordant
	}
	return
}

func hypergeomLogPMF(x, nFG, nBG, nConcordant int) float64 {
	total := nFG + nBG
	if x < 0 || x > nFG {
		return math.Inf(-1)
	}
	if nConcordant-x < 0 || nConcordant-x > nBG {
		return math.Inf(-1)
	}
	return logChoose(nConcordant, x) + logChoose(total-nConcordant, nFG-x) - logChoose(total, nFG)
}

func logChoose(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	return lgamma(float64(n)+1) - lgamma(float64(k)+1) - lgamma(float64(n-k)+1)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func logSumExp(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	vmax := values[0]
	for _, v := range values[1:] {
		if v > vmax {
			vmax = v
		}
	}
	if math.IsInf(vmax, -1) {
		return vmax
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - vmax)
	}
	return vmax + math.Log(sum)
}

// TaroneResult is the outcome of screening minimum-attainable p-values for
// testability, per multiple_testing.py:tarone_screen_min_pvalues.
type TaroneResult struct {
	MTotal           int
	BonferroniDenom  int
	Threshold        float64 // alpha* = alpha / BonferroniDenom; 0 when MTotal == 0
	TestableByIndex  []bool  // same length/order as the input slice
	MTestable        int
}

// ScreenMinPValues finds the discrete-Bonferroni denominator k: the
// smallest k in [1, m] such that #{p_min_i <= alpha/k} <= k, where m is the
// number of families with a defined minPValues entry. nil entries (e.g.
// families with no foreground) are excluded from screening and always
// report untestable.
func ScreenMinPValues(minPValues []*float64, alpha float64) (TaroneResult, error) {
	if alpha <= 0 || alpha >= 1 {
		return TaroneResult{}, fmt.Errorf("fisher: alpha must be in (0, 1), got %v", alpha)
	}

	var validIdx []int
	for i, p := range minPValues {
		if p != nil {
			validIdx = append(validIdx, i)
		}
	}
	testable := make([]bool, len(minPValues))
	mTotal := len(validIdx)
	if mTotal == 0 {
		return TaroneResult{MTotal: 0, BonferroniDenom: 0, TestableByIndex: testable, MTestable: 0}, nil
	}

	const eps = 1e-15
	denom := mTotal
	for k := 1; k <= mTotal; k++ {
		cutoff := alpha / float64(k)
		mk := 0
		for _, i := range validIdx {
			if *minPValues[i] <= cutoff+eps {
				mk++
			}
		}
		if mk <= k {
			denom = k
			break
		}
	}

	threshold := alpha / float64(denom)
	mTestable := 0
	for _, i := range validIdx {
		if *minPValues[i] <= threshold+eps {
			testable[i] = true
			mTestable++
		}
	}

	return TaroneResult{
		MTotal:          mTotal,
		BonferroniDenom: denom,
		Threshold:       threshold,
		TestableByIndex: testable,
		MTestable:       mTestable,
	}, nil
}

// BonferroniAdjustSelected multiplies each selected family's p-value by
// denom, clipped to 1; unselected or absent entries stay nil.
func BonferroniAdjustSelected(pvalues []*float64, selected []bool, denom int) ([]*float64, error) {
	if len(pvalues) != len(selected) {
		return nil, fmt.Errorf("fisher: pvalues and selected must have the same length")
	}
	if denom < 0 {
		return nil, fmt.Errorf("fisher: denom must be >= 0")
	}
	out := make([]*float64, len(pvalues))
	if denom == 0 {
		return out, nil
	}
	for i, p := range pvalues {
		if p == nil || !selected[i] {
			continue
		}
		q := *p * float64(denom)
		if q > 1 {
			q = 1
		}
		out[i] = &q
	}
	return out, nil
}

