// Package multitest applies the Benjamini-Hochberg correction across
// families and produces the ranked top-hits/top-pvalues subsets and
// p-value diagnostics of spec.md §4.H.
//
// Grounded on original_source/permucn/multiple_testing.py:bh_adjust_with_none
// and original_source/permucn/viz.py (_write_top_hits, _write_top_pvalues,
// _histogram_rows, _qq_rows).
package multitest

import (
	"math"
	"sort"

	"bitbucket.org/mrrlab/permucn/report"
)

// BHAdjust computes Benjamini-Hochberg q-values over the non-nil entries
// of pvalues, preserving position and leaving nil entries nil; q_i =
// min_{j>=i} (m*p_(j))/j in sorted-ascending order, clipped to <= 1.
func BHAdjust(pvalues []*float64) []*float64 {
	type indexed struct {
		idx int
		p   float64
	}
	var present []indexed
	for i, p := range pvalues {
		if p != nil {
			present = append(present, indexed{i, *p})
		}
	}
	out := make([]*float64, len(pvalues))
	m := len(present)
	if m == 0 {
		return out
	}

	sort.SliceStable(present, func(a, b int) bool { return present[a].p < present[b].p })

	qvals := make([]float64, m)
	prev := 1.0
	for rank := m; rank >= 1; rank-- {
		p := present[rank-1].p
		q := p * float64(m) / float64(rank)
		if q > 1 {
			q = 1
		}
		if q > prev {
			q = prev
		}
		prev = q
		qvals[rank-1] = q
	}

	for i, e := range present {
		q := qvals[i]
		out[e.idx] = &q
	}
	return out
}

func noneLast(p *float64) float64 {
	if p == nil {
		return math.Inf(1)
	}
	return *p
}

func statObsDesc(r report.Row) float64 {
	if r.StatObs == nil {
		return 0
	}
	return -*r.StatObs
}

// TopHitsPermutation ranks permutation-path rows with q_bh <=
// qvalueThreshold by (q_bh asc, p_empirical asc, stat_obs desc), per
// viz.py:_write_top_hits.
func TopHitsPermutation(rows []report.Row, qvalueThreshold float64) []report.Row {
	ranked := append([]report.Row(nil), rows...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if noneLast(a.QBH) != noneLast(b.QBH) {
			return noneLast(a.QBH) < noneLast(b.QBH)
		}
		if noneLast(a.PEmpirical) != noneLast(b.PEmpirical) {
			return noneLast(a.PEmpirical) < noneLast(b.PEmpirical)
		}
		return statObsDesc(a) < statObsDesc(b)
	})

	var out []report.Row
	for _, r := range ranked {
		if r.QBH != nil && *r.QBH <= qvalueThreshold {
			out = append(out, r)
		}
	}
	return out
}

// TopHitsTarone ranks Fisher-Tarone-path rows with RejectTarone == true by
// (p_bonf_tarone asc, p_fisher asc, stat_obs desc), per spec.md §4.H.
func TopHitsTarone(rows []report.Row) []report.Row {
	var keep []report.Row
	for _, r := range rows {
		if r.RejectTarone != nil && *r.RejectTarone {
			keep = append(keep, r)
		}
	}
	sort.SliceStable(keep, func(i, j int) bool {
		a, b := keep[i], keep[j]
		if noneLast(a.PBonfTarone) != noneLast(b.PBonfTarone) {
			return noneLast(a.PBonfTarone) < noneLast(b.PBonfTarone)
		}
		if noneLast(a.PFisher) != noneLast(b.PFisher) {
			return noneLast(a.PFisher) < noneLast(b.PFisher)
		}
		return statObsDesc(a) < statObsDesc(b)
	})
	return keep
}

// TopPValues ranks rows by (primary(r) asc, adjusted(r) asc, stat_obs
// desc) and returns the first n (0 disables and returns nil), per
// spec.md §4.H / viz.py:_write_top_pvalues.
func TopPValues(rows []report.Row, primary, adjusted func(report.Row) *float64, n int) []report.Row {
	if n <= 0 {
		return nil
	}
	ranked := append([]report.Row(nil), rows...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		pa, pb := noneLast(primary(a)), noneLast(primary(b))
		if pa != pb {
			return pa < pb
		}
		aa, ab := noneLast(adjusted(a)), noneLast(adjusted(b))
		if aa != ab {
			return aa < ab
		}
		return statObsDesc(a) < statObsDesc(b)
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// HistBin is one equal-width bin of the p-value histogram.
type HistBin struct {
	BinStart, BinEnd float64
	Count            int
}

// Histogram bins values (expected in [0, 1], clamped) into `bins`
// equal-width bins over [0, 1], per viz.py:_histogram_rows.
func Histogram(values []float64, bins int) []HistBin {
	if bins < 1 {
		bins = 1
	}
	counts := make([]int, bins)
	for _, v := range values {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		idx := int(v * float64(bins))
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	width := 1.0 / float64(bins)
	out := make([]HistBin, bins)
	for i, c := range counts {
		out[i] = HistBin{BinStart: float64(i) * width, BinEnd: float64(i+1) * width, Count: c}
	}
	return out
}

// QQRow is one row of the expected-vs-observed p-value QQ table.
type QQRow struct {
	Rank                                    int
	ObservedP, ExpectedP                    float64
	MinusLog10Observed, MinusLog10Expected  float64
}

// QQ builds the QQ-plot table of spec.md §4.H, clamping p-values away from
// 0 (1e-300 floor) so -log10 stays finite, per viz.py:_qq_rows.
func QQ(values []float64) []QQRow {
	n := len(values)
	obs := make([]float64, n)
	for i, v := range values {
		if v < 1e-300 {
			v = 1e-300
		}
		if v > 1 {
			v = 1
		}
		obs[i] = v
	}
	sort.Float64s(obs)

	out := make([]QQRow, n)
	for i, p := range obs {
		rank := i + 1
		expP := float64(rank) / float64(n+1)
		out[i] = QQRow{
			Rank:                rank,
			ObservedP:           p,
			ExpectedP:           expP,
			MinusLog10Observed:  -math.Log10(p),
			MinusLog10Expected:  -math.Log10(expP),
		}
	}
	return out
}
