// Package stats computes the per-family association statistics of
// spec.md §4.E: binary concordance counts and rate-mode signed-rate
// contrasts, plus the one-sided empirical p-value shared by both.
//
// Grounded on original_source/permucn/stats_binary.py and
// original_source/permucn/stats_rate.py; median summaries use
// github.com/montanaflynn/stats, the same summary-statistics library
// jndunlap-gohypo uses for its statistical briefs (no package in the
// example pack implements median over a plain []float64 itself).
package stats

import (
	"math"

	mstats "github.com/montanaflynn/stats"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/family"
)

// Direction is the sign convention under test: gain (0->1) concordance is
// scored positively, loss (1->0) reverses it.
type Direction int

const (
	Gain Direction = iota
	Loss
)

// Sign returns +1 for Gain, -1 for Loss.
func (d Direction) Sign() float64 {
	if d == Loss {
		return -1
	}
	return 1
}

// BinarySummary mirrors stats_binary.py:binary_summary's per-family report
// fields. Rate fields are nil when their denominator is zero, matching the
// Python reference's None.
type BinarySummary struct {
	FGConcordantCount int
	FGTotal           int
	BGConcordantCount int
	BGTotal           int
	FGConcordanceRate *float64
	BGConcordanceRate *float64
}

func signedMasks(f *family.Family, sigMask *bitset.BitSet) (pos, neg bitset.BitSet) {
	pos, neg = f.PosMask, f.NegMask
	if sigMask != nil {
		pos = pos.And(*sigMask)
		neg = neg.And(*sigMask)
	}
	return
}

// ObservedBinaryStat counts, over one branch set (fg01, fg10), the branches
// concordant with direction dir: for gain, a 0->1 branch with a positive
// delta or a 1->0 branch with a negative delta; loss reverses both.
func ObservedBinaryStat(f *family.Family, fg01, fg10 bitset.BitSet, dir Direction, sigMask *bitset.BitSet) int {
	pos, neg := signedMasks(f, sigMask)
	if dir == Gain {
		return fg01.And(pos).PopCount() + fg10.And(neg).PopCount()
	}
	return fg01.And(neg).PopCount() + fg10.And(pos).PopCount()
}

// PermutationBinaryStats evaluates ObservedBinaryStat over every
// permutation sample, pairing perm01[i] with perm10[i].
func PermutationBinaryStats(f *family.Family, perm01, perm10 []bitset.BitSet, dir Direction, sigMask *bitset.BitSet) []int {
	pos, neg := signedMasks(f, sigMask)
	out := make([]int, len(perm01))
	if dir == Gain {
		for i := range perm01 {
			out[i] = perm01[i].And(pos).PopCount() + perm10[i].And(neg).PopCount()
		}
	} else {
		for i := range perm01 {
			out[i] = perm01[i].And(neg).PopCount() + perm10[i].And(pos).PopCount()
		}
	}
	return out
}

// BinarySummaryFor computes the descriptive foreground/background
// concordance report alongside the primary statistic.
func BinarySummaryFor(f *family.Family, fg01, fg10, all bitset.BitSet, dir Direction, sigMask *bitset.BitSet) BinarySummary {
	fgMask := fg01.Or(fg10)
	bgMask := all.AndNot(fgMask)
	fgConc := ObservedBinaryStat(f, fg01, fg10, dir, sigMask)

	pos, neg := signedMasks(f, sigMask)
	var bgConc int
	if dir == Gain {
		bgConc = bgMask.And(pos).PopCount()
	} else {
		bgConc = bgMask.And(neg).PopCount()
	}

	fgTotal := fgMask.PopCount()
	bgTotal := bgMask.PopCount()

	s := BinarySummary{
		FGConcordantCount: fgConc,
		FGTotal:           fgTotal,
		BGConcordantCount: bgConc,
		BGTotal:           bgTotal,
	}
	if fgTotal > 0 {
		r := float64(fgConc) / float64(fgTotal)
		s.FGConcordanceRate = &r
	}
	if bgTotal > 0 {
		r := float64(bgConc) / float64(bgTotal)
		s.BGConcordanceRate = &r
	}
	return s
}

// RateSummary mirrors stats_rate.py:rate_summary.
type RateSummary struct {
	FGMeanSignedRate   *float64
	BGMeanSignedRate   *float64
	FGMedianSignedRate *float64
	BGMedianSignedRate *float64
}

// sumMaskRates sums f.Rate over mask restricted to branches with a defined
// rate (f.HasRate), so a zero-length branch's unset Rate[i] never silently
// contributes a rate of 0.
func sumMaskRates(f *family.Family, mask bitset.BitSet) float64 {
	s := 0.0
	mask.And(f.HasRate).ForEach(func(i int) { s += f.Rate[i] })
	return s
}

// ObservedRateStat is the mean signed rate over fg01 ∪ fg10, with fg10
// rates subtracted (equivalently negated) before averaging. NaN when the
// foreground set has no branch with a defined rate.
func ObservedRateStat(f *family.Family, fg01, fg10 bitset.BitSet, dir Direction) float64 {
	n := fg01.And(f.HasRate).PopCount() + fg10.And(f.HasRate).PopCount()
	if n == 0 {
		return math.NaN()
	}
	s01 := sumMaskRates(f, fg01)
	s10 := sumMaskRates(f, fg10)
	return dir.Sign() * (s01 - s10) / float64(n)
}

// PermutationRateStats evaluates ObservedRateStat over every permutation
// sample.
func PermutationRateStats(f *family.Family, perm01, perm10 []bitset.BitSet, dir Direction) []float64 {
	out := make([]float64, len(perm01))
	for i := range perm01 {
		n := perm01[i].And(f.HasRate).PopCount() + perm10[i].And(f.HasRate).PopCount()
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		s01 := sumMaskRates(f, perm01[i])
		s10 := sumMaskRates(f, perm10[i])
		out[i] = dir.Sign() * (s01 - s10) / float64(n)
	}
	return out
}

func signedFGValues(f *family.Family, fg01, fg10 bitset.BitSet, dir Direction) []float64 {
	sign := dir.Sign()
	var out []float64
	fg01.And(f.HasRate).ForEach(func(i int) { out = append(out, sign*f.Rate[i]) })
	fg10.And(f.HasRate).ForEach(func(i int) { out = append(out, -sign*f.Rate[i]) })
	return out
}

// RateSummaryFor computes the descriptive foreground/background
// signed-rate report (mean and median on each side).
func RateSummaryFor(f *family.Family, fg01, fg10, all bitset.BitSet, dir Direction) RateSummary {
	fgVals := signedFGValues(f, fg01, fg10, dir)

	fgMask := fg01.Or(fg10)
	bgMask := all.AndNot(fgMask)
	sign := dir.Sign()
	var bgVals []float64
	bgMask.And(f.HasRate).ForEach(func(i int) { bgVals = append(bgVals, sign*f.Rate[i]) })

	var s RateSummary
	if len(fgVals) > 0 {
		if m, err := mstats.Mean(fgVals); err == nil {
			s.FGMeanSignedRate = &m
		}
		if m, err := mstats.Median(fgVals); err == nil {
			s.FGMedianSignedRate = &m
		}
	}
	if len(bgVals) > 0 {
		if m, err := mstats.Mean(bgVals); err == nil {
			s.BGMeanSignedRate = &m
		}
		if m, err := mstats.Median(bgVals); err == nil {
			s.BGMedianSignedRate = &m
		}
	}
	return s
}

// EmpiricalPValue returns the one-sided, add-one-corrected rank p-value of
// obs against permStats, per spec.md §4.E: (1 + #{t_i >= obs}) / (N + 1).
func EmpiricalPValue(obs float64, permStats []float64) float64 {
	k := 0
	for _, s := range permStats {
		if s >= obs {
			k++
		}
	}
	return (float64(k) + 1.0) / (float64(len(permStats)) + 1.0)
}

// EmpiricalPValueInt is EmpiricalPValue specialized for integer (binary
// mode) statistics, avoiding a float conversion per permutation sample.
func EmpiricalPValueInt(obs int, permStats []int) float64 {
	k := 0
	for _, s := range permStats {
		if s >= obs {
			k++
		}
	}
	return (float64(k) + 1.0) / (float64(len(permStats)) + 1.0)
}
