package multitest

import (
	"math"
	"testing"

	"bitbucket.org/mrrlab/permucn/report"
)

func ptr(f float64) *float64 { return &f }

func TestBHAdjustMonotoneAndClipped(t *testing.T) {
	in := []*float64{ptr(0.01), ptr(0.04), ptr(0.03), ptr(0.50), nil}
	out := BHAdjust(in)
	if out[4] != nil {
		t.Fatalf("nil p-value must stay nil")
	}
	for i, q := range out[:4] {
		if q == nil {
			t.Fatalf("index %d: expected a q-value", i)
		}
	}
	// q must be non-decreasing along ascending p: take the ascending-p order
	// and check each q is >= the q of the previous, smaller p.
	sortedIdx := []int{0, 2, 1, 3} // p: 0.01, 0.03, 0.04, 0.50
	for i := 1; i < len(sortedIdx); i++ {
		prevQ, curQ := *out[sortedIdx[i-1]], *out[sortedIdx[i]]
		if curQ < prevQ {
			t.Errorf("q must be non-decreasing along ascending p: q[%d]=%v < q[%d]=%v", i, curQ, i-1, prevQ)
		}
	}
	for _, q := range out {
		if q != nil && *q > 1 {
			t.Errorf("q-value must be clipped to <= 1, got %v", *q)
		}
	}
}

func TestBHAdjustAllNilYieldsAllNil(t *testing.T) {
	out := BHAdjust([]*float64{nil, nil, nil})
	for i, q := range out {
		if q != nil {
			t.Errorf("index %d: expected nil, got %v", i, *q)
		}
	}
}

func TestBHAdjustSinglePValueEqualsItself(t *testing.T) {
	out := BHAdjust([]*float64{ptr(0.02)})
	if out[0] == nil || *out[0] != 0.02 {
		t.Errorf("single p-value q_bh must equal itself, got %v", out[0])
	}
}

func TestTopHitsPermutationFiltersAndRanksByQThenP(t *testing.T) {
	rows := []report.Row{
		{FamilyID: "a", QBH: ptr(0.10), PEmpirical: ptr(0.01)},
		{FamilyID: "b", QBH: ptr(0.02), PEmpirical: ptr(0.02)},
		{FamilyID: "c", QBH: ptr(0.02), PEmpirical: ptr(0.01)},
		{FamilyID: "d", QBH: nil},
	}
	out := TopHitsPermutation(rows, 0.05)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows under threshold 0.05, got %d", len(out))
	}
	if out[0].FamilyID != "c" || out[1].FamilyID != "b" {
		t.Errorf("expected order [c b] (tie on q broken by p), got [%s %s]", out[0].FamilyID, out[1].FamilyID)
	}
}

func TestTopHitsTaroneFiltersByReject(t *testing.T) {
	yes, no := true, false
	rows := []report.Row{
		{FamilyID: "a", RejectTarone: &yes, PBonfTarone: ptr(0.01)},
		{FamilyID: "b", RejectTarone: &no, PBonfTarone: ptr(0.001)},
		{FamilyID: "c", RejectTarone: &yes, PBonfTarone: ptr(0.005)},
	}
	out := TopHitsTarone(rows)
	if len(out) != 2 {
		t.Fatalf("expected 2 rejected rows, got %d", len(out))
	}
	if out[0].FamilyID != "c" {
		t.Errorf("expected c (smaller p_bonf_tarone) ranked first, got %s", out[0].FamilyID)
	}
}

func TestTopPValuesZeroNDisables(t *testing.T) {
	rows := []report.Row{{FamilyID: "a", PEmpirical: ptr(0.1)}}
	primary := func(r report.Row) *float64 { return r.PEmpirical }
	if out := TopPValues(rows, primary, primary, 0); out != nil {
		t.Errorf("n=0 must disable and return nil, got %v", out)
	}
}

func TestTopPValuesTruncatesToN(t *testing.T) {
	rows := []report.Row{
		{FamilyID: "a", PEmpirical: ptr(0.3)},
		{FamilyID: "b", PEmpirical: ptr(0.1)},
		{FamilyID: "c", PEmpirical: ptr(0.2)},
	}
	primary := func(r report.Row) *float64 { return r.PEmpirical }
	out := TopPValues(rows, primary, primary, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].FamilyID != "b" || out[1].FamilyID != "c" {
		t.Errorf("expected ascending-p order [b c], got [%s %s]", out[0].FamilyID, out[1].FamilyID)
	}
}

func TestHistogramBinsValuesIntoEqualWidthBuckets(t *testing.T) {
	bins := Histogram([]float64{0.0, 0.24, 0.25, 0.99, 1.0}, 4)
	if len(bins) != 4 {
		t.Fatalf("expected 4 bins, got %d", len(bins))
	}
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total != 5 {
		t.Errorf("expected all 5 values binned, got total=%d", total)
	}
	if bins[0].Count != 2 { // 0.0 and 0.24 fall in [0, 0.25)
		t.Errorf("bin 0 count = %d, want 2", bins[0].Count)
	}
	if bins[3].Count != 2 { // 0.99 and 1.0 (clamped into the last bin) fall in [0.75, 1.0]
		t.Errorf("bin 3 count = %d, want 2", bins[3].Count)
	}
}

func TestHistogramClampsOutOfRangeValues(t *testing.T) {
	bins := Histogram([]float64{-1, 2}, 2)
	if bins[0].Count != 1 || bins[1].Count != 1 {
		t.Errorf("expected clamped values at each extreme bin, got %+v", bins)
	}
}

func TestQQSortsAndComputesExpected(t *testing.T) {
	rows := QQ([]float64{0.5, 0.1, 0.9})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ObservedP != 0.1 || rows[1].ObservedP != 0.5 || rows[2].ObservedP != 0.9 {
		t.Errorf("expected ascending-sorted observed p-values, got %+v", rows)
	}
	wantExpected := 1.0 / 4.0 // rank 1 of n=3: 1/(n+1)
	if math.Abs(rows[0].ExpectedP-wantExpected) > 1e-12 {
		t.Errorf("rows[0].ExpectedP = %v, want %v", rows[0].ExpectedP, wantExpected)
	}
}

func TestQQFloorsNearZeroPValues(t *testing.T) {
	rows := QQ([]float64{0})
	if math.IsInf(rows[0].MinusLog10Observed, 1) {
		t.Errorf("expected a floored, finite -log10(p), got +Inf")
	}
}
