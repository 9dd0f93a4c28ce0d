package asr

import (
	"math"
	"testing"

	"bitbucket.org/mrrlab/permucn/tree"
)

func parseToyTree(t *testing.T) *tree.Tree {
	t.Helper()
	nw := "((A<1>:1,B<2>:1)n1:1,C<3>:1)root;"
	tr, err := tree.ParseNewickString(nw, false)
	if err != nil {
		t.Fatalf("ParseNewickString: %v", err)
	}
	return tr
}

func TestFitRecoversObviousGainSplit(t *testing.T) {
	tr := parseToyTree(t)
	traits := map[string]int{"A": 1, "B": 1, "C": 0}
	res, err := Fit(tr, traits, Options{PosteriorHi: 0.6, PosteriorLo: 0.4})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.Q01 <= 0 || res.Q10 <= 0 {
		t.Fatalf("fitted rates must be positive, got q01=%v q10=%v", res.Q01, res.Q10)
	}
	if !math.IsInf(res.LogLikelihood, 0) && math.IsNaN(res.LogLikelihood) {
		t.Fatalf("log-likelihood must not be NaN")
	}
	for i, p := range res.PosteriorByNode {
		sum := p[0] + p[1]
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("node %d posterior does not sum to 1: %v", i, p)
		}
	}
	// The n1 branch (ancestor of A and B) should carry a gain transition
	// relative to C's branch under this obvious split.
	n1Idx := tr.Index("n1")
	if !res.FGGain.Test(n1Idx) && res.FGGain.PopCount() == 0 {
		t.Errorf("expected at least one gain-foreground branch for an obvious trait split")
	}
}

func TestClassifyHardStateTieEdgeCase(t *testing.T) {
	if got := classifyHardState(0.5, 0.5, 0.5); got != Ambiguous {
		t.Errorf("hi==lo must always classify as ambiguous, got %v", got)
	}
	if got := classifyHardState(0.7, 0.6, 0.4); got != State1 {
		t.Errorf("expected State1, got %v", got)
	}
	if got := classifyHardState(0.3, 0.6, 0.4); got != State0 {
		t.Errorf("expected State0, got %v", got)
	}
	if got := classifyHardState(0.5, 0.6, 0.4); got != Ambiguous {
		t.Errorf("expected Ambiguous in the dead zone, got %v", got)
	}
}

func TestFitRejectsSpeciesMismatch(t *testing.T) {
	tr := parseToyTree(t)
	traits := map[string]int{"A": 1, "B": 1} // missing C
	if _, err := Fit(tr, traits, Options{PosteriorHi: 0.6, PosteriorLo: 0.4}); err == nil {
		t.Fatalf("expected an error for missing species in trait table")
	}
}

func TestFitAllEqualTraitGivesNoForeground(t *testing.T) {
	tr := parseToyTree(t)
	traits := map[string]int{"A": 0, "B": 0, "C": 0}
	res, err := Fit(tr, traits, Options{PosteriorHi: 0.6, PosteriorLo: 0.4})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.NFGGain != 0 || res.NFGLoss != 0 {
		t.Errorf("uniform trait must yield no foreground branches, got gain=%d loss=%d", res.NFGGain, res.NFGLoss)
	}
}

func TestLogspaceGridEndpoints(t *testing.T) {
	g := logspaceGrid(-4, 1, 21)
	if len(g) != 21 {
		t.Fatalf("expected 21 points, got %d", len(g))
	}
	if math.Abs(g[0]-1e-4) > 1e-12 {
		t.Errorf("first point = %v, want 1e-4", g[0])
	}
	if math.Abs(g[len(g)-1]-10) > 1e-9 {
		t.Errorf("last point = %v, want 10", g[len(g)-1])
	}
}
