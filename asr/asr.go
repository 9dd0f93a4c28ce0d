// Package asr fits the two-state continuous-time Markov trait model (Mk2)
// to a tree via maximum likelihood, computes per-node posteriors by
// Felsenstein pruning with a downward marginal pass, and derives the hard
// foreground branch sets (gain/loss) used by every downstream statistic.
//
// Grounded on original_source/permucn/trait_ml.py for the exact pruning,
// rescaling, and marginal-posterior arithmetic; the two-phase grid search
// follows spec.md's literal ranges (21-point coarse grid over [1e-4, 10],
// then a 21-point refine grid within +/-1 decade of the coarse optimum per
// axis), which differ from trait_ml.py's own 11-point/shrinking-radius
// search — see DESIGN.md.
package asr

import (
	"fmt"
	"math"
	"sort"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/tree"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("asr")

// HardState is a thresholded ancestral state at one node.
type HardState int

const (
	Ambiguous HardState = iota
	State0
	State1
)

// Options carries the posterior thresholds used to harden continuous
// posteriors into HardState calls.
type Options struct {
	PosteriorHi float64
	PosteriorLo float64
}

// Result is the outcome of one ML ASR fit: fitted rates, per-node
// posteriors/hard states, and the derived foreground branch masks.
type Result struct {
	Q01, Q10        float64
	LogLikelihood   float64
	PosteriorByNode [][2]float64 // P(state=0), P(state=1), indexed by node id
	HardByNode      []HardState
	FGGain          bitset.BitSet // fg_01: parent 0 -> child 1
	FGLoss          bitset.BitSet // fg_10: parent 1 -> child 0
	NFGGain         int
	NFGLoss         int
}

// Fit runs the full ASR pipeline: rate fitting, pruning/posterior
// evaluation at the fitted rates, hard-state thresholding, and foreground
// mask derivation.
func Fit(t *tree.Tree, speciesToState map[string]int, opts Options) (*Result, error) {
	if err := validateSpeciesMatch(t, speciesToState); err != nil {
		return nil, err
	}
	if err := validateBranchLengths(t); err != nil {
		return nil, err
	}

	tipState := make([]int, t.Root+1)
	for id := range tipState {
		tipState[id] = -1
	}
	for id, species := range t.TipSpeciesByNode {
		if species == "" {
			continue
		}
		st, ok := speciesToState[species]
		if !ok {
			return nil, fmt.Errorf("asr: tip species %q has no trait value", species)
		}
		tipState[id] = st
	}

	q01, q10, bestLL := fitRatesML(t, tipState)
	ll, posterior := evaluateModel(t, tipState, q01, q10)

	hard := make([]HardState, len(posterior))
	for id, p := range posterior {
		hard[id] = classifyHardState(p[1], opts.PosteriorHi, opts.PosteriorLo)
	}

	n := t.NumBranches()
	fgGain := bitset.New(n)
	fgLoss := bitset.New(n)
	for b := 0; b < n; b++ {
		parent := t.ParentByNode[b]
		p, c := hard[parent], hard[b]
		if p == Ambiguous || c == Ambiguous {
			continue
		}
		switch {
		case p == State0 && c == State1:
			fgGain.Set(b)
		case p == State1 && c == State0:
			fgLoss.Set(b)
		}
	}

	res := &Result{
		Q01:             q01,
		Q10:             q10,
		LogLikelihood:   math.Max(ll, bestLL),
		PosteriorByNode: posterior,
		HardByNode:      hard,
		FGGain:          fgGain,
		FGLoss:          fgLoss,
		NFGGain:         fgGain.PopCount(),
		NFGLoss:         fgLoss.PopCount(),
	}
	log.Infof("ASR fit: q01=%.6g q10=%.6g logL=%.6g n_fg_01=%d n_fg_10=%d",
		res.Q01, res.Q10, res.LogLikelihood, res.NFGGain, res.NFGLoss)
	return res, nil
}

func classifyHardState(p1, hi, lo float64) HardState {
	// When the two thresholds coincide, neither side is inclusive: every
	// node is ambiguous (spec.md §4.B edge case for posterior_hi==posterior_lo).
	if hi == lo {
		return Ambiguous
	}
	if p1 >= hi {
		return State1
	}
	if p1 <= lo {
		return State0
	}
	return Ambiguous
}

func validateSpeciesMatch(t *tree.Tree, speciesToState map[string]int) error {
	treeSpecies := make(map[string]bool)
	for _, s := range t.TipSpeciesByNode {
		if s != "" {
			treeSpecies[s] = true
		}
	}
	var missing, extra []string
	for s := range treeSpecies {
		if _, ok := speciesToState[s]; !ok {
			missing = append(missing, s)
		}
	}
	for s := range speciesToState {
		if !treeSpecies[s] {
			extra = append(extra, s)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	msg := "asr: species mismatch between trait table and tree tips."
	if len(missing) > 0 {
		msg += fmt.Sprintf(" missing in trait table (%d): %s", len(missing), previewList(missing, 8))
	}
	if len(extra) > 0 {
		msg += fmt.Sprintf(" extra in trait table (%d): %s", len(extra), previewList(extra, 8))
	}
	return fmt.Errorf("%s", msg)
}

func previewList(xs []string, max int) string {
	if len(xs) <= max {
		return joinComma(xs)
	}
	return joinComma(xs[:max]) + ", ..."
}

func joinComma(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}

func validateBranchLengths(t *tree.Tree) error {
	var bad []string
	for i, b := range t.Branches {
		l := t.BranchLenByNode[i]
		if !math.IsInf(l, 0) && !math.IsNaN(l) && l >= 0 {
			continue
		}
		bad = append(bad, fmt.Sprintf("%s=%v", b.Key, l))
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("asr: invalid branch lengths for ASR, require finite and >= 0: %s", previewList(bad, 6))
}

// logspaceGrid returns n points evenly spaced in log10 between loExp and
// hiExp inclusive, e.g. logspaceGrid(-4, 1, 21) for spec.md's coarse grid.
func logspaceGrid(loExp, hiExp float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = math.Pow(10, loExp)
		return out
	}
	step := (hiExp - loExp) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = math.Pow(10, loExp+float64(i)*step)
	}
	return out
}

const (
	gridLoExp  = -4.0
	gridHiExp  = 1.0
	gridPoints = 21
)

func clampToGrid(v float64) float64 {
	lo, hi := math.Pow(10, gridLoExp), math.Pow(10, gridHiExp)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fitRatesML performs spec.md's two-phase grid search in log-space: a
// 21-point coarse grid over [1e-4, 10] per axis, then a 21-point refine
// grid within +/-1 decade of the coarse optimum per axis. Ties are broken
// toward smaller rates by only replacing the running best on a strict
// improvement, and scanning the grids in ascending order.
func fitRatesML(t *tree.Tree, tipState []int) (bestQ01, bestQ10, bestLL float64) {
	coarse := logspaceGrid(gridLoExp, gridHiExp, gridPoints)
	bestLL = math.Inf(-1)
	bestQ01, bestQ10 = coarse[0], coarse[0]

	for _, a := range coarse {
		for _, b := range coarse {
			ll, _ := evaluateModel(t, tipState, a, b)
			if ll > bestLL {
				bestLL, bestQ01, bestQ10 = ll, a, b
			}
		}
	}

	logQ01 := math.Log10(bestQ01)
	logQ10 := math.Log10(bestQ10)
	refineQ01 := logspaceGrid(logQ01-1, logQ01+1, gridPoints)
	refineQ10 := logspaceGrid(logQ10-1, logQ10+1, gridPoints)
	for i := range refineQ01 {
		refineQ01[i] = clampToGrid(refineQ01[i])
	}
	for i := range refineQ10 {
		refineQ10[i] = clampToGrid(refineQ10[i])
	}

	for _, a := range refineQ01 {
		for _, b := range refineQ10 {
			ll, _ := evaluateModel(t, tipState, a, b)
			if ll > bestLL {
				bestLL, bestQ01, bestQ10 = ll, a, b
			}
		}
	}

	return bestQ01, bestQ10, bestLL
}

func transProbs(length, q01, q10 float64) (p00, p01, p10, p11 float64) {
	qsum := q01 + q10
	if qsum <= 0 {
		return 1, 0, 0, 1
	}
	pi0 := q10 / qsum
	pi1 := q01 / qsum
	e := math.Exp(-qsum * length)
	p00 = pi0 + pi1*e
	p01 = pi1 - pi1*e
	p10 = pi0 - pi0*e
	p11 = pi1 + pi0*e
	return
}

func stationary(q01, q10 float64) (pi0, pi1 float64) {
	qsum := q01 + q10
	if qsum <= 0 {
		return 0.5, 0.5
	}
	return q10 / qsum, q01 / qsum
}

func normalizePair(a, b float64) [2]float64 {
	s := a + b
	if s <= 0 {
		return [2]float64{0.5, 0.5}
	}
	return [2]float64{a / s, b / s}
}

func uniformPosterior(n int) [][2]float64 {
	out := make([][2]float64, n)
	for i := range out {
		out[i] = [2]float64{0.5, 0.5}
	}
	return out
}

func productExcluding(children []int, excluded int, edgeMsg [][2]float64, state int) float64 {
	out := 1.0
	for _, c := range children {
		if c == excluded {
			continue
		}
		if state == 0 {
			out *= edgeMsg[c][0]
		} else {
			out *= edgeMsg[c][1]
		}
	}
	return out
}

// evaluateModel runs upward (pruning) and downward (marginal) passes under
// fixed rates and returns the log-likelihood and per-node posteriors.
//
// Node ids are used directly as the traversal order: ids 0..NumBranches-1
// are the tree's postorder branch indices and t.Root is the maximum id, so
// ascending id order is a valid postorder (children before parents) and
// descending id order a valid topological preorder (parents before
// children) without any extra traversal bookkeeping.
func evaluateModel(t *tree.Tree, tipState []int, q01, q10 float64) (loglik float64, posterior [][2]float64) {
	n := t.Root + 1
	upward := make([][2]float64, n)
	scale := make([]float64, n)
	edgeMsg := make([][2]float64, n) // indexed by child node id

	for id := 0; id <= t.Root; id++ {
		children := t.ChildrenByNode[id]
		if len(children) == 0 {
			switch tipState[id] {
			case 0:
				upward[id] = [2]float64{1, 0}
			case 1:
				upward[id] = [2]float64{0, 1}
			default:
				upward[id] = [2]float64{1, 1}
			}
			continue
		}

		l0, l1 := 1.0, 1.0
		sc := 0.0
		for _, child := range children {
			length := t.BranchLenByNode[child]
			p00, p01, p10, p11 := transProbs(length, q01, q10)
			c0, c1 := upward[child][0], upward[child][1]
			m0 := p00*c0 + p01*c1
			m1 := p10*c0 + p11*c1
			edgeMsg[child] = [2]float64{m0, m1}
			l0 *= m0
			l1 *= m1
			sc += scale[child]
		}
		norm := math.Max(l0, l1)
		if norm <= 0 {
			return math.Inf(-1), uniformPosterior(n)
		}
		upward[id] = [2]float64{l0 / norm, l1 / norm}
		scale[id] = sc + math.Log(norm)
	}

	pi0, pi1 := stationary(q01, q10)
	r0, r1 := upward[t.Root][0], upward[t.Root][1]
	rootLik := pi0*r0 + pi1*r1
	if rootLik <= 0 {
		return math.Inf(-1), uniformPosterior(n)
	}
	loglik = math.Log(rootLik) + scale[t.Root]

	down := make([][2]float64, n)
	down[t.Root] = normalizePair(pi0, pi1)
	for id := t.Root; id >= 0; id-- {
		children := t.ChildrenByNode[id]
		if len(children) == 0 {
			continue
		}
		for _, c := range children {
			excl0 := productExcluding(children, c, edgeMsg, 0)
			excl1 := productExcluding(children, c, edgeMsg, 1)
			up0, up1 := down[id][0], down[id][1]
			base0 := up0 * excl0
			base1 := up1 * excl1

			length := t.BranchLenByNode[c]
			p00, p01, p10, p11 := transProbs(length, q01, q10)
			c0 := base0*p00 + base1*p10
			c1 := base0*p01 + base1*p11
			down[c] = normalizePair(c0, c1)
		}
	}

	posterior = make([][2]float64, n)
	for id := 0; id < n; id++ {
		u0, u1 := down[id][0], down[id][1]
		l0, l1 := upward[id][0], upward[id][1]
		posterior[id] = normalizePair(u0*l0, u1*l1)
	}
	return loglik, posterior
}
