// Package permute draws topology-constrained permutations of the observed
// foreground branch sets: same clade-bin composition, no two branches of
// the same mark type on a shared root-to-tip path, and (when trait loss is
// included) loss branches sampled dependently below gain branches with an
// independent fallback.
//
// Grounded on original_source/permucn/permutation.py (_PermutationSampler,
// PermutationGenerator) for the sampling algorithm; the worker pool is
// grounded on _examples/mrrlab-godon/cmodel's channel-of-tasks +
// sync.WaitGroup pattern, generalized from per-alignment-column tasks to
// per-permutation-index tasks. Unlike that pattern, no chunked reduction
// is needed here: each sample depends only on its own derived seed, so
// writing results directly into the index they were requested at is
// already deterministic regardless of how many workers ran.
package permute

import (
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/tree"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("permute")

// Generator draws permutation samples against one family's (or, in binary
// mode, the shared observed) foreground masks.
type Generator struct {
	tree            *tree.Tree
	includeLoss     bool
	maxPermAttempts int
	maxSetAttempts  int
	numBins         int
	candidatesByBin [][]int
	bin01           []int
	bin10           []int
}

// NewGenerator builds a Generator for one pair of observed foreground
// masks. maxPermAttempts/maxSetAttempts default to 200 when <= 0, matching
// permutation.py's PermutationGenerator defaults.
func NewGenerator(t *tree.Tree, obsMask01, obsMask10 bitset.BitSet, includeLoss bool, maxPermAttempts, maxSetAttempts int) *Generator {
	if maxPermAttempts <= 0 {
		maxPermAttempts = 200
	}
	if maxSetAttempts <= 0 {
		maxSetAttempts = 200
	}

	numBins := 1
	for _, b := range t.Branches {
		if b.CladeBin+1 > numBins {
			numBins = b.CladeBin + 1
		}
	}
	candidatesByBin := make([][]int, numBins)
	for i, b := range t.Branches {
		candidatesByBin[b.CladeBin] = append(candidatesByBin[b.CladeBin], i)
	}

	effectiveMask10 := obsMask10
	if !includeLoss {
		effectiveMask10 = bitset.New(t.NumBranches())
	}

	return &Generator{
		tree:            t,
		includeLoss:     includeLoss,
		maxPermAttempts: maxPermAttempts,
		maxSetAttempts:  maxSetAttempts,
		numBins:         numBins,
		candidatesByBin: candidatesByBin,
		bin01:           binCounts(obsMask01, t, numBins),
		bin10:           binCounts(effectiveMask10, t, numBins),
	}
}

func binCounts(mask bitset.BitSet, t *tree.Tree, numBins int) []int {
	out := make([]int, numBins)
	mask.ForEach(func(i int) {
		out[t.Branches[i].CladeBin]++
	})
	return out
}

func sumInts(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}

// Result is the outcome of generating a full batch of permutation samples.
type Result struct {
	Masks01        []bitset.BitSet
	Masks10        []bitset.BitSet
	TotalAttempts  int
	TotalRestarts  int
	TotalFallbacks int
}

// Generate draws nPerm samples. jobs == 0 uses GOMAXPROCS, matching the
// teacher's own worker-count default; jobs == 1 or negative runs inline
// with no goroutines spawned.
func (g *Generator) Generate(nPerm int, seed int64, jobs int) (*Result, error) {
	if nPerm <= 0 {
		return nil, fmt.Errorf("permute: n_perm must be > 0")
	}
	jobsEff := effectiveJobs(jobs)
	if jobsEff > nPerm {
		jobsEff = nPerm
	}

	masks01 := make([]bitset.BitSet, nPerm)
	masks10 := make([]bitset.BitSet, nPerm)
	attemptsByIdx := make([]int, nPerm)
	restartsByIdx := make([]int, nPerm)
	fallbackByIdx := make([]bool, nPerm)
	errByIdx := make([]error, nPerm)

	work := func(idx int) {
		res, err := g.generateOne(seedForIndex(seed, idx))
		if err != nil {
			errByIdx[idx] = err
			return
		}
		masks01[idx] = res.m01
		masks10[idx] = res.m10
		attemptsByIdx[idx] = res.attempts
		restartsByIdx[idx] = res.restarts
		fallbackByIdx[idx] = res.fallback
	}

	if jobsEff <= 1 {
		for idx := 0; idx < nPerm; idx++ {
			work(idx)
		}
	} else {
		tasks := make(chan int, nPerm)
		for idx := 0; idx < nPerm; idx++ {
			tasks <- idx
		}
		close(tasks)

		var wg sync.WaitGroup
		for w := 0; w < jobsEff; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range tasks {
					work(idx)
				}
			}()
		}
		wg.Wait()
	}

	totalAttempts, totalRestarts, totalFallbacks := 0, 0, 0
	for idx := 0; idx < nPerm; idx++ {
		if errByIdx[idx] != nil {
			return nil, fmt.Errorf("permute: sample %d: %w", idx, errByIdx[idx])
		}
		totalAttempts += attemptsByIdx[idx]
		totalRestarts += restartsByIdx[idx]
		if fallbackByIdx[idx] {
			totalFallbacks++
		}
	}

	log.Infof("generated %d permutations: attempts=%d restarts=%d fallbacks=%d", nPerm, totalAttempts, totalRestarts, totalFallbacks)
	return &Result{
		Masks01:        masks01,
		Masks10:        masks10,
		TotalAttempts:  totalAttempts,
		TotalRestarts:  totalRestarts,
		TotalFallbacks: totalFallbacks,
	}, nil
}

func effectiveJobs(jobs int) int {
	if jobs < 0 {
		return 1
	}
	if jobs == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return jobs
}

// seedForIndex mixes a base seed with a sample index via a 64-bit golden
// ratio constant so every permutation index maps to a stable, well-spread
// seed regardless of execution order. Mirrors permutation.py's
// _seed_for_index.
func seedForIndex(base int64, idx int) int64 {
	const mixConst uint64 = 0x9E3779B97F4A7C15
	u := uint64(base) + uint64(idx+1)*mixConst
	return int64(u)
}

type sampleResult struct {
	m01, m10           bitset.BitSet
	attempts, restarts int
	fallback           bool
}

func (g *Generator) generateOne(seed int64) (sampleResult, error) {
	rng := rand.New(rand.NewSource(seed))
	n := g.tree.NumBranches()
	attempts, restarts := 0, 0
	total10 := sumInts(g.bin10)

	for attempts < g.maxPermAttempts {
		attempts++
		m01, err := g.sampleSet(g.bin01, g.tree.All, rng)
		if err != nil {
			restarts++
			continue
		}

		var m10 bitset.BitSet
		fallback := false
		if !g.includeLoss || total10 == 0 {
			m10 = bitset.New(n)
		} else {
			var allowed10 bitset.BitSet
			if !m01.IsZero() {
				allowed10 = descendantsOfMaskStrict(m01, g.tree)
				if !g.hasBinCapacity(allowed10, g.bin10) {
					allowed10 = g.tree.All
					fallback = true
				}
			} else {
				// n_fg_01 == 0 but n_fg_10 > 0: no gain branch to anchor
				// loss sampling below, so sample independently.
				allowed10 = g.tree.All
				fallback = true
			}

			var err2 error
			m10, err2 = g.sampleSet(g.bin10, allowed10, rng)
			if err2 != nil {
				restarts++
				continue
			}
		}

		return sampleResult{m01: m01, m10: m10, attempts: attempts, restarts: restarts, fallback: fallback}, nil
	}

	return sampleResult{}, fmt.Errorf("failed to generate a valid permutation under constraints after %d attempts; try reducing n_perm or relaxing constraints", g.maxPermAttempts)
}

type binDemand struct {
	bin, allowedCount, need int
}

// sampleSet draws one branch set matching the requested per-bin counts
// from within allowed, rejecting any candidate that shares an ancestor
// chain with an already-selected branch.
func (g *Generator) sampleSet(counts []int, allowed bitset.BitSet, rng *rand.Rand) (bitset.BitSet, error) {
	n := g.tree.NumBranches()
	target := sumInts(counts)
	if target == 0 {
		return bitset.New(n), nil
	}
	if !g.hasBinCapacity(allowed, counts) {
		return bitset.BitSet{}, fmt.Errorf("insufficient candidates for requested bin counts")
	}

	var order []binDemand
	for b, need := range counts {
		if need <= 0 {
			continue
		}
		order = append(order, binDemand{bin: b, allowedCount: g.allowedCount(b, allowed), need: need})
	}
	// Harder bins (low capacity relative to demand) first.
	sort.Slice(order, func(i, j int) bool {
		if order[i].allowedCount != order[j].allowedCount {
			return order[i].allowedCount < order[j].allowedCount
		}
		return order[i].need > order[j].need
	})

	for attempt := 0; attempt < g.maxSetAttempts; attempt++ {
		selected := bitset.New(n)
		ok := true

		for _, bd := range order {
			pool := make([]int, 0, len(g.candidatesByBin[bd.bin]))
			for _, idx := range g.candidatesByBin[bd.bin] {
				if allowed.Test(idx) {
					pool = append(pool, idx)
				}
			}
			rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

			picked := 0
			for _, idx := range pool {
				if picked >= bd.need {
					break
				}
				branch := g.tree.Branches[idx]
				if branch.Ancestors.Or(branch.Descendants).Intersects(selected) {
					continue
				}
				selected.Set(idx)
				picked++
			}
			if picked < bd.need {
				ok = false
				break
			}
		}

		if ok && selected.PopCount() == target {
			return selected, nil
		}
	}

	return bitset.BitSet{}, fmt.Errorf("could not sample a valid set for requested bin composition")
}

func (g *Generator) allowedCount(bin int, allowed bitset.BitSet) int {
	c := 0
	for _, idx := range g.candidatesByBin[bin] {
		if allowed.Test(idx) {
			c++
		}
	}
	return c
}

func (g *Generator) hasBinCapacity(allowed bitset.BitSet, counts []int) bool {
	for b, need := range counts {
		if need <= 0 {
			continue
		}
		if g.allowedCount(b, allowed) < need {
			return false
		}
	}
	return true
}

// descendantsOfMaskStrict returns the union of proper descendants of every
// branch in mask, excluding mask itself.
func descendantsOfMaskStrict(mask bitset.BitSet, t *tree.Tree) bitset.BitSet {
	out := bitset.New(t.NumBranches())
	mask.ForEach(func(i int) {
		out = out.Or(t.Branches[i].Descendants)
	})
	return out.AndNot(mask)
}
