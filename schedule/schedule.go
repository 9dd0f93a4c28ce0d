// Package schedule is the per-run test scheduler (component G): it draws
// (or reuses cached) permutation batches, dispatches each family to the
// binary or rate statistic, and re-tests families that cross the
// refinement threshold at a larger permutation count.
//
// Grounded on original_source/permucn/cli.py's run() orchestration
// (stages [3/8]-[6/8]: cache lookup, initial test, conditional refine)
// and original_source/permucn/permutation.py's PermutationGenerator,
// wired here against bitbucket.org/mrrlab/permucn/permute.
package schedule

import (
	"fmt"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/family"
	"bitbucket.org/mrrlab/permucn/fisher"
	"bitbucket.org/mrrlab/permucn/permute"
	"bitbucket.org/mrrlab/permucn/report"
	"bitbucket.org/mrrlab/permucn/stats"
)

var log = logging.MustGetLogger("schedule")

// refineSeedOffset is added to the base seed to derive the refinement
// stage's seed, per cli.py's `seed + 7919`.
const refineSeedOffset = 7919

// Config carries the two-stage permutation testing parameters shared by
// every family in one run.
type Config struct {
	NPermInitial     int
	NPermRefine      int // 0 or <= NPermInitial disables refinement
	RefinePThreshold float64
	Seed             int64
	Jobs             int
}

func (c Config) refineEnabled() bool {
	return c.NPermRefine > c.NPermInitial
}

// Batch is one stage's decoded/generated permutation samples plus the
// sampler's bookkeeping counters.
type Batch struct {
	Masks01, Masks10                            []bitset.BitSet
	TotalAttempts, TotalRestarts, TotalFallbacks int
}

// GenerateBatch draws nPerm permutations via gen, reusing cached if it
// already holds at least nPerm samples.
func GenerateBatch(gen *permute.Generator, nPerm int, seed int64, jobs int, cached *StageCache) (Batch, error) {
	if cached != nil && len(cached.Masks01) >= nPerm {
		return Batch{
			Masks01:       cached.Masks01[:nPerm],
			Masks10:       cached.Masks10[:nPerm],
			TotalAttempts: cached.TotalAttempts,
			TotalRestarts: cached.TotalRestarts,
		}, nil
	}

	res, err := gen.Generate(nPerm, seed, jobs)
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		Masks01:        res.Masks01,
		Masks10:        res.Masks10,
		TotalAttempts:  res.TotalAttempts,
		TotalRestarts:  res.TotalRestarts,
		TotalFallbacks: res.TotalFallbacks,
	}, nil
}

// Summary aggregates run-level permutation bookkeeping for runmeta, per
// cli.py's metadata dict's permutation-stage fields.
type Summary struct {
	InitialAttempts, InitialRestarts, InitialFallbacks int
	RefineAttempts, RefineRestarts, RefineFallbacks    int
	RefineRan                                          bool
	NFamiliesRefined                                   int
}

// RunBinary tests every family in binary mode against the shared
// foreground masks (fg01, fg10 from the ASR fit), applying the two-stage
// refinement policy, per cli.py's `_compute_family_binary` dispatch plus
// stages [5/8]-[6/8].
func RunBinary(
	families []*family.Family,
	fg01, fg10, all bitset.BitSet,
	dir stats.Direction,
	sigMaskFor func(i int) *bitset.BitSet,
	gen *permute.Generator,
	cfg Config,
	initialCache, refineCache *StageCache,
) ([]report.Row, Batch, *Batch, Summary, error) {
	if sigMaskFor == nil {
		sigMaskFor = func(int) *bitset.BitSet { return nil }
	}
	initial, err := GenerateBatch(gen, cfg.NPermInitial, cfg.Seed, cfg.Jobs, initialCache)
	if err != nil {
		return nil, Batch{}, nil, Summary{}, fmt.Errorf("schedule: initial permutation stage: %w", err)
	}

	rows := make([]report.Row, len(families))
	for i, f := range families {
		rows[i] = binaryRow(f, fg01, fg10, all, dir, sigMaskFor(i), initial.Masks01, initial.Masks10, cfg.NPermInitial, false)
	}

	summary := Summary{
		InitialAttempts:  initial.TotalAttempts,
		InitialRestarts:  initial.TotalRestarts,
		InitialFallbacks: initial.TotalFallbacks,
	}

	if !cfg.refineEnabled() {
		return rows, initial, nil, summary, nil
	}

	var needsRefine []int
	for i, r := range rows {
		if r.PEmpirical != nil && *r.PEmpirical <= cfg.RefinePThreshold {
			needsRefine = append(needsRefine, i)
		}
	}
	if len(needsRefine) == 0 {
		return rows, initial, nil, summary, nil
	}

	refine, err := GenerateBatch(gen, cfg.NPermRefine, cfg.Seed+refineSeedOffset, cfg.Jobs, refineCache)
	if err != nil {
		return nil, Batch{}, nil, Summary{}, fmt.Errorf("schedule: refinement permutation stage: %w", err)
	}
	summary.RefineRan = true
	summary.RefineAttempts = refine.TotalAttempts
	summary.RefineRestarts = refine.TotalRestarts
	summary.RefineFallbacks = refine.TotalFallbacks
	summary.NFamiliesRefined = len(needsRefine)

	log.Infof("refining %d/%d families at n_perm=%d", len(needsRefine), len(families), cfg.NPermRefine)
	for _, i := range needsRefine {
		rows[i] = binaryRow(families[i], fg01, fg10, all, dir, sigMaskFor(i), refine.Masks01, refine.Masks10, cfg.NPermRefine, true)
	}

	return rows, initial, &refine, summary, nil
}

func binaryRow(f *family.Family, fg01, fg10, all bitset.BitSet, dir stats.Direction, sigMask *bitset.BitSet, perm01, perm10 []bitset.BitSet, nPermUsed int, refined bool) report.Row {
	fgMask := fg01.Or(fg10)
	if fgMask.PopCount() == 0 {
		return report.Row{
			FamilyID: f.ID, Mode: "binary", Direction: directionName(dir),
			NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
			NPermUsed: nPermUsed, Refined: refined, Status: report.StatusNoValidForeground,
		}
	}

	obs := stats.ObservedBinaryStat(f, fg01, fg10, dir, sigMask)
	permStats := stats.PermutationBinaryStats(f, perm01, perm10, dir, sigMask)
	p := stats.EmpiricalPValueInt(obs, permStats)
	summary := stats.BinarySummaryFor(f, fg01, fg10, all, dir, sigMask)

	statF := float64(obs)
	row := report.Row{
		FamilyID: f.ID, Mode: "binary", Direction: directionName(dir),
		NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
		StatObs: &statF, PEmpirical: &p,
		NPermUsed: nPermUsed, Refined: refined, Status: report.StatusOK,
		FGConcordantCount: &summary.FGConcordantCount, FGTotal: &summary.FGTotal,
		BGConcordantCount: &summary.BGConcordantCount, BGTotal: &summary.BGTotal,
		FGConcordanceRate: summary.FGConcordanceRate, BGConcordanceRate: summary.BGConcordanceRate,
	}
	return row
}

// RunRate tests every family in rate mode, mirroring RunBinary's
// two-stage refinement policy, per cli.py's `_compute_family_rate`
// dispatch.
func RunRate(
	families []*family.Family,
	fg01, fg10, all bitset.BitSet,
	dir stats.Direction,
	gen *permute.Generator,
	cfg Config,
	initialCache, refineCache *StageCache,
) ([]report.Row, Batch, *Batch, Summary, error) {
	initial, err := GenerateBatch(gen, cfg.NPermInitial, cfg.Seed, cfg.Jobs, initialCache)
	if err != nil {
		return nil, Batch{}, nil, Summary{}, fmt.Errorf("schedule: initial permutation stage: %w", err)
	}

	rows := make([]report.Row, len(families))
	for i, f := range families {
		rows[i] = rateRow(f, fg01, fg10, all, dir, initial.Masks01, initial.Masks10, cfg.NPermInitial, false)
	}

	summary := Summary{
		InitialAttempts:  initial.TotalAttempts,
		InitialRestarts:  initial.TotalRestarts,
		InitialFallbacks: initial.TotalFallbacks,
	}

	if !cfg.refineEnabled() {
		return rows, initial, nil, summary, nil
	}

	var needsRefine []int
	for i, r := range rows {
		if r.PEmpirical != nil && *r.PEmpirical <= cfg.RefinePThreshold {
			needsRefine = append(needsRefine, i)
		}
	}
	if len(needsRefine) == 0 {
		return rows, initial, nil, summary, nil
	}

	refine, err := GenerateBatch(gen, cfg.NPermRefine, cfg.Seed+refineSeedOffset, cfg.Jobs, refineCache)
	if err != nil {
		return nil, Batch{}, nil, Summary{}, fmt.Errorf("schedule: refinement permutation stage: %w", err)
	}
	summary.RefineRan = true
	summary.RefineAttempts = refine.TotalAttempts
	summary.RefineRestarts = refine.TotalRestarts
	summary.RefineFallbacks = refine.TotalFallbacks
	summary.NFamiliesRefined = len(needsRefine)

	log.Infof("refining %d/%d families at n_perm=%d", len(needsRefine), len(families), cfg.NPermRefine)
	for _, i := range needsRefine {
		rows[i] = rateRow(families[i], fg01, fg10, all, dir, refine.Masks01, refine.Masks10, cfg.NPermRefine, true)
	}

	return rows, initial, &refine, summary, nil
}

func rateRow(f *family.Family, fg01, fg10, all bitset.BitSet, dir stats.Direction, perm01, perm10 []bitset.BitSet, nPermUsed int, refined bool) report.Row {
	fgMask := fg01.Or(fg10)
	if fgMask.PopCount() == 0 {
		return report.Row{
			FamilyID: f.ID, Mode: "rate", Direction: directionName(dir),
			NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
			NPermUsed: nPermUsed, Refined: refined, Status: report.StatusNoValidForeground,
		}
	}

	obs := stats.ObservedRateStat(f, fg01, fg10, dir)
	permStats := stats.PermutationRateStats(f, perm01, perm10, dir)
	p := stats.EmpiricalPValue(obs, permStats)
	summary := stats.RateSummaryFor(f, fg01, fg10, all, dir)

	return report.Row{
		FamilyID: f.ID, Mode: "rate", Direction: directionName(dir),
		NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
		StatObs: &obs, PEmpirical: &p,
		NPermUsed: nPermUsed, Refined: refined, Status: report.StatusOK,
		FGMeanSignedRate: summary.FGMeanSignedRate, BGMeanSignedRate: summary.BGMeanSignedRate,
		FGMedianSignedRate: summary.FGMedianSignedRate, BGMedianSignedRate: summary.BGMedianSignedRate,
	}
}

// RunFisherTarone tests every family via the one-sided Fisher-exact
// statistic and screens the results for Tarone testability, per
// spec.md §4.F. No permutation batch is needed; this path is
// deterministic given the family/foreground data alone.
func RunFisherTarone(
	families []*family.Family,
	fg01, fg10, all bitset.BitSet,
	dir stats.Direction,
	sigMaskFor func(i int) *bitset.BitSet,
	alpha float64,
) ([]report.Row, fisher.TaroneResult, error) {
	if sigMaskFor == nil {
		sigMaskFor = func(int) *bitset.BitSet { return nil }
	}
	rows := make([]report.Row, len(families))
	minP := make([]*float64, len(families))

	for i, f := range families {
		fgMask := fg01.Or(fg10)
		if fgMask.PopCount() == 0 {
			rows[i] = report.Row{
				FamilyID: f.ID, Mode: "binary", Direction: directionName(dir),
				NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
				Status: report.StatusNoValidForeground,
			}
			continue
		}

		summary := stats.BinarySummaryFor(f, fg01, fg10, all, dir, sigMaskFor(i))
		pFisher, err := fisher.OneSidedFromCounts(summary.FGConcordantCount, summary.FGTotal, summary.BGConcordantCount, summary.BGTotal)
		if err != nil {
			return nil, fisher.TaroneResult{}, fmt.Errorf("schedule: family %s: %w", f.ID, err)
		}
		pMin, err := fisher.MinAttainablePValue(summary.FGTotal, summary.BGTotal, summary.FGConcordantCount+summary.BGConcordantCount)
		if err != nil {
			return nil, fisher.TaroneResult{}, fmt.Errorf("schedule: family %s: %w", f.ID, err)
		}

		statF := float64(summary.FGConcordantCount)
		rows[i] = report.Row{
			FamilyID: f.ID, Mode: "binary", Direction: directionName(dir),
			NFGGain: fg01.PopCount(), NFGLoss: fg10.PopCount(),
			StatObs: &statF, Status: report.StatusOK,
			FGConcordantCount: &summary.FGConcordantCount, FGTotal: &summary.FGTotal,
			BGConcordantCount: &summary.BGConcordantCount, BGTotal: &summary.BGTotal,
			FGConcordanceRate: summary.FGConcordanceRate, BGConcordanceRate: summary.BGConcordanceRate,
			PFisher: &pFisher, PMinAttainable: &pMin,
		}
		minP[i] = &pMin
	}

	screen, err := fisher.ScreenMinPValues(minP, alpha)
	if err != nil {
		return nil, fisher.TaroneResult{}, err
	}
	adjusted, err := fisher.BonferroniAdjustSelected(pFisherColumn(rows), screen.TestableByIndex, screen.BonferroniDenom)
	if err != nil {
		return nil, fisher.TaroneResult{}, err
	}

	for i := range rows {
		if rows[i].Status != report.StatusOK {
			continue
		}
		testable := screen.TestableByIndex[i]
		rows[i].TaroneTestable = &testable
		if !testable {
			rows[i].Status = report.StatusUntestableTarone
			continue
		}
		rows[i].PBonfTarone = adjusted[i]
		reject := adjusted[i] != nil && *adjusted[i] <= alpha
		rows[i].RejectTarone = &reject
	}

	return rows, screen, nil
}

func pFisherColumn(rows []report.Row) []*float64 {
	out := make([]*float64, len(rows))
	for i, r := range rows {
		out[i] = r.PFisher
	}
	return out
}

func directionName(dir stats.Direction) string {
	if dir == stats.Loss {
		return "loss"
	}
	return "gain"
}
