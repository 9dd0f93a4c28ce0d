// Command permucn tests gene-family copy-number changes for association
// with a binary trait, using ancestral-state reconstruction to place
// foreground branches and topology-constrained permutation (or a
// Fisher-Tarone screen) to assess significance.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/mrrlab/permucn/asr"
	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/events"
	"bitbucket.org/mrrlab/permucn/family"
	"bitbucket.org/mrrlab/permucn/multitest"
	"bitbucket.org/mrrlab/permucn/permio"
	"bitbucket.org/mrrlab/permucn/permute"
	"bitbucket.org/mrrlab/permucn/report"
	"bitbucket.org/mrrlab/permucn/runmeta"
	"bitbucket.org/mrrlab/permucn/schedule"
	"bitbucket.org/mrrlab/permucn/stats"
	"bitbucket.org/mrrlab/permucn/tree"
	"bitbucket.org/mrrlab/permucn/internal/viz"
)

// set during compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

var log = logging.MustGetLogger("permucn")
var formatter = logging.MustStringFormatter(`%{message}`)

var (
	app = kingpin.New("permucn", "Permutation-based copy number / trait association testing").Version(version)

	cafeDir     = app.Flag("cafe-dir", "directory containing CAFE output files").Required().ExistingDir()
	traitTSV    = app.Flag("trait-tsv", "trait TSV path").Required().ExistingFile()
	traitColumn = app.Flag("trait-column", "trait column name in trait TSV (auto-detected if omitted)").String()

	mode      = app.Flag("mode", "test mode").Default("binary").Enum("binary", "rate")
	direction = app.Flag("direction", "direction of association to test").Default("gain").Enum("gain", "loss")

	binaryTest = app.Flag("binary-test", "binary-mode test statistic").Default("permutation").Enum("permutation", "fisher-tarone")
	fwerAlpha  = app.Flag("fwer-alpha", "Tarone FWER target (fisher-tarone only)").Default("0.05").Float64()

	includeTraitLoss = app.Flag("include-trait-loss", "include 1->0 trait-loss branches as foreground").Default("true").Bool()

	asrMethod      = app.Flag("asr-method", "ancestral state reconstruction method").Default("ml").Enum("ml")
	asrPosteriorHi = app.Flag("asr-posterior-hi", "posterior threshold for calling state 1").Default("0.6").Float64()
	asrPosteriorLo = app.Flag("asr-posterior-lo", "posterior threshold for calling state 0").Default("0.4").Float64()

	cafeSignificantOnly = app.Flag("cafe-significant-only", "restrict to CAFE-significant branches (binary mode only)").Bool()
	cafeAlpha           = app.Flag("cafe-alpha", "CAFE branch-probability significance threshold").Default("0.05").Float64()

	nPermInitial     = app.Flag("n-perm-initial", "initial permutation count").Default("1000").Int()
	nPermRefine      = app.Flag("n-perm-refine", "refinement permutation count").Default("1000000").Int()
	refinePThreshold = app.Flag("refine-p-threshold", "p_empirical threshold triggering refinement").Default("0.01").Float64()

	cladeBinScheme = app.Flag("clade-bin-scheme", "clade-size binning scheme").Default("log2").Enum("log2")
	seed           = app.Flag("seed", "random seed, -1 for time based").Default("-1").Int64()
	jobs           = app.Flag("jobs", "number of worker goroutines (0 = auto)").Default("1").Int()

	outPrefix = app.Flag("out-prefix", "output path prefix").Default("permucn_results").String()
	permCache = app.Flag("perm-cache", "optional JSON/JSON.GZ permutation cache file to load/save").String()

	makePlots       = app.Flag("make-plots", "generate QQ/histogram PDF outputs").Bool()
	qvalueThreshold = app.Flag("qvalue-threshold", "q_bh threshold for top_hits.tsv").Default("0.05").Float64()
	pvalueTopN      = app.Flag("pvalue-top-n", "write top N families by p_empirical to top_pvalues.tsv (0 disables)").Default("0").Int()
	histBins        = app.Flag("hist-bins", "number of bins for the p-value histogram").Default("20").Int()

	logLevel = app.Flag("loglevel", "set loglevel ('critical', 'error', 'warning', 'notice', 'info', 'debug')").
			Default("notice").
			Enum("critical", "error", "warning", "notice", "info", "debug")
	outLogF = app.Flag("log", "write log to a file instead of stderr").String()
)

// requiredPaths mirrors cli.py:_required_paths: the fixed CAFE output
// filenames expected under --cafe-dir.
type requiredPaths struct {
	change, prob, asrTree string
}

func resolvePaths(cafeDir string) requiredPaths {
	return requiredPaths{
		change:  filepath.Join(cafeDir, "Gamma_change.tab"),
		prob:    filepath.Join(cafeDir, "Gamma_branch_probabilities.tab"),
		asrTree: filepath.Join(cafeDir, "Gamma_asr.tre"),
	}
}

// validateArgs mirrors cli.py:_validate_args's semantic checks that
// kingpin's own flag constraints cannot express.
func validateArgs() error {
	if *asrPosteriorLo < 0 || *asrPosteriorHi > 1 || *asrPosteriorLo >= *asrPosteriorHi {
		return fmt.Errorf("invalid ASR posterior thresholds: require 0 <= lo < hi <= 1")
	}
	if *nPermInitial <= 0 {
		return fmt.Errorf("--n-perm-initial must be > 0")
	}
	if *nPermRefine <= 0 {
		return fmt.Errorf("--n-perm-refine must be > 0")
	}
	if *refinePThreshold <= 0 || *refinePThreshold >= 1 {
		return fmt.Errorf("--refine-p-threshold must be in (0, 1)")
	}
	if *cafeAlpha <= 0 || *cafeAlpha >= 1 {
		return fmt.Errorf("--cafe-alpha must be in (0, 1)")
	}
	if *fwerAlpha <= 0 || *fwerAlpha >= 1 {
		return fmt.Errorf("--fwer-alpha must be in (0, 1)")
	}
	if *qvalueThreshold < 0 || *qvalueThreshold > 1 {
		return fmt.Errorf("--qvalue-threshold must be in [0, 1]")
	}
	if *pvalueTopN < 0 {
		return fmt.Errorf("--pvalue-top-n must be >= 0")
	}
	if *histBins <= 0 {
		return fmt.Errorf("--hist-bins must be > 0")
	}
	if *jobs < 0 {
		return fmt.Errorf("--jobs must be >= 0")
	}
	if *mode == "rate" && *cafeSignificantOnly {
		return fmt.Errorf("--cafe-significant-only is valid only in binary mode")
	}
	if *binaryTest == "fisher-tarone" && *mode != "binary" {
		return fmt.Errorf("--binary-test=fisher-tarone is valid only in binary mode")
	}
	return nil
}

func effectiveJobs(raw int) int {
	if raw == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return raw
}

func logProgress(format string, a ...interface{}) {
	log.Noticef("[permucn] "+format, a...)
}

func logWarning(format string, a ...interface{}) {
	log.Warningf("[permucn][warning] "+format, a...)
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logging.SetFormatter(formatter)
	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, pkg := range []string{"permucn", "tree", "asr", "permute", "schedule"} {
		logging.SetLevel(level, pkg)
	}

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("random seed from time")
	}

	if err := run(); err != nil {
		log.Error(err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logProgress("[1/8] Validating arguments and inputs")
	if err := validateArgs(); err != nil {
		return err
	}
	jobCount := effectiveJobs(*jobs)
	paths := resolvePaths(*cafeDir)
	for name, p := range map[string]string{"change table": paths.change, "ASR tree": paths.asrTree} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("required input file missing (%s): %s", name, p)
		}
	}

	logProgress("[2/8] Loading tree/trait data and running trait ASR")
	asrTreeFile, err := os.Open(paths.asrTree)
	if err != nil {
		return err
	}
	t, err := tree.Parse(asrTreeFile, *mode == "rate")
	asrTreeFile.Close()
	if err != nil {
		return fmt.Errorf("parsing ASR tree: %w", err)
	}

	traitTable, err := permio.LoadTraitTable(*traitTSV, *traitColumn)
	if err != nil {
		return err
	}

	asrResult, err := asr.Fit(t, traitTable.SpeciesToState, asr.Options{
		PosteriorHi: *asrPosteriorHi,
		PosteriorLo: *asrPosteriorLo,
	})
	if err != nil {
		return fmt.Errorf("fitting ASR model: %w", err)
	}
	logPotentialTransitions(t, asrResult)

	fg01 := asrResult.FGGain
	fg10 := asrResult.FGLoss
	if !*includeTraitLoss {
		fg10 = bitset.New(t.NumBranches())
	}
	nFG01, nFG10 := fg01.PopCount(), fg10.PopCount()
	fgTotal := nFG01 + nFG10
	logProgress("[2/8] Foreground branches detected: 0->1=%d, 1->0=%d, total=%d", nFG01, nFG10, fgTotal)

	logProgress("[3/8] Preparing permutation cache and initial permutations")
	cacheSpec := schedule.MakeCacheSpec(t, *includeTraitLoss, fg01, fg10)
	var cacheBundle *schedule.Bundle
	cacheLoaded := false
	cacheDiscardReason := ""
	if *permCache != "" {
		if _, statErr := os.Stat(*permCache); statErr == nil {
			loaded, loadErr := schedule.LoadBundle(*permCache)
			if loadErr != nil {
				logWarning("cache unreadable, regenerating: %v", loadErr)
				cacheBundle = schedule.EmptyBundle(cacheSpec)
				cacheDiscardReason = loadErr.Error()
			} else if schedule.IsBundleCompatible(loaded, cacheSpec) {
				cacheBundle = loaded
				cacheLoaded = true
			} else {
				logWarning("cache incompatible with this run (tree/foreground/flags changed), regenerating")
				cacheBundle = schedule.EmptyBundle(cacheSpec)
				cacheDiscardReason = "fingerprint mismatch"
			}
		} else {
			cacheBundle = schedule.EmptyBundle(cacheSpec)
		}
	}

	var initialCache, refineCache *schedule.StageCache
	initialSource, refineSource := "generated", ""
	if cacheBundle != nil {
		if sc, ok := schedule.GetStageCache(cacheBundle, "initial", *nPermInitial, t.NumBranches()); ok {
			initialCache = sc
			initialSource = "cache"
		}
		if sc, ok := schedule.GetStageCache(cacheBundle, "refine", *nPermRefine, t.NumBranches()); ok {
			refineCache = sc
		}
	}

	logProgress("[4/8] Loading family change matrix")
	ignoredKeys := map[string]bool{t.RootKey: true}

	if *cafeSignificantOnly {
		if _, statErr := os.Stat(paths.prob); statErr != nil {
			return fmt.Errorf("--cafe-significant-only requires Gamma_branch_probabilities.tab, but file is missing: %s", paths.prob)
		}
	}

	// The change matrix and (optional) branch-probability table are
	// independent reads off separate CAFE output files; load them
	// concurrently and fail on the first error either produces.
	var changeMatrix *permio.FamilyMatrix
	var probMap map[string][]float64
	var g errgroup.Group
	g.Go(func() error {
		var loadErr error
		changeMatrix, loadErr = permio.LoadChangeMatrix(paths.change, t.ByKey, ignoredKeys)
		return loadErr
	})
	if *cafeSignificantOnly {
		logProgress("[4/8] Loading branch probabilities for significance masking (alpha=%v)", *cafeAlpha)
		g.Go(func() error {
			var loadErr error
			probMap, loadErr = permio.LoadProbabilityMap(paths.prob, t.ByKey, ignoredKeys)
			return loadErr
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var sigMasks []*bitset.BitSet
	if *cafeSignificantOnly {
		sigMasks = make([]*bitset.BitSet, len(changeMatrix.FamilyIDs))
		for i, famID := range changeMatrix.FamilyIDs {
			m := events.BuildSignificanceMask(probMap[famID], *cafeAlpha)
			sigMasks[i] = &m
		}
	}

	dir := stats.Gain
	if *direction == "loss" {
		dir = stats.Loss
	}

	families := make([]*family.Family, len(changeMatrix.FamilyIDs))
	for i, famID := range changeMatrix.FamilyIDs {
		deltaByKey := make(map[string]int, len(changeMatrix.Values[i]))
		for _, b := range t.Branches {
			deltaByKey[b.Key] = changeMatrix.Values[i][t.Index(b.Key)]
		}
		families[i] = family.New(t, famID, deltaByKey, *mode == "rate")
	}

	var sigMaskFor func(i int) *bitset.BitSet
	if sigMasks != nil {
		sigMaskFor = func(i int) *bitset.BitSet { return sigMasks[i] }
	} else {
		sigMaskFor = func(i int) *bitset.BitSet { return nil }
	}

	runID := runmeta.NewRunID()
	var rows []report.Row

	cfg := schedule.Config{
		NPermInitial:     *nPermInitial,
		NPermRefine:      *nPermRefine,
		RefinePThreshold: *refinePThreshold,
		Seed:             *seed,
		Jobs:             jobCount,
	}

	var permSummary schedule.Summary
	var initialBatch, refineBatch schedule.Batch
	var refineRan bool
	var taroneFacts *runmeta.TaroneFacts

	switch {
	case *binaryTest == "fisher-tarone":
		logProgress("[5/8] Running Fisher-exact/Tarone screen for %d families", len(families))
		frows, screen, ferr := schedule.RunFisherTarone(families, fg01, fg10, t.All, dir, sigMaskFor, *fwerAlpha)
		if ferr != nil {
			return ferr
		}
		rows = frows
		taroneFacts = &runmeta.TaroneFacts{
			MTotal:          screen.MTotal,
			MTestable:       screen.MTestable,
			BonferroniDenom: screen.BonferroniDenom,
			Threshold:       screen.Threshold,
		}

	case fgTotal == 0:
		logProgress("[5/8] Skipping family tests because no valid foreground branches were found")
		rows = make([]report.Row, len(families))
		for i, f := range families {
			rows[i] = report.Row{FamilyID: f.ID, Mode: *mode, Direction: *direction, IncludeTraitLoss: *includeTraitLoss, Status: report.StatusNoValidForeground}
		}

	case *mode == "binary":
		gen := permute.NewGenerator(t, fg01, fg10, *includeTraitLoss, 0, 0)
		logProgress("[5/8] Running initial family tests for %d families (n_perm=%d)", len(families), *nPermInitial)
		var rerr error
		var refBp *schedule.Batch
		rows, initialBatch, refBp, permSummary, rerr = schedule.RunBinary(families, fg01, fg10, t.All, dir, sigMaskFor, gen, cfg, initialCache, refineCache)
		if rerr != nil {
			return rerr
		}
		if refBp != nil {
			refineBatch = *refBp
			refineRan = true
		}

	default: // rate
		gen := permute.NewGenerator(t, fg01, fg10, *includeTraitLoss, 0, 0)
		logProgress("[5/8] Running initial family tests for %d families (n_perm=%d)", len(families), *nPermInitial)
		var rerr error
		var refBp *schedule.Batch
		rows, initialBatch, refBp, permSummary, rerr = schedule.RunRate(families, fg01, fg10, t.All, dir, gen, cfg, initialCache, refineCache)
		if rerr != nil {
			return rerr
		}
		if refBp != nil {
			refineBatch = *refBp
			refineRan = true
		}
	}
	for i := range rows {
		rows[i].IncludeTraitLoss = *includeTraitLoss
	}

	if refineRan {
		logProgress("[6/8] Refinement completed for %d families", permSummary.NFamiliesRefined)
	} else if fgTotal > 0 && *binaryTest != "fisher-tarone" {
		logProgress("[6/8] Refinement skipped (no families passed refine criteria)")
	}

	logProgress("[7/8] Applying multiple-testing correction and writing result files")
	if *binaryTest != "fisher-tarone" {
		pvalues := make([]*float64, len(rows))
		for i := range rows {
			pvalues[i] = rows[i].PEmpirical
		}
		qvals := multitest.BHAdjust(pvalues)
		for i := range rows {
			rows[i].QBH = qvals[i]
		}
	}

	outTSV := *outPrefix + ".family_results.tsv"
	outJSON := *outPrefix + ".run_metadata.json"
	if err := permio.WriteTSV(outTSV, rows, *mode); err != nil {
		return err
	}

	vizOut, err := viz.GenerateVisualOutputs(rows, *outPrefix, viz.Options{
		Mode: *mode, BinaryTest: *binaryTest, QValueThreshold: *qvalueThreshold, PValueTopN: *pvalueTopN,
		HistBins: *histBins, MakePlots: *makePlots,
	})
	if err != nil {
		return err
	}
	for _, w := range vizOut.PlotWarnings {
		logWarning("%s", w)
	}

	if refineRan {
		refineSource = "generated"
		if refineCache != nil {
			refineSource = "cache"
		}
	}
	if *permCache != "" && cacheBundle != nil {
		if refineSource == "generated" {
			schedule.PutStageCache(cacheBundle, "refine", schedule.StageCache{
				Masks01: refineBatch.Masks01, Masks10: refineBatch.Masks10,
				TotalAttempts: refineBatch.TotalAttempts, TotalRestarts: refineBatch.TotalRestarts,
			})
		}
		if initialSource == "generated" {
			schedule.PutStageCache(cacheBundle, "initial", schedule.StageCache{
				Masks01: initialBatch.Masks01, Masks10: initialBatch.Masks10,
				TotalAttempts: initialBatch.TotalAttempts, TotalRestarts: initialBatch.TotalRestarts,
			})
		}
		if err := schedule.SaveBundle(*permCache, cacheBundle); err != nil {
			logWarning("failed to write permutation cache: %v", err)
		} else {
			logProgress("[7/8] Updated permutation cache: %s", *permCache)
		}
	}

	nTested := 0
	for _, r := range rows {
		if r.Status == report.StatusOK {
			nTested++
		}
	}

	var probPath *string
	if _, statErr := os.Stat(paths.prob); statErr == nil {
		probPath = &paths.prob
	}

	md := &runmeta.Metadata{
		Tool: "permucn", Version: version, RunID: runID,
		Inputs: runmeta.Inputs{
			CafeDir: *cafeDir, TraitTSV: *traitTSV, ChangeTable: paths.change,
			BranchProbTable: probPath, ASRTree: paths.asrTree,
		},
		Parameters: runmeta.Parameters{
			Mode: *mode, Direction: *direction, IncludeTraitLoss: *includeTraitLoss,
			BinaryTest: *binaryTest, ASRMethod: *asrMethod,
			ASRPosteriorHi: *asrPosteriorHi, ASRPosteriorLo: *asrPosteriorLo,
			CafeSignificantOnly: *cafeSignificantOnly, CafeAlpha: *cafeAlpha,
			NPermInitial: *nPermInitial, NPermRefine: *nPermRefine,
			RefinePThreshold: *refinePThreshold, FWERAlpha: *fwerAlpha,
			QValueThreshold: *qvalueThreshold, PValueTopN: *pvalueTopN,
			CladeBinScheme: *cladeBinScheme, Seed: *seed,
			JobsRequested: *jobs, JobsEffective: jobCount,
		},
		TraitColumns: runmeta.TraitColumns{
			SpeciesColumn: traitTable.SpeciesColumn, TraitColumnUsed: traitTable.TraitColumn,
			TraitColumnSource: traitTable.TraitColumnSource, RowCount: traitTable.RowCount,
		},
		Tree: runmeta.TreeFacts{
			NNodes: t.Root + 1, NNonRootBranches: t.NumBranches(),
			RootBranchKey: t.RootKey, CladeBins: runmeta.DefaultCladeBins(),
		},
		ASR: runmeta.ASRFacts{
			Q01: asrResult.Q01, Q10: asrResult.Q10, LogLikelihood: asrResult.LogLikelihood,
			NFGGain: nFG01, NFGLoss: nFG10,
		},
		Results: runmeta.ResultsFacts{
			NFamilies: len(rows), NTested: nTested, NRefined: permSummary.NFamiliesRefined,
			NTopHits:  vizOut.NTopHits,
			OutputTSV: outTSV, OutputMetadataJSON: outJSON,
			VisualOutputs: visualOutputsMap(vizOut),
		},
	}
	if *binaryTest == "fisher-tarone" {
		md.Tarone = taroneFacts
	} else {
		md.Permutation = &runmeta.PermutationFacts{
			Cache: runmeta.CacheFacts{
				Path: *permCache, CacheLoaded: cacheLoaded,
				InitialSource: initialSource, RefineSource: refineSource,
				DiscardReason: cacheDiscardReason,
			},
			Initial: runmeta.StageFacts{
				NPerm: *nPermInitial, TotalAttempts: permSummary.InitialAttempts,
				TotalRestarts: permSummary.InitialRestarts, TotalFallbacks: permSummary.InitialFallbacks,
			},
			Refine: runmeta.RefineFacts{
				NRefinedFamilies: permSummary.NFamiliesRefined,
				StageFacts: runmeta.StageFacts{
					NPerm: nPermIfRefined(refineRan, *nPermRefine), TotalAttempts: permSummary.RefineAttempts,
					TotalRestarts: permSummary.RefineRestarts, TotalFallbacks: permSummary.RefineFallbacks,
				},
			},
		}
	}

	if err := runmeta.Write(outJSON, md); err != nil {
		return err
	}
	logProgress("[8/8] Run complete; outputs were written successfully")

	fmt.Printf("Wrote family results: %s\n", outTSV)
	fmt.Printf("Wrote metadata: %s\n", outJSON)
	fmt.Printf("Families analyzed: %d\n", len(rows))
	fmt.Printf("Families tested: %d\n", nTested)
	if permSummary.NFamiliesRefined > 0 {
		fmt.Printf("Families refined: %d\n", permSummary.NFamiliesRefined)
	}

	return nil
}

func nPermIfRefined(refined bool, n int) int {
	if !refined {
		return 0
	}
	return n
}

func visualOutputsMap(o viz.Outputs) map[string]string {
	m := map[string]string{}
	if o.TopHitsTSV != "" {
		m["top_hits_tsv"] = o.TopHitsTSV
	}
	if o.TopPValuesTSV != "" {
		m["top_pvalues_tsv"] = o.TopPValuesTSV
	}
	if o.PValueHistTSV != "" {
		m["pvalue_hist_tsv"] = o.PValueHistTSV
	}
	if o.QQTSV != "" {
		m["qq_tsv"] = o.QQTSV
	}
	if o.PValueHistPDF != "" {
		m["pvalue_hist_pdf"] = o.PValueHistPDF
	}
	if o.QQPDF != "" {
		m["qq_pdf"] = o.QQPDF
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// logPotentialTransitions warns (without altering the foreground masks)
// about branches that would flip state under naive MAP (p>=0.5)
// binarization even though ASR's stricter posterior thresholds left one or
// both ends ambiguous, per cli.py's stage [2/8] diagnostic.
func logPotentialTransitions(t *tree.Tree, res *asr.Result) {
	mapState := make([]int, len(res.PosteriorByNode))
	for id, p := range res.PosteriorByNode {
		if p[1] >= 0.5 {
			mapState[id] = 1
		}
	}

	var keys []string
	n01, n10 := 0, 0
	for b := 0; b < t.NumBranches(); b++ {
		parent := t.ParentByNode[b]
		if res.HardByNode[parent] != asr.Ambiguous && res.HardByNode[b] != asr.Ambiguous {
			continue
		}
		ps, cs := mapState[parent], mapState[b]
		if ps == cs {
			continue
		}
		keys = append(keys, t.Branches[b].Key)
		if ps == 0 {
			n01++
		} else {
			n10++
		}
	}
	if len(keys) == 0 {
		return
	}
	preview := keys
	if len(preview) > 8 {
		preview = preview[:8]
	}
	logWarning("ASR posterior thresholding skipped potential phenotype-transition branches: "+
		"%d branch(es) would be transitions under posterior>=0.5 binarization (0->1=%d, 1->0=%d; branch keys: %v)",
		len(keys), n01, n10, preview)
}
