// Package runmeta assembles the structured run-metadata document written
// alongside the family results TSV (spec.md §6.3's *.run_metadata.json):
// tool/version, inputs, parameters, trait column selection, tree/ASR
// facts, permutation or Tarone bookkeeping, and a results summary.
//
// Grounded on original_source/permucn/cli.py's `metadata` dict (built at
// the end of `run()`, stage [7/8]-[8/8]).
package runmeta

import (
	"github.com/google/uuid"

	"bitbucket.org/mrrlab/permucn/permio"
)

// Inputs records the resolved paths consulted for one run, per cli.py's
// metadata["inputs"].
type Inputs struct {
	CafeDir         string  `json:"cafe_dir"`
	TraitTSV        string  `json:"trait_tsv"`
	ChangeTable     string  `json:"change_table"`
	BranchProbTable *string `json:"branch_prob_table"`
	ASRTree         string  `json:"asr_tree"`
}

// Parameters mirrors cli.py's metadata["parameters"]: every CLI option
// that affects the result, plus the resolved job count.
type Parameters struct {
	Mode                 string  `json:"mode"`
	Direction            string  `json:"direction"`
	IncludeTraitLoss     bool    `json:"include_trait_loss"`
	BinaryTest           string  `json:"binary_test"`
	ASRMethod            string  `json:"asr_method"`
	ASRPosteriorHi       float64 `json:"asr_posterior_hi"`
	ASRPosteriorLo       float64 `json:"asr_posterior_lo"`
	CafeSignificantOnly  bool    `json:"cafe_significant_only"`
	CafeAlpha            float64 `json:"cafe_alpha"`
	NPermInitial         int     `json:"n_perm_initial"`
	NPermRefine          int     `json:"n_perm_refine"`
	RefinePThreshold     float64 `json:"refine_p_threshold"`
	FWERAlpha            float64 `json:"fwer_alpha"`
	QValueThreshold      float64 `json:"qvalue_threshold"`
	PValueTopN           int     `json:"pvalue_top_n"`
	CladeBinScheme       string  `json:"clade_bin_scheme"`
	Seed                 int64   `json:"seed"`
	JobsRequested        int     `json:"jobs_requested"`
	JobsEffective        int     `json:"jobs_effective"`
}

// TraitColumns records which trait-table columns were auto-detected or
// explicitly selected, per cli.py's metadata["trait_columns"].
type TraitColumns struct {
	SpeciesColumn      string `json:"species_column"`
	TraitColumnUsed    string `json:"trait_column_used"`
	TraitColumnSource  string `json:"trait_column_source"` // "manual" or "auto"
	RowCount           int    `json:"row_count"`
}

// TreeFacts records the parsed/canonicalized tree's shape, per cli.py's
// metadata["tree"].
type TreeFacts struct {
	NNodes           int            `json:"n_nodes"`
	NNonRootBranches int            `json:"n_non_root_branches"`
	RootBranchKey    string         `json:"root_branch_key"`
	CladeBins        map[string]int `json:"clade_bins"`
}

// DefaultCladeBins is the log2 clade-size bin labeling used throughout
// spec.md §4.A, reproduced for the metadata document's "clade_bins" map.
func DefaultCladeBins() map[string]int {
	return map[string]int{
		"1": 0, "2-3": 1, "4-7": 2, "8-15": 3,
		"16-31": 4, "32-63": 5, "64-127": 6, "128-255": 7,
	}
}

// ASRFacts records the fitted ASR model and derived foreground counts,
// per cli.py's metadata["asr"].
type ASRFacts struct {
	Q01           float64 `json:"q01"`
	Q10           float64 `json:"q10"`
	LogLikelihood float64 `json:"log_likelihood"`
	NFGGain       int     `json:"n_fg_01"`
	NFGLoss       int     `json:"n_fg_10"`
}

// CacheFacts records whether a permutation cache file was used and which
// stages it served, per cli.py's metadata["permutation"]["cache"].
type CacheFacts struct {
	Path          string `json:"path"`
	CacheLoaded   bool   `json:"cache_loaded"`
	InitialSource string `json:"initial_source"` // "generated" or "cache"
	RefineSource  string `json:"refine_source"`  // "generated", "cache", or "" when refine did not run
	DiscardReason string `json:"discard_reason,omitempty"` // why an on-disk cache was ignored, if it was
}

// StageFacts records one permutation stage's bookkeeping counters.
type StageFacts struct {
	NPerm          int `json:"n_perm"`
	TotalAttempts  int `json:"total_attempts"`
	TotalRestarts  int `json:"total_restarts"`
	TotalFallbacks int `json:"total_fallbacks"`
}

// RefineFacts extends StageFacts with the number of families that
// triggered refinement.
type RefineFacts struct {
	NRefinedFamilies int `json:"n_refined_families"`
	StageFacts
}

// PermutationFacts is the permutation-path section of the metadata
// document, per cli.py's metadata["permutation"].
type PermutationFacts struct {
	Cache   CacheFacts  `json:"cache"`
	Initial StageFacts  `json:"initial"`
	Refine  RefineFacts `json:"refine"`
}

// TaroneFacts is the Fisher-Tarone-path section of the metadata document,
// per multiple_testing.py:tarone_screen_min_pvalues's return shape
// (spec.md §4.F/§4.H; the reference CLI never populates this section
// since it does not wire the Fisher-Tarone path in).
type TaroneFacts struct {
	MTotal          int     `json:"m_total"`
	MTestable       int     `json:"m_testable"`
	BonferroniDenom int     `json:"bonferroni_denom"`
	Threshold       float64 `json:"alpha_star"`
}

// ResultsFacts summarizes the run's output, per cli.py's
// metadata["results"].
type ResultsFacts struct {
	NFamilies          int               `json:"n_families"`
	NTested            int               `json:"n_tested"`
	NRefined           int               `json:"n_refined"`
	NTopHits           int               `json:"n_top_hits"`
	OutputTSV          string            `json:"output_tsv"`
	OutputMetadataJSON string            `json:"output_metadata_json"`
	VisualOutputs      map[string]string `json:"visual_outputs,omitempty"`
}

// Metadata is the full *.run_metadata.json document. Permutation and
// Tarone are mutually exclusive: exactly one is populated, matching
// which `--binary-test` path the run took.
type Metadata struct {
	Tool         string            `json:"tool"`
	Version      string            `json:"version"`
	RunID        string            `json:"run_id"`
	Inputs       Inputs            `json:"inputs"`
	Parameters   Parameters        `json:"parameters"`
	TraitColumns TraitColumns      `json:"trait_columns"`
	Tree         TreeFacts         `json:"tree"`
	ASR          ASRFacts          `json:"asr"`
	Permutation  *PermutationFacts `json:"permutation,omitempty"`
	Tarone       *TaroneFacts      `json:"tarone,omitempty"`
	Results      ResultsFacts      `json:"results"`
}

// NewRunID returns a fresh run identifier, the Go analog of cli.py's
// str(uuid.uuid4()) — the reference does not itself stamp a run id, but
// every invocation otherwise shares warnings/logs with no common key to
// tie them together, so one is added here.
func NewRunID() string {
	return uuid.New().String()
}

// Write serializes md as indented, key-sorted JSON to path, per
// io.py:write_json.
func Write(path string, md *Metadata) error {
	return permio.WriteJSON(path, md)
}
