// Package report defines the per-family result row shared by the test
// engine, the multiple-testing/ranking stage, and the TSV writer, plus the
// mode-dependent field layout of spec.md §6.3's family_results.tsv.
//
// Grounded on original_source/permucn/report.py:family_fieldnames and the
// row shape assembled throughout original_source/permucn/cli.py.
package report

import "strconv"

// Status values for Row.Status, per spec.md §3's per-family result.
const (
	StatusNotTested          = "not_tested"
	StatusOK                 = "ok"
	StatusNoValidForeground  = "no_valid_foreground"
	StatusUntestableTarone   = "untestable_tarone"
)

// Row is one family's result, covering both the permutation path (fields
// through QBH) and the mode-specific extras appended by FieldNames/Values.
type Row struct {
	FamilyID         string
	Mode             string // "binary" or "rate"
	Direction        string // "gain" or "loss"
	IncludeTraitLoss bool
	NFGGain          int
	NFGLoss          int

	StatObs    *float64
	PEmpirical *float64
	QBH        *float64
	NPermUsed  int
	Refined    bool
	Status     string

	// Binary-mode descriptive + Fisher/Tarone fields.
	FGConcordantCount *int
	FGTotal           *int
	BGConcordantCount *int
	BGTotal           *int
	FGConcordanceRate *float64
	BGConcordanceRate *float64
	PFisher           *float64
	PMinAttainable    *float64
	TaroneTestable    *bool
	PBonfTarone       *float64
	RejectTarone      *bool

	// Rate-mode descriptive fields.
	FGMeanSignedRate   *float64
	BGMeanSignedRate   *float64
	FGMedianSignedRate *float64
	BGMedianSignedRate *float64
}

// FieldNames returns the ordered TSV column list for mode, per
// report.py:family_fieldnames.
func FieldNames(mode string) []string {
	base := []string{
		"family_id", "mode", "direction", "include_trait_loss",
		"n_fg_01", "n_fg_10", "stat_obs", "p_empirical", "q_bh",
		"n_perm_used", "refined", "status",
	}
	switch mode {
	case "binary":
		return append(base,
			"fg_concordant_count", "fg_total", "bg_concordant_count", "bg_total",
			"fg_concordance_rate", "bg_concordance_rate",
			"p_fisher", "p_min_attainable", "tarone_testable", "p_bonf_tarone", "reject_tarone",
		)
	case "rate":
		return append(base,
			"fg_mean_signed_rate", "bg_mean_signed_rate",
			"fg_median_signed_rate", "bg_median_signed_rate",
		)
	default:
		return base
	}
}

func fmtFloatPtr(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'g', -1, 64)
}

func fmtIntPtr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func fmtBoolPtr(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}

// Values renders the row as a string slice matching FieldNames(mode)'s
// order, suitable for a TSV writer.
func (r Row) Values(mode string) []string {
	base := []string{
		r.FamilyID, r.Mode, r.Direction, strconv.FormatBool(r.IncludeTraitLoss),
		strconv.Itoa(r.NFGGain), strconv.Itoa(r.NFGLoss),
		fmtFloatPtr(r.StatObs), fmtFloatPtr(r.PEmpirical), fmtFloatPtr(r.QBH),
		strconv.Itoa(r.NPermUsed), strconv.FormatBool(r.Refined), r.Status,
	}
	switch mode {
	case "binary":
		return append(base,
			fmtIntPtr(r.FGConcordantCount), fmtIntPtr(r.FGTotal),
			fmtIntPtr(r.BGConcordantCount), fmtIntPtr(r.BGTotal),
			fmtFloatPtr(r.FGConcordanceRate), fmtFloatPtr(r.BGConcordanceRate),
			fmtFloatPtr(r.PFisher), fmtFloatPtr(r.PMinAttainable),
			fmtBoolPtr(r.TaroneTestable), fmtFloatPtr(r.PBonfTarone), fmtBoolPtr(r.RejectTarone),
		)
	case "rate":
		return append(base,
			fmtFloatPtr(r.FGMeanSignedRate), fmtFloatPtr(r.BGMeanSignedRate),
			fmtFloatPtr(r.FGMedianSignedRate), fmtFloatPtr(r.BGMedianSignedRate),
		)
	default:
		return base
	}
}
