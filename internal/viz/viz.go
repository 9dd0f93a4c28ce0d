// Package viz renders the diagnostic outputs of spec.md §4.L: ranked
// top-hits/top-p-values TSVs, a p-value histogram table, a QQ table, and
// (optionally) PDF renderings of the histogram and QQ plot.
//
// Grounded on original_source/permucn/viz.py:generate_visual_outputs and
// its helpers; PDF rendering follows
// _examples/mrrlab-godon/misc/plotgamma/plotgamma.go's
// plot.New/plotter.../p.Save idiom, substituting matplotlib's
// try/except-is-unavailable fallback with ordinary Go error handling
// (gonum/plot is a compiled dependency, not an optional runtime import,
// so a render failure is a genuine error rather than "library missing").
package viz

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/mrrlab/permucn/multitest"
	"bitbucket.org/mrrlab/permucn/report"
)

// Outputs mirrors viz.py's `outputs` dict: the path written for each
// diagnostic artifact (empty when not produced) plus any non-fatal
// plotting warnings.
type Outputs struct {
	TopHitsTSV    string
	NTopHits      int
	TopPValuesTSV string
	PValueHistTSV string
	QQTSV         string
	PValueHistPDF string
	QQPDF         string
	PlotWarnings  []string
}

// Options configures GenerateVisualOutputs, per the CLI options of
// spec.md §6.2 that feed viz.py:generate_visual_outputs.
type Options struct {
	Mode            string
	BinaryTest      string // "permutation" or "fisher-tarone"; selects each row's primary/adjusted p
	QValueThreshold float64
	PValueTopN      int
	HistBins        int
	MakePlots       bool
}

// primaryP returns the per-row primary p-value for binaryTest: p_empirical
// for the permutation path, p_fisher for the Fisher-Tarone path.
func primaryP(binaryTest string) func(report.Row) *float64 {
	if binaryTest == "fisher-tarone" {
		return func(r report.Row) *float64 { return r.PFisher }
	}
	return func(r report.Row) *float64 { return r.PEmpirical }
}

// adjustedP returns the per-row multiple-testing-adjusted p-value for
// binaryTest: q_bh for the permutation path, p_bonf_tarone for Fisher-Tarone.
func adjustedP(binaryTest string) func(report.Row) *float64 {
	if binaryTest == "fisher-tarone" {
		return func(r report.Row) *float64 { return r.PBonfTarone }
	}
	return func(r report.Row) *float64 { return r.QBH }
}

func validRows(rows []report.Row, primary func(report.Row) *float64) []report.Row {
	var out []report.Row
	for _, r := range rows {
		if r.Status == report.StatusOK && primary(r) != nil {
			out = append(out, r)
		}
	}
	return out
}

// GenerateVisualOutputs writes the diagnostic TSVs (and, when
// opts.MakePlots, PDFs) for outPrefix, per viz.py:generate_visual_outputs.
// The Fisher-Tarone path (opts.BinaryTest == "fisher-tarone") ranks top
// hits by reject_tarone/p_bonf_tarone/p_fisher instead of q_bh/p_empirical,
// and drives the histogram/QQ/top-p-values diagnostics off p_fisher, per
// spec.md §4.H.
func GenerateVisualOutputs(rows []report.Row, outPrefix string, opts Options) (Outputs, error) {
	primary := primaryP(opts.BinaryTest)
	adjusted := adjustedP(opts.BinaryTest)
	valid := validRows(rows, primary)
	var out Outputs

	topPath := outPrefix + ".top_hits.tsv"
	nTopHits, err := writeTopHits(rows, topPath, opts.BinaryTest, opts.QValueThreshold)
	if err != nil {
		return out, err
	}
	out.TopHitsTSV = topPath
	out.NTopHits = nTopHits

	if opts.PValueTopN > 0 {
		topPPath := outPrefix + ".top_pvalues.tsv"
		primaryLabel, adjustedLabel := "p_empirical", "q_bh"
		if opts.BinaryTest == "fisher-tarone" {
			primaryLabel, adjustedLabel = "p_fisher", "p_bonf_tarone"
		}
		if err := writeTopPValues(valid, topPPath, primary, adjusted, primaryLabel, adjustedLabel, opts.PValueTopN); err != nil {
			return out, err
		}
		out.TopPValuesTSV = topPPath
	}

	pvals := make([]float64, len(valid))
	for i, r := range valid {
		pvals[i] = *primary(r)
	}
	if len(pvals) == 0 {
		return out, nil
	}

	histBins := opts.HistBins
	if histBins < 1 {
		histBins = 20
	}
	histRows := multitest.Histogram(pvals, histBins)
	histPath := outPrefix + ".pvalue_hist.tsv"
	if err := writeHistRows(histPath, histRows); err != nil {
		return out, err
	}
	out.PValueHistTSV = histPath

	qqRows := multitest.QQ(pvals)
	qqPath := outPrefix + ".qq.tsv"
	if err := writeQQRows(qqPath, qqRows); err != nil {
		return out, err
	}
	out.QQTSV = qqPath

	if opts.MakePlots {
		histPDF := outPrefix + ".pvalue_hist.pdf"
		if err := plotHistogram(pvals, histPDF, histBins); err != nil {
			out.PlotWarnings = append(out.PlotWarnings, fmt.Sprintf("histogram PDF render failed: %v", err))
		} else {
			out.PValueHistPDF = histPDF
		}

		qqPDF := outPrefix + ".qq.pdf"
		if err := plotQQ(qqRows, qqPDF); err != nil {
			out.PlotWarnings = append(out.PlotWarnings, fmt.Sprintf("QQ PDF render failed: %v", err))
		} else {
			out.QQPDF = qqPDF
		}
	}

	return out, nil
}

func openTSV(path string, header []string) (*os.File, *csv.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, w, nil
}

func fmtF(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'g', -1, 64)
}

func writeTopHits(rows []report.Row, path string, binaryTest string, qvalueThreshold float64) (int, error) {
	if binaryTest == "fisher-tarone" {
		return writeTopHitsTarone(rows, path)
	}
	return writeTopHitsPermutation(rows, path, qvalueThreshold)
}

func writeTopHitsPermutation(rows []report.Row, path string, qvalueThreshold float64) (int, error) {
	ranked := multitest.TopHitsPermutation(rows, qvalueThreshold)
	f, w, err := openTSV(path, []string{"rank", "family_id", "q_bh", "p_empirical", "stat_obs", "mode", "direction", "status"})
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for i, r := range ranked {
		if err := w.Write([]string{
			strconv.Itoa(i + 1), r.FamilyID, fmtF(r.QBH), fmtF(r.PEmpirical), fmtF(r.StatObs), r.Mode, r.Direction, r.Status,
		}); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(ranked), nil
}

func writeTopHitsTarone(rows []report.Row, path string) (int, error) {
	ranked := multitest.TopHitsTarone(rows)
	f, w, err := openTSV(path, []string{"rank", "family_id", "p_bonf_tarone", "p_fisher", "stat_obs", "mode", "direction", "status"})
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for i, r := range ranked {
		if err := w.Write([]string{
			strconv.Itoa(i + 1), r.FamilyID, fmtF(r.PBonfTarone), fmtF(r.PFisher), fmtF(r.StatObs), r.Mode, r.Direction, r.Status,
		}); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(ranked), nil
}

func writeTopPValues(rows []report.Row, path string, primary, adjusted func(report.Row) *float64, primaryLabel, adjustedLabel string, topN int) error {
	ranked := multitest.TopPValues(rows, primary, adjusted, topN)
	f, w, err := openTSV(path, []string{"rank", "family_id", primaryLabel, adjustedLabel, "stat_obs", "mode", "direction", "status"})
	if err != nil {
		return err
	}
	defer f.Close()
	for i, r := range ranked {
		if err := w.Write([]string{
			strconv.Itoa(i + 1), r.FamilyID, fmtF(primary(r)), fmtF(adjusted(r)), fmtF(r.StatObs), r.Mode, r.Direction, r.Status,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeHistRows(path string, rows []multitest.HistBin) error {
	f, w, err := openTSV(path, []string{"bin_start", "bin_end", "count"})
	if err != nil {
		return err
	}
	defer f.Close()
	for _, r := range rows {
		if err := w.Write([]string{
			strconv.FormatFloat(r.BinStart, 'g', -1, 64),
			strconv.FormatFloat(r.BinEnd, 'g', -1, 64),
			strconv.Itoa(r.Count),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeQQRows(path string, rows []multitest.QQRow) error {
	f, w, err := openTSV(path, []string{"rank", "observed_p", "expected_p", "minus_log10_observed", "minus_log10_expected"})
	if err != nil {
		return err
	}
	defer f.Close()
	for _, r := range rows {
		if err := w.Write([]string{
			strconv.Itoa(r.Rank),
			strconv.FormatFloat(r.ObservedP, 'g', -1, 64),
			strconv.FormatFloat(r.ExpectedP, 'g', -1, 64),
			strconv.FormatFloat(r.MinusLog10Observed, 'g', -1, 64),
			strconv.FormatFloat(r.MinusLog10Expected, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func plotHistogram(pvals []float64, path string, bins int) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "p-value histogram"
	p.X.Label.Text = "Empirical p-value"
	p.Y.Label.Text = "Count"

	values := make(plotter.Values, len(pvals))
	copy(values, pvals)
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return err
	}
	p.Add(hist)
	p.X.Min, p.X.Max = 0, 1

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func plotQQ(qqRows []multitest.QQRow, path string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "QQ plot"
	p.X.Label.Text = "Expected -log10(p)"
	p.Y.Label.Text = "Observed -log10(p)"

	pts := make(plotter.XYs, len(qqRows))
	lim := 1.0
	for i, r := range qqRows {
		pts[i].X = r.MinusLog10Expected
		pts[i].Y = r.MinusLog10Observed
		if pts[i].X > lim {
			lim = pts[i].X
		}
		if pts[i].Y > lim {
			lim = pts[i].Y
		}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	p.Add(scatter)

	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: lim, Y: lim}})
	if err != nil {
		return err
	}
	p.Add(diag)

	return p.Save(5*vg.Inch, 5*vg.Inch, path)
}
