package viz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/mrrlab/permucn/report"
)

func floatPtr(v float64) *float64 { return &v }

func sampleRows() []report.Row {
	return []report.Row{
		{FamilyID: "fam1", Mode: "binary", Direction: "gain", Status: report.StatusOK, PEmpirical: floatPtr(0.001), QBH: floatPtr(0.01), StatObs: floatPtr(5)},
		{FamilyID: "fam2", Mode: "binary", Direction: "gain", Status: report.StatusOK, PEmpirical: floatPtr(0.4), QBH: floatPtr(0.5), StatObs: floatPtr(1)},
		{FamilyID: "fam3", Mode: "binary", Direction: "gain", Status: report.StatusNoValidForeground},
	}
}

func TestGenerateVisualOutputsWritesTSVsAndSkipsMissingPValues(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run1")
	opts := Options{Mode: "binary", QValueThreshold: 0.05, PValueTopN: 1, HistBins: 5}

	out, err := GenerateVisualOutputs(sampleRows(), prefix, opts)
	if err != nil {
		t.Fatalf("GenerateVisualOutputs: %v", err)
	}
	if out.TopHitsTSV == "" {
		t.Fatalf("expected a top-hits path")
	}
	if _, err := os.Stat(out.TopHitsTSV); err != nil {
		t.Errorf("top-hits TSV not written: %v", err)
	}
	if out.TopPValuesTSV == "" {
		t.Errorf("expected a top-p-values path since PValueTopN > 0")
	}
	if out.PValueHistTSV == "" || out.QQTSV == "" {
		t.Errorf("expected histogram and QQ TSVs to be written")
	}
	data, err := os.ReadFile(out.TopHitsTSV)
	if err != nil {
		t.Fatalf("reading top-hits TSV: %v", err)
	}
	if strings.Contains(string(data), "fam3") {
		t.Errorf("a no_valid_foreground row must not appear in top hits:\n%s", data)
	}
	if !strings.Contains(string(data), "fam1") {
		t.Errorf("expected fam1 (lowest p-value) to be included:\n%s", data)
	}
}

func TestGenerateVisualOutputsSkipsTSVsWhenNoValidRows(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run2")
	rows := []report.Row{{FamilyID: "fam1", Mode: "binary", Status: report.StatusNoValidForeground}}

	out, err := GenerateVisualOutputs(rows, prefix, Options{Mode: "binary", QValueThreshold: 0.05})
	if err != nil {
		t.Fatalf("GenerateVisualOutputs: %v", err)
	}
	if out.PValueHistTSV != "" || out.QQTSV != "" {
		t.Errorf("no p-values available: histogram/QQ outputs must stay empty, got %+v", out)
	}
	// top hits is still always written, even if it ends up with zero data rows.
	if out.TopHitsTSV == "" {
		t.Errorf("top-hits TSV path must still be set")
	}
}

func TestGenerateVisualOutputsOmitsTopPValuesWhenTopNIsZero(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run3")
	out, err := GenerateVisualOutputs(sampleRows(), prefix, Options{Mode: "binary", PValueTopN: 0})
	if err != nil {
		t.Fatalf("GenerateVisualOutputs: %v", err)
	}
	if out.TopPValuesTSV != "" {
		t.Errorf("expected no top-p-values output when PValueTopN is 0, got %q", out.TopPValuesTSV)
	}
}

func TestGenerateVisualOutputsDefaultsHistBins(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run4")
	out, err := GenerateVisualOutputs(sampleRows(), prefix, Options{Mode: "binary", HistBins: 0})
	if err != nil {
		t.Fatalf("GenerateVisualOutputs: %v", err)
	}
	data, err := os.ReadFile(out.PValueHistTSV)
	if err != nil {
		t.Fatalf("reading histogram TSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 21 { // header + 20 default bins
		t.Errorf("got %d lines, want 21 (header + 20 default bins)", len(lines))
	}
}
