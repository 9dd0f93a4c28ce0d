package permio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/mrrlab/permucn/report"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadTraitTableAutoDetectsSpeciesAndTrait(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\thas_wings\tcolor\n"+
		"A\t1\tred\n"+
		"B\t0\tblue\n")
	tt, err := LoadTraitTable(path, "")
	if err != nil {
		t.Fatalf("LoadTraitTable: %v", err)
	}
	if tt.SpeciesColumn != "species" {
		t.Errorf("SpeciesColumn = %q, want species", tt.SpeciesColumn)
	}
	if tt.TraitColumn != "has_wings" || tt.TraitColumnSource != "auto" {
		t.Errorf("TraitColumn = %q (%q), want has_wings (auto)", tt.TraitColumn, tt.TraitColumnSource)
	}
	if tt.SpeciesToState["A"] != 1 || tt.SpeciesToState["B"] != 0 {
		t.Errorf("unexpected species states: %v", tt.SpeciesToState)
	}
}

func TestLoadTraitTableAmbiguousAutoDetectionErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\ta\tb\n"+
		"A\t1\t0\n"+
		"B\t0\t1\n")
	if _, err := LoadTraitTable(path, ""); err == nil {
		t.Fatalf("expected an error for two equally-valid binary columns")
	}
}

func TestLoadTraitTableExplicitColumnOverridesAutoDetection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\ta\tb\n"+
		"A\t1\t0\n"+
		"B\t0\t1\n")
	tt, err := LoadTraitTable(path, "b")
	if err != nil {
		t.Fatalf("LoadTraitTable: %v", err)
	}
	if tt.TraitColumn != "b" || tt.TraitColumnSource != "manual" {
		t.Errorf("TraitColumn = %q (%q), want b (manual)", tt.TraitColumn, tt.TraitColumnSource)
	}
}

func TestLoadTraitTableRejectsNonBinaryValue(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\ttrait\n"+
		"A\t2\n")
	if _, err := LoadTraitTable(path, "trait"); err == nil {
		t.Fatalf("expected an error for a non-binary trait value")
	}
}

func TestLoadTraitTableRejectsConflictingDuplicateSpecies(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\ttrait\n"+
		"A\t1\n"+
		"A\t0\n")
	if _, err := LoadTraitTable(path, "trait"); err == nil {
		t.Fatalf("expected an error for conflicting duplicate species rows")
	}
}

func TestLoadTraitTableTreatsMissingTokenAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trait.tsv", "species\ttrait\n"+
		"A\tNA\n")
	if _, err := LoadTraitTable(path, "trait"); err == nil {
		t.Fatalf("expected a missing-value error when the only row is NA")
	}
}

func TestReadCAFEHeaderStripsLeadingHashAndTrailingEmpties(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "change.tab", "#FamilyID\tA<1>\tB<2>\t\n"+
		"fam1\t1\t-1\n")
	famCol, branchCols, err := ReadCAFEHeader(path)
	if err != nil {
		t.Fatalf("ReadCAFEHeader: %v", err)
	}
	if famCol != "FamilyID" {
		t.Errorf("famCol = %q, want FamilyID", famCol)
	}
	if len(branchCols) != 2 || branchCols[0] != "A<1>" || branchCols[1] != "B<2>" {
		t.Errorf("branchCols = %v, want [A<1> B<2>]", branchCols)
	}
}

func TestLoadChangeMatrixMapsColumnsAndDropsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "change.tab", "FamilyID\tA<1>\troot\tB<2>\n"+
		"fam1\t2\t99\t-3\n"+
		"fam2\t0\t0\t0\n")
	branchToIndex := map[string]int{"A<1>": 0, "B<2>": 1}
	m, err := LoadChangeMatrix(path, branchToIndex, map[string]bool{"root": true})
	if err != nil {
		t.Fatalf("LoadChangeMatrix: %v", err)
	}
	if len(m.FamilyIDs) != 2 || m.FamilyIDs[0] != "fam1" {
		t.Fatalf("FamilyIDs = %v", m.FamilyIDs)
	}
	if m.Values[0][0] != 2 || m.Values[0][1] != -3 {
		t.Errorf("fam1 row = %v, want [2 -3]", m.Values[0])
	}
}

func TestLoadChangeMatrixRejectsUnknownColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "change.tab", "FamilyID\tA<1>\tghost<9>\n"+
		"fam1\t2\t1\n")
	branchToIndex := map[string]int{"A<1>": 0}
	if _, err := LoadChangeMatrix(path, branchToIndex, nil); err == nil {
		t.Fatalf("expected an error for an unrecognized branch column")
	}
}

func TestLoadProbabilityMapNaNFillsMissingValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prob.tab", "FamilyID\tA<1>\tB<2>\n"+
		"fam1\t0.01\tN/A\n")
	branchToIndex := map[string]int{"A<1>": 0, "B<2>": 1}
	probs, err := LoadProbabilityMap(path, branchToIndex, nil)
	if err != nil {
		t.Fatalf("LoadProbabilityMap: %v", err)
	}
	vec, ok := probs["fam1"]
	if !ok {
		t.Fatalf("expected fam1 to be present")
	}
	if vec[0] != 0.01 {
		t.Errorf("vec[0] = %v, want 0.01", vec[0])
	}
	if vec[1] == vec[1] { // NaN != NaN
		t.Errorf("vec[1] = %v, want NaN for N/A", vec[1])
	}
}

func TestLoadProbabilityMapMissingFileErrors(t *testing.T) {
	if _, err := LoadProbabilityMap(filepath.Join(t.TempDir(), "nope.tab"), nil, nil); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestWriteTSVRoundTripsHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sub", "results.tsv")
	p := 0.5
	rows := []report.Row{{FamilyID: "fam1", Mode: "binary", Status: report.StatusOK, PEmpirical: &p}}
	if err := WriteTSV(out, rows, "binary"); err != nil {
		t.Fatalf("WriteTSV: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading written TSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header + one data row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], "family_id") {
		t.Errorf("header missing family_id: %q", lines[0])
	}
	if !strings.Contains(lines[1], "fam1") {
		t.Errorf("data row missing fam1: %q", lines[1])
	}
}

func TestWriteJSONSortsKeys(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "meta.json")
	obj := map[string]interface{}{"zeta": 1, "alpha": 2}
	if err := WriteJSON(out, obj); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading written JSON: %v", err)
	}
	if strings.Index(string(data), "alpha") > strings.Index(string(data), "zeta") {
		t.Errorf("expected alpha to sort before zeta in output:\n%s", data)
	}
}
