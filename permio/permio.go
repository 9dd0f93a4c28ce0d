// Package permio is the collaborator I/O layer (component J): trait TSV
// loading with species/trait column auto-detection, CAFE change/
// probability tab parsing against a canonical branch index, and the
// family-results TSV / run-metadata JSON writers.
//
// Grounded on original_source/permucn/io.py. NEXUS/Newick tree extraction
// already lives in bitbucket.org/mrrlab/permucn/tree (ExtractFirstNewick),
// so this package covers everything else io.py handles.
package permio

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bitbucket.org/mrrlab/permucn/report"
)

var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "na": {}, "n/a": {}, "NaN": {}, "nan": {},
}

func isMissing(s string) bool {
	_, ok := missingTokens[s]
	return ok
}

var speciesCandidates = []string{
	"species", "taxon", "taxon_id", "tip", "label", "name", "scientific_name",
}

// TraitTable is the outcome of loading and validating a binary species
// trait TSV, per io.py:TraitTable.
type TraitTable struct {
	SpeciesToState    map[string]int
	SpeciesColumn     string
	TraitColumn       string
	TraitColumnSource string // "manual" or "auto"
	RowCount          int
}

func normalizeHeader(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

// LoadTraitTable loads path and validates every trait value is 0/1 (after
// missing-token filtering), auto-detecting the species column from
// speciesCandidates and the trait column when traitColumn is empty, per
// io.py:load_trait_table.
func LoadTraitTable(path string, traitColumn string) (*TraitTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("permio: trait TSV not found: %s", path)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	headerRaw, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("permio: trait TSV has no header: %s", path)
	}
	headers := make([]string, len(headerRaw))
	headerNorm := make(map[string]string, len(headerRaw))
	for i, h := range headerRaw {
		h = strings.TrimSpace(h)
		headers[i] = h
		headerNorm[normalizeHeader(h)] = h
	}

	speciesCol := ""
	for _, key := range speciesCandidates {
		if h, ok := headerNorm[key]; ok {
			speciesCol = h
			break
		}
	}
	if speciesCol == "" && len(headers) > 0 {
		speciesCol = headers[0]
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, rec)
	}

	rowValue := func(rec []string, col string) string {
		for i, h := range headers {
			if h == col && i < len(rec) {
				return rec[i]
			}
		}
		return ""
	}

	var chosenTrait, source string
	if traitColumn != "" {
		found := false
		for _, h := range headers {
			if h == traitColumn {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("permio: trait column %q not found in trait file headers: %v", traitColumn, headers)
		}
		chosenTrait = traitColumn
		source = "manual"
	} else {
		var candidates []string
		for _, col := range headers {
			if col == speciesCol {
				continue
			}
			ok := true
			for _, rec := range rows {
				v := strings.TrimSpace(rowValue(rec, col))
				if isMissing(v) {
					continue
				}
				if v != "0" && v != "1" {
					ok = false
					break
				}
			}
			if ok {
				candidates = append(candidates, col)
			}
		}
		switch len(candidates) {
		case 1:
			chosenTrait = candidates[0]
			source = "auto"
		case 0:
			return nil, fmt.Errorf("permio: no binary trait column detected automatically; provide --trait-column explicitly")
		default:
			return nil, fmt.Errorf("permio: multiple binary trait columns detected (%v); provide --trait-column explicitly", candidates)
		}
	}

	speciesToState := make(map[string]int)
	for i, rec := range rows {
		lineNo := i + 2
		species := strings.TrimSpace(rowValue(rec, speciesCol))
		if species == "" {
			return nil, fmt.Errorf("permio: empty species value at %s:%d", path, lineNo)
		}
		traitRaw := strings.TrimSpace(rowValue(rec, chosenTrait))
		if isMissing(traitRaw) {
			return nil, fmt.Errorf("permio: missing trait value at %s:%d for species %q in column %q", path, lineNo, species, chosenTrait)
		}
		if traitRaw != "0" && traitRaw != "1" {
			return nil, fmt.Errorf("permio: trait value must be 0/1 at %s:%d; got %q", path, lineNo, traitRaw)
		}
		trait, _ := strconv.Atoi(traitRaw)
		if prev, ok := speciesToState[species]; ok && prev != trait {
			return nil, fmt.Errorf("permio: conflicting trait assignments for species %q in %s", species, path)
		}
		speciesToState[species] = trait
	}

	return &TraitTable{
		SpeciesToState:    speciesToState,
		SpeciesColumn:     speciesCol,
		TraitColumn:       chosenTrait,
		TraitColumnSource: source,
		RowCount:          len(rows),
	}, nil
}

func firstDataHeader(raw string) string {
	if strings.HasPrefix(raw, "#") {
		return raw[1:]
	}
	return raw
}

// ReadCAFEHeader returns (family_col, branch_cols) from a CAFE-style tab
// file's first line, per io.py:read_cafe_header.
func ReadCAFEHeader(path string) (string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		return "", nil, fmt.Errorf("permio: empty CAFE table: %s", path)
	}
	line := sc.Text()
	if line == "" {
		return "", nil, fmt.Errorf("permio: empty CAFE table: %s", path)
	}

	parts := strings.Split(line, "\t")
	parts[0] = firstDataHeader(parts[0])
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("permio: invalid CAFE header: %s", path)
	}
	return parts[0], parts[1:], nil
}

func safeInt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if isMissing(v) {
		return 0, nil
	}
	v = strings.TrimPrefix(v, "+")
	return strconv.Atoi(v)
}

func safeFloat(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if isMissing(v) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(v, 64)
}

func mapColumns(branchCols []string, branchToIndex map[string]int, ignored map[string]bool) ([]int, error) {
	colToIdx := make([]int, len(branchCols))
	var unknown []string
	for i, col := range branchCols {
		if idx, ok := branchToIndex[col]; ok {
			colToIdx[i] = idx
			continue
		}
		colToIdx[i] = -1
		if col == "" || ignored[col] {
			continue
		}
		unknown = append(unknown, col)
	}
	if len(unknown) > 0 {
		preview := unknown
		more := ""
		if len(preview) > 6 {
			preview = preview[:6]
			more = " ..."
		}
		return nil, fmt.Errorf("permio: branch keys from table not found in canonical tree: %s%s", strings.Join(preview, ", "), more)
	}
	return colToIdx, nil
}

// FamilyMatrix is a dense per-family copy-number change matrix indexed in
// canonical branch order, per io.py:FamilyMatrix.
type FamilyMatrix struct {
	FamilyIDs []string
	Values    [][]int
}

// LoadChangeMatrix loads a CAFE change table as dense per-family vectors,
// per io.py:load_change_matrix. Columns in ignoredBranchKeys (typically
// the root) are accepted but dropped; any other unrecognized column is
// fatal.
func LoadChangeMatrix(path string, branchToIndex map[string]int, ignoredBranchKeys map[string]bool) (*FamilyMatrix, error) {
	_, branchCols, err := ReadCAFEHeader(path)
	if err != nil {
		return nil, err
	}
	colToIdx, err := mapColumns(branchCols, branchToIndex, ignoredBranchKeys)
	if err != nil {
		return nil, err
	}
	width := len(branchToIndex)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("permio: empty change table: %s", path)
	}

	var familyIDs []string
	var values [][]int
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		fam := strings.TrimSpace(parts[0])
		if fam == "" {
			return nil, fmt.Errorf("permio: missing family id at %s:%d", path, lineNo)
		}

		row := make([]int, width)
		for i, mapIdx := range colToIdx {
			if mapIdx < 0 {
				continue
			}
			val := "0"
			if i+1 < len(parts) {
				val = parts[i+1]
			}
			n, err := safeInt(val)
			if err != nil {
				return nil, fmt.Errorf("permio: invalid change value at %s:%d: %w", path, lineNo, err)
			}
			row[mapIdx] = n
		}
		familyIDs = append(familyIDs, fam)
		values = append(values, row)
	}

	return &FamilyMatrix{FamilyIDs: familyIDs, Values: values}, nil
}

// LoadProbabilityMap loads a branch-probability table as family -> vector
// in canonical branch order, per io.py:load_probability_map. Missing
// families are expected and left to the caller.
func LoadProbabilityMap(path string, branchToIndex map[string]int, ignoredBranchKeys map[string]bool) (map[string][]float64, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("permio: branch probability table not found: %s", path)
	}
	_, branchCols, err := ReadCAFEHeader(path)
	if err != nil {
		return nil, err
	}
	colToIdx, err := mapColumns(branchCols, branchToIndex, ignoredBranchKeys)
	if err != nil {
		return nil, err
	}
	width := len(branchToIndex)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("permio: empty probability table: %s", path)
	}

	out := make(map[string][]float64)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		fam := strings.TrimSpace(parts[0])
		if fam == "" {
			continue
		}

		vec := make([]float64, width)
		for i := range vec {
			vec[i] = math.NaN()
		}
		for i, mapIdx := range colToIdx {
			if mapIdx < 0 {
				continue
			}
			val := "N/A"
			if i+1 < len(parts) {
				val = parts[i+1]
			}
			x, err := safeFloat(val)
			if err != nil {
				return nil, fmt.Errorf("permio: invalid probability value at %s: %w", path, err)
			}
			vec[mapIdx] = x
		}
		out[fam] = vec
	}

	return out, nil
}

// WriteTSV writes rows as a mode-appropriate TSV, per io.py:write_tsv
// (csv.DictWriter with extrasaction="ignore" becomes: only the mode's own
// field set is ever consulted, so there is nothing to ignore).
func WriteTSV(path string, rows []report.Row, mode string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	defer w.Flush()

	fields := report.FieldNames(mode)
	if err := w.Write(fields); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.Values(mode)); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteJSON writes obj as indented, key-sorted JSON to path, creating
// parent directories as needed, per io.py:write_json.
func WriteJSON(path string, obj interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	sorted, err := sortedJSON(obj)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// sortedJSON round-trips obj through a map[string]interface{} so
// json.Marshal's natural key ordering (alphabetical, for map keys)
// reproduces Python's json.dump(..., sort_keys=True).
func sortedJSON(obj interface{}) (interface{}, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return generic, nil
}
