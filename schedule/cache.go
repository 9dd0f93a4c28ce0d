package schedule

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/mrrlab/permucn/bitset"
	"bitbucket.org/mrrlab/permucn/tree"
)

// CacheVersion is the permutation cache bundle's schema version, bumped
// whenever the bundle layout changes incompatibly.
const CacheVersion = 1

// CacheSpec identifies which permutation batch a cache bundle belongs to,
// per cache.py:CacheMatchSpec.
type CacheSpec struct {
	TreeFingerprint  string
	IncludeTraitLoss bool
	FG01Mask         bitset.BitSet
	FG10Mask         bitset.BitSet
}

// MakeCacheSpec builds a CacheSpec from a fitted tree and ASR foreground
// masks, per cache.py:make_cache_spec.
func MakeCacheSpec(t *tree.Tree, includeTraitLoss bool, fg01, fg10 bitset.BitSet) CacheSpec {
	return CacheSpec{
		TreeFingerprint:  t.Fingerprint,
		IncludeTraitLoss: includeTraitLoss,
		FG01Mask:         fg01,
		FG10Mask:         fg10,
	}
}

type stageJSON struct {
	NPerm         int      `json:"n_perm"`
	Masks01Hex    []string `json:"masks_01_hex"`
	Masks10Hex    []string `json:"masks_10_hex"`
	TotalAttempts int      `json:"total_attempts"`
	TotalRestarts int      `json:"total_restarts"`
}

// Bundle is the on-disk permutation cache shape, per cache.py's bundle
// dict (version, tree_fingerprint, include_trait_loss, fg_*_mask_hex,
// initial, refine).
type Bundle struct {
	Version          int        `json:"version"`
	TreeFingerprint  string     `json:"tree_fingerprint"`
	IncludeTraitLoss bool       `json:"include_trait_loss"`
	FG01MaskHex      string     `json:"fg_01_mask_hex"`
	FG10MaskHex      string     `json:"fg_10_mask_hex"`
	Initial          *stageJSON `json:"initial"`
	Refine           *stageJSON `json:"refine"`
}

// StageCache is one stage's (initial or refine) decoded permutation batch.
type StageCache struct {
	Masks01, Masks10             []bitset.BitSet
	TotalAttempts, TotalRestarts int
}

// EmptyBundle builds a fresh, stage-empty bundle for spec, per
// cache.py:empty_bundle.
func EmptyBundle(spec CacheSpec) *Bundle {
	return &Bundle{
		Version:          CacheVersion,
		TreeFingerprint:  spec.TreeFingerprint,
		IncludeTraitLoss: spec.IncludeTraitLoss,
		FG01MaskHex:      maskToHex(spec.FG01Mask),
		FG10MaskHex:      maskToHex(spec.FG10Mask),
	}
}

// IsBundleCompatible reports whether bundle was produced for spec, per
// cache.py:is_bundle_compatible.
func IsBundleCompatible(b *Bundle, spec CacheSpec) bool {
	if b == nil {
		return false
	}
	return b.Version == CacheVersion &&
		b.TreeFingerprint == spec.TreeFingerprint &&
		b.IncludeTraitLoss == spec.IncludeTraitLoss &&
		b.FG01MaskHex == maskToHex(spec.FG01Mask) &&
		b.FG10MaskHex == maskToHex(spec.FG10Mask)
}

// GetStageCache decodes bundle's stage ("initial" or "refine") if it
// holds at least nPermRequired samples, per cache.py:get_stage_cache.
func GetStageCache(b *Bundle, stage string, nPermRequired int, nBranches int) (*StageCache, bool) {
	if b == nil {
		return nil, false
	}
	var raw *stageJSON
	switch stage {
	case "initial":
		raw = b.Initial
	case "refine":
		raw = b.Refine
	default:
		return nil, false
	}
	if raw == nil || raw.NPerm < nPermRequired {
		return nil, false
	}
	if len(raw.Masks01Hex) < nPermRequired || len(raw.Masks10Hex) < nPermRequired {
		return nil, false
	}

	masks01 := make([]bitset.BitSet, nPermRequired)
	masks10 := make([]bitset.BitSet, nPermRequired)
	for i := 0; i < nPermRequired; i++ {
		m01, err := hexToMask(raw.Masks01Hex[i], nBranches)
		if err != nil {
			return nil, false
		}
		m10, err := hexToMask(raw.Masks10Hex[i], nBranches)
		if err != nil {
			return nil, false
		}
		masks01[i] = m01
		masks10[i] = m10
	}

	return &StageCache{
		Masks01:       masks01,
		Masks10:       masks10,
		TotalAttempts: raw.TotalAttempts,
		TotalRestarts: raw.TotalRestarts,
	}, true
}

// PutStageCache encodes cache into bundle's stage, per
// cache.py:put_stage_cache.
func PutStageCache(b *Bundle, stage string, cache StageCache) {
	raw := &stageJSON{
		NPerm:         len(cache.Masks01),
		Masks01Hex:    make([]string, len(cache.Masks01)),
		Masks10Hex:    make([]string, len(cache.Masks10)),
		TotalAttempts: cache.TotalAttempts,
		TotalRestarts: cache.TotalRestarts,
	}
	for i, m := range cache.Masks01 {
		raw.Masks01Hex[i] = maskToHex(m)
	}
	for i, m := range cache.Masks10 {
		raw.Masks10Hex[i] = maskToHex(m)
	}
	switch stage {
	case "initial":
		b.Initial = raw
	case "refine":
		b.Refine = raw
	}
}

// LoadBundle reads a cache bundle from path, transparently gunzipping
// when path ends in ".gz", per cache.py:load_cache_bundle.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r []byte
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("schedule: opening gzip cache %s: %w", path, err)
		}
		defer gz.Close()
		r, err = io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
	} else {
		r, err = io.ReadAll(f)
		if err != nil {
			return nil, err
		}
	}

	var b Bundle
	if err := json.Unmarshal(r, &b); err != nil {
		return nil, fmt.Errorf("schedule: parsing cache %s: %w", path, err)
	}
	return &b, nil
}

// SaveBundle writes bundle to path (creating parent directories),
// gzipping when path ends in ".gz", per cache.py:save_cache_bundle.
func SaveBundle(path string, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			return err
		}
		return gz.Close()
	}
	_, err = f.Write(data)
	return err
}

// maskToHex renders mask as a hexadecimal big-endian integer string
// equivalent to Python's format(mask, "x"), per cache.py:_mask_to_hex.
func maskToHex(mask bitset.BitSet) string {
	words := mask.Words()
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	reverseBytes(buf)
	n := new(big.Int).SetBytes(buf)
	return n.Text(16)
}

// hexToMask is maskToHex's inverse, per cache.py:_hex_to_mask.
func hexToMask(text string, nBits int) (bitset.BitSet, error) {
	if text == "" {
		return bitset.New(nBits), nil
	}
	n, ok := new(big.Int).SetString(text, 16)
	if !ok {
		return bitset.BitSet{}, fmt.Errorf("schedule: invalid mask hex %q", text)
	}
	buf := n.Bytes()
	reverseBytes(buf)

	numWords := (nBits + 63) / 64
	words := make([]uint64, numWords)
	for i := 0; i < len(buf); i++ {
		wi := i / 8
		if wi >= numWords {
			break
		}
		words[wi] |= uint64(buf[i]) << uint(8*(i%8))
	}
	return bitset.FromWords(nBits, words), nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
