// Package tree parses a NEXUS/Newick gene tree into the canonical form the
// rest of permucn operates on: a postorder-indexed branch list with
// ancestor/descendant/tip bitmasks, clade-size bins, and a stable
// fingerprint used to validate permutation-cache reuse.
//
// Grounded on _examples/mrrlab-godon/tree/tree.go (Newick scanning idiom,
// Node/Tree shape) and original_source/permucn/tree.py (branch-key/tip
// normalization, postorder+bitmask construction, fingerprinting).
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"

	"bitbucket.org/mrrlab/permucn/bitset"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("tree")

var (
	stateSuffixRe = regexp.MustCompile(`_[0-9]+$`)
	tipLabelRe    = regexp.MustCompile(`^(.+)<[0-9]+>$`)
)

// branchKeyFromLabel strips a trailing CAFE state suffix ("_0"/"_1") from a
// raw Newick label, yielding the branch key used for CAFE tab column
// matching and permutation-cache fingerprints.
func branchKeyFromLabel(label string) string {
	return stateSuffixRe.ReplaceAllString(label, "")
}

// tipSpeciesFromBranchKey extracts the species name from a tip branch key
// of the form "<species><numeric-id>", e.g. "Homo_sapiens<12>" ->
// "Homo_sapiens". Keys with no numeric-id suffix, or whose prefix is
// empty (a bare "<12>" placeholder id with no species name), are not
// tips and report ok=false.
func tipSpeciesFromBranchKey(key string) (species string, ok bool) {
	m := tipLabelRe.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// log2CladeBin returns floor(log2(size)) for size >= 1, computed by
// explicit doubling rather than math.Log2 to avoid floating-point
// boundary errors at exact powers of two.
func log2CladeBin(size int) int {
	if size < 1 {
		size = 1
	}
	bin := 0
	for (1 << uint(bin+1)) <= size {
		bin++
	}
	return bin
}

// Branch holds everything downstream packages need about one non-root
// branch, indexed by its position in Tree.Branches.
type Branch struct {
	Key        string
	ParentKey  string
	IsTip      bool
	Species    string // only set when IsTip
	Length     float64
	HasLength  bool
	ParentIdx  int // index into Tree.Branches, or -1 for a branch whose parent is the root
	CladeSize  int // number of tips in this branch's subtree
	CladeBin   int // log2CladeBin(CladeSize)
	Ancestors  bitset.BitSet // branches strictly above this one (toward the root)
	Descendants bitset.BitSet // branches strictly below this one
}

// Tree is the canonical, immutable representation of a parsed gene tree.
type Tree struct {
	Branches    []Branch
	ByKey       map[string]int
	Tips        bitset.BitSet // branches that are tips
	All         bitset.BitSet // every branch index, 0..n-1
	Fingerprint string
	RootKey     string // root node's own canonical key, the CAFE column name (if any) to ignore

	// Node-level graph, used by the ASR pruning/posterior passes which
	// operate over every node (including the root, which has no branch
	// of its own). Node IDs are postorder: 0..NumBranches()-1 correspond
	// 1:1 with the same-indexed Branch, and Root is always the last id.
	Root             int
	ChildrenByNode   [][]int
	ParentByNode     []int // -1 for Root
	BranchLenByNode  []float64
	TipSpeciesByNode []string // "" if the node is not a tip
	NodeByBranchIdx  []int    // branch index -> node id (identity, kept for clarity at call sites)
}

// NumBranches returns the number of non-root branches in the tree.
func (t *Tree) NumBranches() int { return len(t.Branches) }

// Index returns the branch index for a branch key, or -1 if absent.
func (t *Tree) Index(key string) int {
	if idx, ok := t.ByKey[key]; ok {
		return idx
	}
	return -1
}

// TipsUnder returns the bitmask of tips in the subtree below branch b
// (spec.md §4.A's tips[b]). A tip branch is its own single-bit subtree.
func (t *Tree) TipsUnder(b int) bitset.BitSet {
	under := t.Branches[b].Descendants.And(t.Tips)
	if t.Branches[b].IsTip {
		under.Set(b)
	}
	return under
}

// internalNode is the working representation used while canonicalizing,
// before branch indices are finalized.
type internalNode struct {
	key      string
	label    string
	length   float64
	hasLen   bool
	isRoot   bool
	parent   *internalNode
	children []*internalNode
	tips     int
}

// Parse reads a NEXUS file, extracts its first tree, and canonicalizes it.
// rateMode selects the branch-length validation applicable to rate-based
// statistics (spec.md §3/§4.C): in rate mode every non-root branch must
// carry a strictly positive, finite length; otherwise only non-negative,
// finite lengths are required (ASR over the Mk2 model tolerates zero-length
// branches, rate statistics cannot divide by them).
func Parse(r io.Reader, rateMode bool) (*Tree, error) {
	newick, err := ExtractFirstNewick(r)
	if err != nil {
		return nil, err
	}
	return ParseNewickString(newick, rateMode)
}

// ParseNewickString canonicalizes a bare Newick string (no NEXUS wrapper).
func ParseNewickString(newick string, rateMode bool) (*Tree, error) {
	rootIdx, raw, err := parseNewick(strings.NewReader(newick))
	if err != nil {
		return nil, err
	}

	nodes := make([]*internalNode, len(raw))
	for i, rn := range raw {
		label := rn.label
		key := branchKeyFromLabel(label)
		nodes[i] = &internalNode{
			key:    key,
			label:  label,
			length: rn.length,
			hasLen: rn.hasLen,
		}
	}
	for i, rn := range raw {
		for _, c := range rn.children {
			nodes[i].children = append(nodes[i].children, nodes[c])
			nodes[c].parent = nodes[i]
		}
	}
	root := nodes[rootIdx]
	root.isRoot = true

	// Sort children lexicographically by canonical branch key at every
	// node, per spec.md's explicit postorder-with-lexicographic-siblings
	// branch ordering (the reference implementation instead keeps
	// parse-order, which this deliberately diverges from).
	var sortChildren func(n *internalNode)
	sortChildren = func(n *internalNode) {
		sort.Slice(n.children, func(i, j int) bool {
			return n.children[i].key < n.children[j].key
		})
		for _, c := range n.children {
			sortChildren(c)
		}
	}
	sortChildren(root)

	// Compute tip counts bottom-up.
	var countTips func(n *internalNode) int
	countTips = func(n *internalNode) int {
		if len(n.children) == 0 {
			n.tips = 1
			return 1
		}
		sum := 0
		for _, c := range n.children {
			sum += countTips(c)
		}
		n.tips = sum
		return sum
	}
	countTips(root)

	// Postorder branch list, excluding the root itself (the root has no
	// branch of its own — only its descendants do).
	var order []*internalNode
	var visit func(n *internalNode)
	visit = func(n *internalNode) {
		for _, c := range n.children {
			visit(c)
		}
		if !n.isRoot {
			order = append(order, n)
		}
	}
	visit(root)

	n := len(order)
	idxOf := make(map[*internalNode]int, n)
	for i, nd := range order {
		idxOf[nd] = i
	}

	byKey := make(map[string]int, n)
	branches := make([]Branch, n)
	for i, nd := range order {
		if !nd.hasLen {
			return nil, fmt.Errorf("tree: branch %q has no length", nd.key)
		}
		if math.IsNaN(nd.length) || math.IsInf(nd.length, 0) {
			return nil, fmt.Errorf("tree: branch %q has a non-finite length", nd.key)
		}
		if rateMode {
			if nd.length <= 0 {
				return nil, fmt.Errorf("tree: branch %q has a non-positive length, required for rate-based statistics", nd.key)
			}
		} else if nd.length < 0 {
			return nil, fmt.Errorf("tree: branch %q has a negative length", nd.key)
		}

		parentIdx := -1
		var parentKey string
		if parent := nd.parent; parent != nil {
			parentKey = parent.key
			if !parent.isRoot {
				parentIdx = idxOf[parent]
			}
		}

		species, isTip := "", false
		if len(nd.children) == 0 {
			species, isTip = tipSpeciesFromBranchKey(nd.key)
			if !isTip {
				return nil, fmt.Errorf("tree: tip %q does not carry a <numeric-id> suffix", nd.key)
			}
		}

		if _, dup := byKey[nd.key]; dup {
			return nil, fmt.Errorf("tree: duplicate branch key %q", nd.key)
		}
		byKey[nd.key] = i

		branches[i] = Branch{
			Key:       nd.key,
			ParentKey: parentKey,
			IsTip:     isTip,
			Species:   species,
			Length:    nd.length,
			HasLength: nd.hasLen,
			ParentIdx: parentIdx,
			CladeSize: nd.tips,
			CladeBin:  log2CladeBin(nd.tips),
		}
	}

	// Ancestor/descendant bitmasks: walk parent chains (ancestors) and
	// propagate descendant sets bottom-up via postorder accumulation.
	for i := range branches {
		anc := bitset.New(n)
		cur := branches[i].ParentIdx
		for cur >= 0 {
			anc.Set(cur)
			cur = branches[cur].ParentIdx
		}
		branches[i].Ancestors = anc
	}
	desc := make([]bitset.BitSet, n)
	for i := range desc {
		desc[i] = bitset.New(n)
	}
	for i := 0; i < n; i++ { // postorder: children already finalized before parent
		if p := branches[i].ParentIdx; p >= 0 {
			desc[p] = desc[p].Or(desc[i])
			desc[p].Set(i)
		}
	}
	for i := range branches {
		branches[i].Descendants = desc[i]
	}

	tips := bitset.New(n)
	for i, b := range branches {
		if b.IsTip {
			tips.Set(i)
		}
	}

	// Node-level graph for the ASR pruning/posterior passes (component B),
	// which must also visit the root. Node ids for non-root nodes are their
	// branch index; the root gets node id n.
	nodeID := func(nd *internalNode) int {
		if nd.isRoot {
			return n
		}
		return idxOf[nd]
	}
	childrenByNode := make([][]int, n+1)
	parentByNode := make([]int, n+1)
	branchLenByNode := make([]float64, n+1)
	tipSpeciesByNode := make([]string, n+1)
	for _, nd := range append(append([]*internalNode{}, order...), root) {
		id := nodeID(nd)
		for _, c := range nd.children {
			childrenByNode[id] = append(childrenByNode[id], nodeID(c))
		}
		if nd.isRoot {
			parentByNode[id] = -1
		} else {
			branchLenByNode[id] = nd.length
			if p := nd.parent; p != nil {
				parentByNode[id] = nodeID(p)
			} else {
				parentByNode[id] = -1
			}
		}
		if len(nd.children) == 0 {
			if species, ok := tipSpeciesFromBranchKey(nd.key); ok {
				tipSpeciesByNode[id] = species
			}
		}
	}
	nodeByBranchIdx := make([]int, n)
	for i := range nodeByBranchIdx {
		nodeByBranchIdx[i] = i
	}

	t := &Tree{
		Branches:         branches,
		ByKey:            byKey,
		Tips:             tips,
		All:              bitset.All(n),
		Root:             n,
		RootKey:          root.key,
		ChildrenByNode:   childrenByNode,
		ParentByNode:     parentByNode,
		BranchLenByNode:  branchLenByNode,
		TipSpeciesByNode: tipSpeciesByNode,
		NodeByBranchIdx:  nodeByBranchIdx,
	}
	t.Fingerprint = computeFingerprint(branches)
	log.Debugf("parsed tree: %d branches, %d tips, fingerprint %s", n, tips.PopCount(), t.Fingerprint)
	return t, nil
}

// computeFingerprint hashes the ordered branch-key list together with
// parent branch indices, per spec.md's explicit fingerprint definition
// (the reference implementation hashes only the branch-key list; this
// deliberately includes topology via parent indices as spec.md requires).
func computeFingerprint(branches []Branch) string {
	h := sha256.New()
	for i, b := range branches {
		fmt.Fprintf(h, "%d:%s:%d\n", i, b.Key, b.ParentIdx)
	}
	return hex.EncodeToString(h.Sum(nil))
}
