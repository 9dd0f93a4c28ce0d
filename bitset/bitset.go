// Package bitset provides a fixed-width bit set used to address branches,
// tips, and permutation samples by small integer index throughout permucn.
// A tree with n branches allocates one width for every mask it produces
// (ancestors, descendants, tips, foreground sets, permutation draws) so
// that all of them stay directly comparable and combinable with the
// bitwise operators below.
package bitset

import "math/bits"

const wordBits = 64

// BitSet is a set of integers in [0, n) backed by 64-bit words.
type BitSet struct {
	words []uint64
	n     int
}

// New returns an empty BitSet addressing n bits.
func New(n int) BitSet {
	if n < 0 {
		n = 0
	}
	return BitSet{words: make([]uint64, (n+wordBits-1)/wordBits), n: n}
}

// FromWords wraps an existing word slice as a BitSet of width n. A slice
// holding enough words for n bits is used directly, not copied; a shorter
// slice is copied into a new zero-padded one.
func FromWords(n int, words []uint64) BitSet {
	need := (n + wordBits - 1) / wordBits
	if len(words) < need {
		w := make([]uint64, need)
		copy(w, words)
		words = w
	}
	return BitSet{words: words, n: n}
}

// Len returns the addressable width of the set.
func (b BitSet) Len() int { return b.n }

// Words exposes the backing words, most-significant bits beyond n undefined
// only in the sense that callers must not rely on them; Set/Clear never
// populate bits past n.
func (b BitSet) Words() []uint64 { return b.words }

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	w := make([]uint64, len(b.words))
	copy(w, b.words)
	return BitSet{words: w, n: b.n}
}

func (b *BitSet) Set(i int) {
	b.words[i/wordBits] |= 1 << uint(i%wordBits)
}

func (b *BitSet) Clear(i int) {
	b.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

func (b BitSet) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// PopCount returns the number of set bits.
func (b BitSet) PopCount() int {
	c := 0
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// IsZero reports whether no bit is set.
func (b BitSet) IsZero() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func combine(a, b BitSet, op func(x, y uint64) uint64) BitSet {
	n := a.n
	if b.n > n {
		n = b.n
	}
	out := New(n)
	for i := range out.words {
		var x, y uint64
		if i < len(a.words) {
			x = a.words[i]
		}
		if i < len(b.words) {
			y = b.words[i]
		}
		out.words[i] = op(x, y)
	}
	return out
}

// And returns the intersection of b and o.
func (b BitSet) And(o BitSet) BitSet {
	return combine(b, o, func(x, y uint64) uint64 { return x & y })
}

// Or returns the union of b and o.
func (b BitSet) Or(o BitSet) BitSet {
	return combine(b, o, func(x, y uint64) uint64 { return x | y })
}

// AndNot returns b with every bit also set in o cleared.
func (b BitSet) AndNot(o BitSet) BitSet {
	return combine(b, o, func(x, y uint64) uint64 { return x &^ y })
}

// Not returns the complement of b within [0, b.n).
func (b BitSet) Not() BitSet {
	out := New(b.n)
	for i := range out.words {
		out.words[i] = ^b.words[i]
	}
	out.maskTrailing()
	return out
}

func (b *BitSet) maskTrailing() {
	if b.n == 0 {
		return
	}
	last := (b.n - 1) / wordBits
	rem := uint(b.n % wordBits)
	if rem != 0 {
		b.words[last] &= (uint64(1) << rem) - 1
	}
	for i := last + 1; i < len(b.words); i++ {
		b.words[i] = 0
	}
}

// Intersects reports whether b and o share any set bit.
func (b BitSet) Intersects(o BitSet) bool {
	limit := len(b.words)
	if len(o.words) < limit {
		limit = len(o.words)
	}
	for i := 0; i < limit; i++ {
		if b.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// Equal reports whether b and o hold the same set bits.
func (b BitSet) Equal(o BitSet) bool {
	limit := len(b.words)
	if len(o.words) > limit {
		limit = len(o.words)
	}
	for i := 0; i < limit; i++ {
		var x, y uint64
		if i < len(b.words) {
			x = b.words[i]
		}
		if i < len(o.words) {
			y = o.words[i]
		}
		if x != y {
			return false
		}
	}
	return true
}

// Bits returns the ascending list of set-bit indices.
func (b BitSet) Bits() []int {
	out := make([]int, 0, b.PopCount())
	b.ForEach(func(i int) { out = append(out, i) })
	return out
}

// ForEach calls f for every set bit in ascending order.
func (b BitSet) ForEach(f func(i int)) {
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			f(wi*wordBits + tz)
			w &= w - 1
		}
	}
}

// All returns a BitSet with every bit in [0, n) set.
func All(n int) BitSet {
	b := New(n)
	for i := range b.words {
		b.words[i] = ^uint64(0)
	}
	b.maskTrailing()
	return b
}
