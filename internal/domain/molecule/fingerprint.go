package molecule

import (
	"sort"
	"strings"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint bit vector
// ─────────────────────────────────────────────────────────────────────────────

// Fingerprint is a fixed-length bit vector.
type Fingerprint struct {
	words []uint64
	nBits int
}

// NewFingerprint allocates an all-zero fingerprint of nBits bits.
func NewFingerprint(nBits int) *Fingerprint {
	return &Fingerprint{words: make([]uint64, (nBits+63)/64), nBits: nBits}
}

// Len returns the number of bits.
func (f *Fingerprint) Len() int { return f.nBits }

// Set turns bit i on.
func (f *Fingerprint) Set(i int) { f.words[i/64] |= 1 << uint(i%64) }

// Test reports whether bit i is on.
func (f *Fingerprint) Test(i int) bool { return f.words[i/64]&(1<<uint(i%64)) != 0 }

// OnBits returns the indices of set bits in ascending order.
func (f *Fingerprint) OnBits() []int {
	var out []int
	for i := 0; i < f.nBits; i++ {
		if f.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// Dense expands the fingerprint into a 0/1 float vector.
func (f *Fingerprint) Dense() Vector {
	v := make(Vector, f.nBits)
	for i := 0; i < f.nBits; i++ {
		if f.Test(i) {
			v[i] = 1
		}
	}
	return v
}

// Vector is the dense numeric form of a fingerprint. Vectors returned by the
// encoder may be shared through its cache and must be treated as read-only.
type Vector []float32

// ─────────────────────────────────────────────────────────────────────────────
// Morgan (circular) fingerprint
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultFingerprintSize = 2048
	DefaultRadius          = 2
)

// MorganFingerprint computes an ECFP-style circular fingerprint of g.
//
// Each atom starts from a connectivity invariant (atomic number, total
// degree, hydrogen count, formal charge, isotope, ring membership). Each
// iteration up to radius hashes the atom's previous invariant with the sorted
// (bond order, neighbour invariant) pairs. Environments covering a bond set
// already seen are dropped, and every surviving invariant sets bit
// invariant mod nBits.
func MorganFingerprint(g *Graph, radius, nBits int) *Fingerprint {
	fp := NewFingerprint(nBits)
	n := g.NumAtoms()
	if n == 0 {
		return fp
	}

	invariants := make([]uint32, n)
	for i, a := range g.Atoms {
		invariants[i] = atomInvariant(g, i, a)
		fp.Set(int(invariants[i] % uint32(nBits)))
	}

	// Bond sets covered by each atom's current environment.
	nb := g.NumBonds()
	envs := make([][]bool, n)
	for i := range envs {
		envs[i] = make([]bool, nb)
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}
	seen := make(map[string]struct{})

	type candidate struct {
		atom      int
		invariant uint32
		env       []bool
		key       string
	}

	for layer := 1; layer <= radius; layer++ {
		next := make([]uint32, n)
		copy(next, invariants)
		cands := make([]candidate, 0, n)

		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			bonds := g.AtomBonds(i)
			if len(bonds) == 0 {
				alive[i] = false
				continue
			}
			pairs := make([][2]uint32, 0, len(bonds))
			env := make([]bool, nb)
			copy(env, envs[i])
			for _, bi := range bonds {
				b := g.Bonds[bi]
				other := b.Other(i)
				pairs = append(pairs, [2]uint32{bondInvariant(b.Order), invariants[other]})
				env[bi] = true
				for k, covered := range envs[other] {
					if covered {
						env[k] = true
					}
				}
			}
			sort.Slice(pairs, func(a, b int) bool {
				if pairs[a][0] != pairs[b][0] {
					return pairs[a][0] < pairs[b][0]
				}
				return pairs[a][1] < pairs[b][1]
			})

			h := hashCombine(uint32(layer), invariants[i])
			for _, p := range pairs {
				h = hashCombine(h, p[0])
				h = hashCombine(h, p[1])
			}
			next[i] = h
			cands = append(cands, candidate{atom: i, invariant: h, env: env, key: envKey(env)})
		}

		sort.SliceStable(cands, func(a, b int) bool {
			if cands[a].key != cands[b].key {
				return cands[a].key < cands[b].key
			}
			return cands[a].invariant < cands[b].invariant
		})
		for _, c := range cands {
			if _, dup := seen[c.key]; dup {
				alive[c.atom] = false
				continue
			}
			seen[c.key] = struct{}{}
			fp.Set(int(c.invariant % uint32(nBits)))
		}

		for _, c := range cands {
			envs[c.atom] = c.env
		}
		invariants = next
	}
	return fp
}

func atomInvariant(g *Graph, idx int, a Atom) uint32 {
	ring := uint32(0)
	if a.InRing {
		ring = 1
	}
	h := uint32(0)
	for _, v := range []uint32{
		uint32(a.AtomicNum),
		uint32(g.Degree(idx) + a.TotalH()),
		uint32(a.TotalH()),
		uint32(int32(a.Charge)),
		uint32(a.Isotope),
		ring,
	} {
		h = hashCombine(h, v)
	}
	return h
}

// bondInvariant uses 12 for aromatic bonds so aromatic environments never
// collide with explicit single/double/triple ones.
func bondInvariant(o BondOrder) uint32 {
	if o == BondAromatic {
		return 12
	}
	return uint32(o)
}

func hashCombine(seed, v uint32) uint32 {
	return seed ^ (v + 0x9e3779b9 + (seed << 6) + (seed >> 2))
}

func envKey(env []bool) string {
	var sb strings.Builder
	sb.Grow(len(env))
	for _, covered := range env {
		if covered {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// FingerprintEncoder
// ─────────────────────────────────────────────────────────────────────────────

// FingerprintEncoder turns structure strings into fingerprint vectors. Radius
// and length are fixed at construction. It is safe for concurrent use.
type FingerprintEncoder struct {
	size   int
	radius int
	cache  *FingerprintCache
}

// NewFingerprintEncoder builds an encoder. cache may be nil to disable
// memoisation.
func NewFingerprintEncoder(size, radius int, cache *FingerprintCache) (*FingerprintEncoder, error) {
	if size < 1 {
		return nil, errors.InvalidParam("fingerprint size must be positive").WithDetailf("size=%d", size)
	}
	if radius < 0 {
		return nil, errors.InvalidParam("fingerprint radius must be non-negative").WithDetailf("radius=%d", radius)
	}
	return &FingerprintEncoder{size: size, radius: radius, cache: cache}, nil
}

// Size returns the fingerprint length.
func (e *FingerprintEncoder) Size() int { return e.size }

// Radius returns the Morgan radius.
func (e *FingerprintEncoder) Radius() int { return e.radius }

// Cache returns the memoisation cache, possibly nil.
func (e *FingerprintEncoder) Cache() *FingerprintCache { return e.cache }

// Encode returns the fingerprint vector of smiles, or an InvalidStructure
// error when it does not parse. The returned vector must not be modified.
func (e *FingerprintEncoder) Encode(smiles string) (Vector, error) {
	if e.cache == nil {
		return e.compute(smiles)
	}
	return e.cache.GetOrCompute(smiles, e.compute)
}

// EncodeOrZero is the batch-mode variant of Encode: an invalid structure
// yields an all-zero vector and ok=false instead of an error.
func (e *FingerprintEncoder) EncodeOrZero(smiles string) (v Vector, ok bool) {
	v, err := e.Encode(smiles)
	if err != nil {
		return make(Vector, e.size), false
	}
	return v, true
}

// EncodePair returns FP(a) followed by FP(b). The order is significant.
func (e *FingerprintEncoder) EncodePair(a, b string) (Vector, error) {
	va, err := e.Encode(a)
	if err != nil {
		return nil, err
	}
	vb, err := e.Encode(b)
	if err != nil {
		return nil, err
	}
	return ConcatPair(va, vb), nil
}

// ConcatPair allocates a new vector holding a followed by b.
func ConcatPair(a, b Vector) Vector {
	out := make(Vector, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func (e *FingerprintEncoder) compute(smiles string) (Vector, error) {
	g, err := ParseSMILES(smiles)
	if err != nil {
		return nil, errors.InvalidStructure(smiles, err)
	}
	return MorganFingerprint(g, e.radius, e.size).Dense(), nil
}
