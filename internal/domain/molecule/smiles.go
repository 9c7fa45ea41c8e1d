package molecule

import (
	"fmt"
	"sort"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Molecular graph
// ─────────────────────────────────────────────────────────────────────────────

// BondOrder enumerates the bond types recognised by the parser.
type BondOrder uint8

const (
	BondSingle BondOrder = iota + 1
	BondDouble
	BondTriple
	BondAromatic
)

// String returns the SMILES bond symbol.
func (b BondOrder) String() string {
	switch b {
	case BondSingle:
		return "-"
	case BondDouble:
		return "="
	case BondTriple:
		return "#"
	case BondAromatic:
		return ":"
	default:
		return "?"
	}
}

// valenceContribution is the bond's contribution to an atom's valence.
func (b BondOrder) valenceContribution() int {
	switch b {
	case BondDouble:
		return 2
	case BondTriple:
		return 3
	default:
		return 1
	}
}

// Atom is a node of the molecular graph.
type Atom struct {
	Element   string
	AtomicNum int
	Aromatic  bool
	Charge    int
	Isotope   int
	// Bracket atoms carry an explicit hydrogen count and never receive
	// implicit hydrogens.
	Bracket   bool
	ExplicitH int
	ImplicitH int
	InRing    bool
}

// TotalH returns the number of attached hydrogens.
func (a Atom) TotalH() int { return a.ExplicitH + a.ImplicitH }

// Bond is an edge of the molecular graph.
type Bond struct {
	Begin  int
	End    int
	Order  BondOrder
	InRing bool
}

// Other returns the bond endpoint opposite atom.
func (b Bond) Other(atom int) int {
	if b.Begin == atom {
		return b.End
	}
	return b.Begin
}

// Graph is a parsed molecule. It is immutable once returned by ParseSMILES.
type Graph struct {
	Atoms []Atom
	Bonds []Bond
	// adjacency lists bond indices per atom
	adjacency [][]int
}

// NumAtoms returns the number of heavy (explicit) atoms.
func (g *Graph) NumAtoms() int { return len(g.Atoms) }

// NumBonds returns the number of bonds between explicit atoms.
func (g *Graph) NumBonds() int { return len(g.Bonds) }

// AtomBonds returns the indices of the bonds incident to atom.
func (g *Graph) AtomBonds(atom int) []int { return g.adjacency[atom] }

// Degree returns the number of explicit neighbours of atom.
func (g *Graph) Degree(atom int) int { return len(g.adjacency[atom]) }

// ─────────────────────────────────────────────────────────────────────────────
// Parser
// ─────────────────────────────────────────────────────────────────────────────

// SMILESError describes where and why parsing failed.
type SMILESError struct {
	Pos    int
	Reason string
}

func (e *SMILESError) Error() string {
	if e.Pos < 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s at position %d", e.Reason, e.Pos)
}

type ringOpening struct {
	atom  int
	order BondOrder // 0 when unspecified
	pos   int
}

type smilesParser struct {
	src     string
	pos     int
	g       *Graph
	prev    int
	pending BondOrder
	branch  []int
	rings   map[int]ringOpening
}

// ParseSMILES parses a SMILES string into a molecular graph. Stereo markers
// are accepted and ignored. Kekulé and aromatic spellings of one molecule
// yield the same bond orders. The result is rejected when it is empty, has
// unbalanced branches, unclosed rings, unknown elements or exceeds the
// allowed valence of any atom.
func ParseSMILES(smiles string) (*Graph, error) {
	s := strings.TrimSpace(smiles)
	if s == "" {
		return nil, &SMILESError{Pos: -1, Reason: "empty SMILES"}
	}
	p := &smilesParser{
		src:   s,
		g:     &Graph{},
		prev:  -1,
		rings: make(map[int]ringOpening),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	g := p.g
	g.adjacency = make([][]int, len(g.Atoms))
	for i, b := range g.Bonds {
		g.adjacency[b.Begin] = append(g.adjacency[b.Begin], i)
		g.adjacency[b.End] = append(g.adjacency[b.End], i)
	}
	markRings(g)
	demoteAcyclicAromatic(g)
	if err := assignHydrogens(g); err != nil {
		return nil, err
	}
	perceiveAromaticity(g)
	return g, nil
}

func (p *smilesParser) parse() error {
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == '(':
			if p.prev < 0 {
				return p.errorf("branch without preceding atom")
			}
			if p.pending != 0 {
				return p.errorf("bond symbol before branch")
			}
			p.branch = append(p.branch, p.prev)
			p.pos++

		case ch == ')':
			if len(p.branch) == 0 {
				return p.errorf("unbalanced parentheses")
			}
			if p.pending != 0 {
				return p.errorf("dangling bond")
			}
			p.prev = p.branch[len(p.branch)-1]
			p.branch = p.branch[:len(p.branch)-1]
			p.pos++

		case ch == '-' || ch == '=' || ch == '#' || ch == ':' || ch == '/' || ch == '\\':
			if p.pending != 0 {
				return p.errorf("consecutive bond symbols")
			}
			if p.prev < 0 {
				return p.errorf("bond without preceding atom")
			}
			p.pending = bondFromSymbol(ch)
			p.pos++

		case ch == '$':
			return p.errorf("quadruple bonds are not supported")

		case ch == '.':
			if p.pending != 0 {
				return p.errorf("dangling bond")
			}
			p.prev = -1
			p.pos++

		case ch >= '0' && ch <= '9':
			if err := p.ringClosure(int(ch - '0')); err != nil {
				return err
			}
			p.pos++

		case ch == '%':
			if p.pos+2 >= len(p.src) || !isDigit(p.src[p.pos+1]) || !isDigit(p.src[p.pos+2]) {
				return p.errorf("malformed ring closure")
			}
			n := int(p.src[p.pos+1]-'0')*10 + int(p.src[p.pos+2]-'0')
			if err := p.ringClosure(n); err != nil {
				return err
			}
			p.pos += 3

		case ch == '[':
			atom, err := p.bracketAtom()
			if err != nil {
				return err
			}
			p.addAtom(atom)

		case ch == '*':
			p.addAtom(Atom{Element: "*"})
			p.pos++

		default:
			atom, err := p.organicAtom()
			if err != nil {
				return err
			}
			p.addAtom(atom)
		}
	}

	switch {
	case p.pending != 0:
		return &SMILESError{Pos: len(p.src), Reason: "dangling bond"}
	case len(p.branch) > 0:
		return &SMILESError{Pos: len(p.src), Reason: "unbalanced parentheses"}
	case len(p.rings) > 0:
		open := make([]int, 0, len(p.rings))
		for n := range p.rings {
			open = append(open, n)
		}
		sort.Ints(open)
		return &SMILESError{Pos: p.rings[open[0]].pos, Reason: fmt.Sprintf("unclosed ring %d", open[0])}
	case len(p.g.Atoms) == 0:
		return &SMILESError{Pos: -1, Reason: "no atoms"}
	}
	return nil
}

func (p *smilesParser) errorf(format string, args ...interface{}) error {
	return &SMILESError{Pos: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *smilesParser) addAtom(a Atom) {
	idx := len(p.g.Atoms)
	p.g.Atoms = append(p.g.Atoms, a)
	if p.prev >= 0 {
		order := p.pending
		if order == 0 {
			order = p.implicitOrder(p.prev, idx)
		}
		p.g.Bonds = append(p.g.Bonds, Bond{Begin: p.prev, End: idx, Order: order})
	}
	p.pending = 0
	p.prev = idx
}

func (p *smilesParser) implicitOrder(a, b int) BondOrder {
	if p.g.Atoms[a].Aromatic && p.g.Atoms[b].Aromatic {
		return BondAromatic
	}
	return BondSingle
}

func (p *smilesParser) ringClosure(n int) error {
	if p.prev < 0 {
		return p.errorf("ring closure without preceding atom")
	}
	open, ok := p.rings[n]
	if !ok {
		p.rings[n] = ringOpening{atom: p.prev, order: p.pending, pos: p.pos}
		p.pending = 0
		return nil
	}
	delete(p.rings, n)

	if open.atom == p.prev {
		return p.errorf("ring closure %d bonds an atom to itself", n)
	}
	order := p.pending
	switch {
	case order == 0:
		order = open.order
	case open.order != 0 && open.order != order:
		return p.errorf("conflicting bond orders on ring closure %d", n)
	}
	if order == 0 {
		order = p.implicitOrder(open.atom, p.prev)
	}
	for _, b := range p.g.Bonds {
		if (b.Begin == open.atom && b.End == p.prev) || (b.Begin == p.prev && b.End == open.atom) {
			return p.errorf("ring closure %d duplicates an existing bond", n)
		}
	}
	p.g.Bonds = append(p.g.Bonds, Bond{Begin: open.atom, End: p.prev, Order: order})
	p.pending = 0
	return nil
}

func (p *smilesParser) organicAtom() (Atom, error) {
	ch := p.src[p.pos]
	if isUpper(ch) {
		if p.pos+1 < len(p.src) {
			two := p.src[p.pos : p.pos+2]
			if two == "Cl" || two == "Br" {
				p.pos += 2
				return Atom{Element: two, AtomicNum: lookupAtomicNumber(two)}, nil
			}
		}
		sym := string(ch)
		if !organicSubset[sym] {
			return Atom{}, p.errorf("element %q must be written in brackets", sym)
		}
		p.pos++
		return Atom{Element: sym, AtomicNum: lookupAtomicNumber(sym)}, nil
	}
	if isLower(ch) {
		sym := string(ch)
		if elem, ok := aromaticSymbols[sym]; ok {
			p.pos++
			return Atom{Element: elem, AtomicNum: lookupAtomicNumber(elem), Aromatic: true}, nil
		}
	}
	return Atom{}, p.errorf("unexpected character %q", ch)
}

// bracketAtom parses [isotope? symbol chiral? hcount? charge? class?].
func (p *smilesParser) bracketAtom() (Atom, error) {
	start := p.pos
	end := strings.IndexByte(p.src[start:], ']')
	if end < 0 {
		return Atom{}, p.errorf("unclosed bracket atom")
	}
	body := p.src[start+1 : start+end]
	p.pos = start + end + 1

	fail := func(reason string) (Atom, error) {
		return Atom{}, &SMILESError{Pos: start, Reason: reason + " in [" + body + "]"}
	}

	i := 0
	var atom Atom
	atom.Bracket = true

	for i < len(body) && isDigit(body[i]) {
		atom.Isotope = atom.Isotope*10 + int(body[i]-'0')
		i++
	}

	switch {
	case i < len(body) && body[i] == '*':
		atom.Element = "*"
		i++
	case i < len(body) && isUpper(body[i]):
		sym := body[i : i+1]
		if i+1 < len(body) && isLower(body[i+1]) && lookupAtomicNumber(body[i:i+2]) > 0 {
			sym = body[i : i+2]
		}
		n := lookupAtomicNumber(sym)
		if n == 0 {
			return fail("unknown element")
		}
		atom.Element, atom.AtomicNum = sym, n
		i += len(sym)
	case i < len(body) && isLower(body[i]):
		sym := body[i : i+1]
		if i+1 < len(body) && isLower(body[i+1]) {
			if _, ok := aromaticSymbols[body[i:i+2]]; ok {
				sym = body[i : i+2]
			}
		}
		elem, ok := aromaticSymbols[sym]
		if !ok {
			return fail("unknown aromatic element")
		}
		atom.Element, atom.AtomicNum, atom.Aromatic = elem, lookupAtomicNumber(elem), true
		i += len(sym)
	default:
		return fail("missing element symbol")
	}

	// chirality: @, @@, @TH1, @AL2, @SP3, @TB12, @OH25
	if i < len(body) && body[i] == '@' {
		i++
		if i < len(body) && body[i] == '@' {
			i++
		}
		if i+2 < len(body) && isChiralClass(body[i:i+2]) && isDigit(body[i+2]) {
			i += 2
			for i < len(body) && isDigit(body[i]) {
				i++
			}
		}
	}

	if i < len(body) && body[i] == 'H' {
		i++
		atom.ExplicitH = 1
		if i < len(body) && isDigit(body[i]) {
			atom.ExplicitH = int(body[i] - '0')
			i++
		}
	}

	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := 1
		if body[i] == '-' {
			sign = -1
		}
		sym := body[i]
		i++
		mag := 1
		switch {
		case i < len(body) && isDigit(body[i]):
			mag = 0
			for i < len(body) && isDigit(body[i]) {
				mag = mag*10 + int(body[i]-'0')
				i++
			}
		default:
			for i < len(body) && body[i] == sym {
				mag++
				i++
			}
		}
		atom.Charge = sign * mag
	}

	if i < len(body) && body[i] == ':' {
		i++
		if i >= len(body) || !isDigit(body[i]) {
			return fail("malformed atom class")
		}
		for i < len(body) && isDigit(body[i]) {
			i++
		}
	}

	if i != len(body) {
		return fail("unexpected trailing characters")
	}
	return atom, nil
}

func bondFromSymbol(ch byte) BondOrder {
	switch ch {
	case '=':
		return BondDouble
	case '#':
		return BondTriple
	case ':':
		return BondAromatic
	default:
		return BondSingle
	}
}

func isChiralClass(s string) bool {
	switch s {
	case "TH", "AL", "SP", "TB", "OH":
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// ─────────────────────────────────────────────────────────────────────────────
// Perception
// ─────────────────────────────────────────────────────────────────────────────

// markRings flags every bond that is not a bridge, and every atom incident to
// such a bond, as ring members.
func markRings(g *Graph) {
	n := len(g.Atoms)
	disc := make([]int, n)
	low := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}
	timer := 0

	type frame struct {
		atom, viaBond, next int
	}
	for root := 0; root < n; root++ {
		if disc[root] >= 0 {
			continue
		}
		stack := []frame{{atom: root, viaBond: -1}}
		disc[root], low[root] = timer, timer
		timer++
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			adj := g.adjacency[top.atom]
			if top.next < len(adj) {
				bi := adj[top.next]
				top.next++
				if bi == top.viaBond {
					continue
				}
				nb := g.Bonds[bi].Other(top.atom)
				if disc[nb] < 0 {
					disc[nb], low[nb] = timer, timer
					timer++
					stack = append(stack, frame{atom: nb, viaBond: bi})
				} else if disc[nb] < low[top.atom] {
					low[top.atom] = disc[nb]
				}
				continue
			}
			child := *top
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				continue
			}
			parent := stack[len(stack)-1].atom
			if low[child.atom] < low[parent] {
				low[parent] = low[child.atom]
			}
			if low[child.atom] <= disc[parent] {
				g.Bonds[child.viaBond].InRing = true
			}
		}
	}
	for _, b := range g.Bonds {
		if b.InRing {
			g.Atoms[b.Begin].InRing = true
			g.Atoms[b.End].InRing = true
		}
	}
}

// assignHydrogens computes implicit hydrogen counts for organic-subset atoms
// and rejects atoms whose explicit valence exceeds every allowed valence.
func assignHydrogens(g *Graph) error {
	for i := range g.Atoms {
		a := &g.Atoms[i]
		valences := allowedValences(a.AtomicNum, a.Charge)
		if len(valences) == 0 {
			continue
		}

		used := a.ExplicitH
		aromaticBonds, multipleBonds := 0, 0
		for _, bi := range g.adjacency[i] {
			b := g.Bonds[bi]
			used += b.Order.valenceContribution()
			switch b.Order {
			case BondAromatic:
				aromaticBonds++
			case BondDouble, BondTriple:
				multipleBonds++
			}
		}
		// An aromatic carbon-like atom without an exocyclic multiple bond
		// contributes one more bond to the pi system, unless its sigma bonds
		// already fill the lowest valence (pyrrole-type n(C)).
		if a.Aromatic && aromaticBonds > 0 && multipleBonds == 0 && valences[0] >= 3 && used < valences[0] {
			used++
		}

		maxValence := valences[len(valences)-1]
		if used > maxValence {
			return &SMILESError{Pos: -1, Reason: fmt.Sprintf(
				"explicit valence %d exceeds maximum %d for atom %d (%s)", used, maxValence, i, a.Element)}
		}
		if a.Bracket {
			continue
		}
		for _, v := range valences {
			if v >= used {
				a.ImplicitH = v - used
				break
			}
		}
	}
	return nil
}
