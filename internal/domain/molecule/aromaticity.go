package molecule

import (
	"fmt"
	"sort"
)

// ring is a cycle of the molecular graph.
type ring struct {
	atoms []int
	bonds []int
}

// demoteAcyclicAromatic turns aromatic bonds outside rings into single bonds.
// Adjacent lowercase atoms of two different rings (c1ccccc1c1ccccc1) are
// joined by a single bond.
func demoteAcyclicAromatic(g *Graph) {
	for i := range g.Bonds {
		if g.Bonds[i].Order == BondAromatic && !g.Bonds[i].InRing {
			g.Bonds[i].Order = BondSingle
		}
	}
}

// perceiveAromaticity marks Kekulé rings that satisfy the Hückel 4n+2 rule as
// aromatic, so a molecule gets one graph whichever form it was written in.
// Single rings are tested first, then pairs of fused rings. Rings holding
// atoms that were already written aromatic are left untouched. Hydrogen
// counts must be assigned before this runs.
func perceiveAromaticity(g *Graph) {
	electrons := make([]int, len(g.Atoms))
	candidates := 0
	for i := range g.Atoms {
		electrons[i] = piElectrons(g, i)
		if electrons[i] >= 0 {
			candidates++
		}
	}
	if candidates < 3 {
		return
	}

	marked := make(map[int]bool)
	var rest []ring
	for _, r := range smallestRings(g) {
		if !eligible(r.atoms, electrons) {
			continue
		}
		if huckel(r.atoms, electrons) {
			for _, b := range r.bonds {
				marked[b] = true
			}
			continue
		}
		rest = append(rest, r)
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if !sharesBond(rest[i], rest[j]) {
				continue
			}
			if huckel(unionAtoms(rest[i].atoms, rest[j].atoms), electrons) {
				for _, b := range rest[i].bonds {
					marked[b] = true
				}
				for _, b := range rest[j].bonds {
					marked[b] = true
				}
			}
		}
	}

	for bi := range marked {
		b := &g.Bonds[bi]
		b.Order = BondAromatic
		g.Atoms[b.Begin].Aromatic = true
		g.Atoms[b.End].Aromatic = true
	}
}

// piElectrons returns the electrons atom i donates to a ring pi system, or -1
// when the atom cannot take part in an aromatic ring.
func piElectrons(g *Graph, i int) int {
	a := g.Atoms[i]
	if !a.InRing || a.Aromatic {
		return -1
	}
	doubles := 0
	ringDouble, exoHetero := false, false
	for _, bi := range g.adjacency[i] {
		b := g.Bonds[bi]
		switch b.Order {
		case BondTriple, BondAromatic:
			return -1
		case BondDouble:
			doubles++
			if b.InRing {
				ringDouble = true
				continue
			}
			switch g.Atoms[b.Other(i)].AtomicNum {
			case 7, 8, 16:
				exoHetero = true
			}
		}
	}
	switch {
	case doubles > 1:
		return -1
	case ringDouble:
		return 1
	case doubles == 1:
		// exocyclic C=O and friends leave an empty p orbital
		if a.AtomicNum == 6 && exoHetero {
			return 0
		}
		return -1
	}

	connections := g.Degree(i) + a.TotalH()
	switch a.AtomicNum {
	case 6:
		switch a.Charge {
		case -1:
			return 2
		case 1:
			return 0
		}
	case 7, 15:
		if a.Charge == 0 && connections == 3 {
			return 2
		}
	case 8, 16, 34:
		if a.Charge == 0 && connections == 2 {
			return 2
		}
	}
	return -1
}

func eligible(atoms []int, electrons []int) bool {
	for _, a := range atoms {
		if electrons[a] < 0 {
			return false
		}
	}
	return true
}

func huckel(atoms []int, electrons []int) bool {
	n := 0
	for _, a := range atoms {
		if electrons[a] < 0 {
			return false
		}
		n += electrons[a]
	}
	return n%4 == 2
}

// smallestRings returns the smallest cycle through every ring bond, without
// duplicates. Together they cover every ring bond.
func smallestRings(g *Graph) []ring {
	seen := make(map[string]bool)
	var rings []ring
	for bi, b := range g.Bonds {
		if !b.InRing {
			continue
		}
		r, ok := shortestCycle(g, bi)
		if !ok {
			continue
		}
		key := ringKey(r.bonds)
		if seen[key] {
			continue
		}
		seen[key] = true
		rings = append(rings, r)
	}
	return rings
}

// shortestCycle closes bond bi with the shortest path of ring bonds between
// its endpoints.
func shortestCycle(g *Graph, bi int) (ring, bool) {
	const unvisited = -2
	start, goal := g.Bonds[bi].Begin, g.Bonds[bi].End
	via := make([]int, len(g.Atoms))
	for i := range via {
		via[i] = unvisited
	}
	via[start] = -1
	queue := []int{start}
	for len(queue) > 0 && via[goal] == unvisited {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.adjacency[cur] {
			if nb == bi || !g.Bonds[nb].InRing {
				continue
			}
			next := g.Bonds[nb].Other(cur)
			if via[next] != unvisited {
				continue
			}
			via[next] = nb
			queue = append(queue, next)
		}
	}
	if via[goal] == unvisited {
		return ring{}, false
	}

	r := ring{bonds: []int{bi}}
	for at := goal; at != start; {
		r.atoms = append(r.atoms, at)
		b := via[at]
		r.bonds = append(r.bonds, b)
		at = g.Bonds[b].Other(at)
	}
	r.atoms = append(r.atoms, start)
	return r, true
}

func ringKey(bonds []int) string {
	s := append([]int(nil), bonds...)
	sort.Ints(s)
	return fmt.Sprint(s)
}

func sharesBond(a, b ring) bool {
	for _, x := range a.bonds {
		for _, y := range b.bonds {
			if x == y {
				return true
			}
		}
	}
	return false
}

func unionAtoms(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, x := range list {
			if !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		}
	}
	return out
}
