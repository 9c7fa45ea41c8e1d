package molecule

// elementSymbols is indexed by atomic number - 1.
var elementSymbols = []string{
	"H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es", "Fm",
	"Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds",
	"Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

var atomicNumbers = func() map[string]int {
	m := make(map[string]int, len(elementSymbols))
	for i, s := range elementSymbols {
		m[s] = i + 1
	}
	return m
}()

// lookupAtomicNumber returns the atomic number for a symbol, or 0 if unknown.
func lookupAtomicNumber(symbol string) int {
	return atomicNumbers[symbol]
}

// organicSubset lists the elements that may appear outside brackets.
var organicSubset = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true,
}

// aromaticSymbols lists the lower-case symbols accepted as aromatic atoms.
// Outside brackets only the single-letter forms are valid.
var aromaticSymbols = map[string]string{
	"b": "B", "c": "C", "n": "N", "o": "O", "p": "P", "s": "S",
	"se": "Se", "as": "As", "te": "Te",
}

// defaultValences lists the allowed valences of neutral atoms, ascending.
// Elements absent from the table are not valence-checked.
var defaultValences = map[int][]int{
	1:  {1},
	5:  {3},
	6:  {4},
	7:  {3, 5},
	8:  {2},
	9:  {1},
	14: {4},
	15: {3, 5},
	16: {2, 4, 6},
	17: {1},
	33: {3, 5},
	34: {2, 4, 6},
	35: {1},
	52: {2, 4, 6},
	53: {1, 3, 5},
}

// allowedValences returns the valence list for an atom, shifting charged
// atoms to their isoelectronic neutral element (N+ behaves like C, O- like F).
func allowedValences(atomicNum, charge int) []int {
	if atomicNum <= 0 {
		return nil
	}
	z := atomicNum - charge
	if charge != 0 {
		if _, ok := defaultValences[atomicNum]; !ok {
			return nil
		}
	}
	return defaultValences[z]
}
