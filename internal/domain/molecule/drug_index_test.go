package molecule

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

const referenceCSV = `Name,Drug name,Smiles
Aspirin,DB00945,CC(=O)Oc1ccccc1C(=O)O
Ibuprofen,DB01050,CC(C)Cc1ccc(cc1)C(C)C(=O)O
Warfarin,DB00682,CC(=O)CC(c1ccccc1)c1c(O)c2ccccc2oc1=O
NoStructure,DB99999,
`

func TestLoadDrugIndexCSV(t *testing.T) {
	idx, err := LoadDrugIndexCSV(strings.NewReader(referenceCSV))
	require.NoError(t, err)

	assert.Equal(t, 6, idx.Len())

	s, err := idx.Resolve("Aspirin")
	require.NoError(t, err)
	assert.Equal(t, aspirinSMILES, s)

	s, err = idx.Resolve("DB00945")
	require.NoError(t, err)
	assert.Equal(t, aspirinSMILES, s, "identifier and name resolve to the same structure")

	_, ok := idx.Lookup("NoStructure")
	assert.False(t, ok)
}

func TestDrugIndex_ResolveIsCaseSensitive(t *testing.T) {
	idx, err := LoadDrugIndexCSV(strings.NewReader(referenceCSV))
	require.NoError(t, err)

	_, err = idx.Resolve("aspirin")
	require.Error(t, err)
	assert.True(t, errors.IsUnknownDrug(err))
	assert.Contains(t, err.Error(), `"aspirin"`)
}

func TestLoadDrugIndexCSV_MissingColumn(t *testing.T) {
	_, err := LoadDrugIndexCSV(strings.NewReader("Name,Smiles\nAspirin,CCO\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCorpusSchema))
	assert.Contains(t, err.Error(), "Drug name")
}

func TestLoadDrugIndexCSV_Empty(t *testing.T) {
	_, err := LoadDrugIndexCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCorpusSchema))
}

func TestLoadDrugIndexCSV_LaterRowWins(t *testing.T) {
	csv := "Name,Drug name,Smiles\nX,ID1,CCO\nX,ID2,CCN\n"
	idx, err := LoadDrugIndexCSV(strings.NewReader(csv))
	require.NoError(t, err)
	s, _ := idx.Resolve("X")
	assert.Equal(t, "CCN", s)
	s, _ = idx.Resolve("ID1")
	assert.Equal(t, "CCO", s)
}

func TestDrugIndex_Search(t *testing.T) {
	idx, err := LoadDrugIndexCSV(strings.NewReader(referenceCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"Aspirin"}, idx.Search("SPIR", 0))
	assert.Equal(t, []string{"DB00682", "DB00945", "DB01050"}, idx.Search("db0", 0))
	assert.Empty(t, idx.Search("a", 0))
	assert.Empty(t, idx.Search("", 0))
	assert.Empty(t, idx.Search("zzz", 0))
}

func TestDrugIndex_SearchCap(t *testing.T) {
	m := make(map[string]string)
	for i := 0; i < 50; i++ {
		m[fmt.Sprintf("drug-%02d", i)] = "C"
	}
	idx := NewDrugIndex(m)

	got := idx.Search("drug", 0)
	require.Len(t, got, MaxSearchResults)
	assert.Equal(t, "drug-00", got[0])
	assert.Equal(t, "drug-19", got[19])

	assert.Len(t, idx.Search("drug", 5), 5)
	assert.Len(t, idx.Search("drug", 100), MaxSearchResults)
}

func TestDrugIndex_EqualAndEntries(t *testing.T) {
	a := NewDrugIndex(map[string]string{"A": "C", "B": "CC", "": "X", "E": ""})
	b := NewDrugIndex(a.Entries())
	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Equal(b))
	assert.Equal(t, []string{"A", "B"}, a.Keys())

	c := NewDrugIndex(map[string]string{"A": "C", "B": "CCC"})
	assert.False(t, a.Equal(c))

	var nilIdx *DrugIndex
	assert.False(t, a.Equal(nilIdx))
}
