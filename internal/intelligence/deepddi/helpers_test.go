package deepddi

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/DDI-Intelligence/internal/domain/interaction"
	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

const (
	aspirinSMILES   = "CC(=O)OC1=CC=CC=C1C(=O)O"
	ibuprofenSMILES = "CC(C)Cc1ccc(cc1)C(C)C(=O)O"
	caffeineSMILES  = "Cn1cnc2c1c(=O)n(C)c(=O)n2C"
	warfarinSMILES  = "CC(=O)CC(c1ccccc1)c1c(O)c2ccccc2oc1=O"

	testFingerprintSize = 64
	testRadius          = 2
)

func testTaxonomy(t *testing.T) *interaction.Taxonomy {
	t.Helper()
	tax, err := interaction.NewTaxonomy(itypes.AllLabels)
	require.NoError(t, err)
	return tax
}

func testArtifact(t *testing.T) *ScoringArtifact {
	t.Helper()
	return &ScoringArtifact{
		FingerprintSize: testFingerprintSize,
		Radius:          testRadius,
		Taxonomy:        testTaxonomy(t),
		DrugIndex: molecule.NewDrugIndex(map[string]string{
			"Aspirin":   aspirinSMILES,
			"DB00945":   aspirinSMILES,
			"Ibuprofen": ibuprofenSMILES,
			"Caffeine":  caffeineSMILES,
			"Warfarin":  warfarinSMILES,
			"Broken":    "C1CC",
		}),
	}
}

// randomModel builds an untrained but fully valid scorer: one hidden ReLU
// layer with batch norm and a linear output layer.
func randomModel(t *testing.T, inputDim, hidden int, classes []itypes.SeverityLabel, seed int64) *MLPModel {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	dense := func(out, in int) Layer {
		l := Layer{Weights: make([][]float64, out), Bias: make([]float64, out)}
		for j := range l.Weights {
			l.Weights[j] = make([]float64, in)
			for k := range l.Weights[j] {
				l.Weights[j][k] = rng.NormFloat64() * 0.5
			}
			l.Bias[j] = rng.NormFloat64() * 0.1
		}
		return l
	}
	h := dense(hidden, inputDim)
	h.Activation = ActivationReLU
	h.BatchNorm = &BatchNorm{
		Gamma:       make([]float64, hidden),
		Beta:        make([]float64, hidden),
		RunningMean: make([]float64, hidden),
		RunningVar:  make([]float64, hidden),
	}
	for j := 0; j < hidden; j++ {
		h.BatchNorm.Gamma[j] = 1 + rng.Float64()*0.1
		h.BatchNorm.Beta[j] = rng.NormFloat64() * 0.1
		h.BatchNorm.RunningMean[j] = rng.NormFloat64() * 0.1
		h.BatchNorm.RunningVar[j] = 1 + rng.Float64()
	}
	out := dense(len(classes), hidden)

	m, err := NewMLPModel(ModelInfo{
		InputDim:   inputDim,
		NumClasses: len(classes),
		Classes:    classes,
		Accuracy:   0.5,
		Version:    "test",
	}, []Layer{h, out})
	require.NoError(t, err)
	return m
}

// fixedScorer returns the same distribution for every input.
type fixedScorer struct {
	inputDim int
	probs    []float64
	calls    int
}

func (s *fixedScorer) Score(feature molecule.Vector) ([]float64, error) {
	s.calls++
	return append([]float64(nil), s.probs...), nil
}

func (s *fixedScorer) InputDim() int   { return s.inputDim }
func (s *fixedScorer) NumClasses() int { return len(s.probs) }
