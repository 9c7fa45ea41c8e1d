package deepddi

import (
	"encoding/json"
	"io"
	"math"

	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// ModelName identifies the scorer in metrics and logs.
const ModelName = "deepddi"

// DefaultBatchNormEps matches the epsilon the trainer uses.
const DefaultBatchNormEps = 1e-5

// InteractionScorer maps a pair feature to a probability distribution over
// the taxonomy. Implementations must be deterministic and safe for
// concurrent use.
type InteractionScorer interface {
	Score(feature molecule.Vector) ([]float64, error)
	InputDim() int
	NumClasses() int
}

// ---------------------------------------------------------------------------
// Model document
// ---------------------------------------------------------------------------

// ModelInfo describes the exported scorer.
type ModelInfo struct {
	InputDim   int                    `json:"input_dim"`
	NumClasses int                    `json:"num_classes"`
	Classes    []itypes.SeverityLabel `json:"classes"`
	Accuracy   float64                `json:"accuracy"`
	Version    string                 `json:"version,omitempty"`
}

// Activation names the nonlinearity applied after a layer.
type Activation string

const (
	ActivationReLU   Activation = "relu"
	ActivationLinear Activation = "linear"
)

// BatchNorm holds evaluation-mode batch normalization statistics.
type BatchNorm struct {
	Gamma       []float64 `json:"gamma"`
	Beta        []float64 `json:"beta"`
	RunningMean []float64 `json:"running_mean"`
	RunningVar  []float64 `json:"running_var"`
	Eps         float64   `json:"eps,omitempty"`
}

// Layer is one fully connected stage: affine, optional batch norm, then
// activation. Weights are indexed [neuron][input].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	BatchNorm  *BatchNorm  `json:"batch_norm,omitempty"`
	Activation Activation  `json:"activation,omitempty"`
}

func (l *Layer) inDim() int {
	if len(l.Weights) == 0 {
		return 0
	}
	return len(l.Weights[0])
}

func (l *Layer) outDim() int { return len(l.Weights) }

type modelDocument struct {
	Info   ModelInfo `json:"model_info"`
	Layers []Layer   `json:"layers"`
}

// ---------------------------------------------------------------------------
// MLPModel
// ---------------------------------------------------------------------------

// MLPModel is a feed-forward scorer ending in a softmax over the taxonomy.
// Dropout is a training-only stage and has no representation here. The
// model is immutable once loaded.
type MLPModel struct {
	info   ModelInfo
	layers []Layer
}

// NewMLPModel validates the layer chain against info and returns the model.
func NewMLPModel(info ModelInfo, layers []Layer) (*MLPModel, error) {
	if len(layers) == 0 {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "model has no layers")
	}
	if info.NumClasses != len(info.Classes) {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "num_classes does not match classes").
			WithDetailf("num_classes=%d classes=%d", info.NumClasses, len(info.Classes))
	}

	prev := info.InputDim
	for i := range layers {
		l := &layers[i]
		if l.outDim() == 0 || l.inDim() != prev {
			return nil, errors.New(errors.ErrCodeArtifactCorrupt, "layer input width mismatch").
				WithDetailf("layer=%d want=%d got=%d", i, prev, l.inDim())
		}
		for j, row := range l.Weights {
			if len(row) != prev {
				return nil, errors.New(errors.ErrCodeArtifactCorrupt, "ragged weight matrix").
					WithDetailf("layer=%d neuron=%d", i, j)
			}
		}
		out := l.outDim()
		if len(l.Bias) != out {
			return nil, errors.New(errors.ErrCodeArtifactCorrupt, "bias width mismatch").
				WithDetailf("layer=%d want=%d got=%d", i, out, len(l.Bias))
		}
		if bn := l.BatchNorm; bn != nil {
			if len(bn.Gamma) != out || len(bn.Beta) != out || len(bn.RunningMean) != out || len(bn.RunningVar) != out {
				return nil, errors.New(errors.ErrCodeArtifactCorrupt, "batch norm width mismatch").
					WithDetailf("layer=%d", i)
			}
			if bn.Eps <= 0 {
				bn.Eps = DefaultBatchNormEps
			}
		}
		switch l.Activation {
		case "":
			l.Activation = ActivationLinear
		case ActivationReLU, ActivationLinear:
		default:
			return nil, errors.New(errors.ErrCodeArtifactCorrupt, "unsupported activation").
				WithDetailf("layer=%d activation=%q", i, l.Activation)
		}
		prev = out
	}
	if prev != info.NumClasses {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "output width does not match num_classes").
			WithDetailf("want=%d got=%d", info.NumClasses, prev)
	}
	return &MLPModel{info: info, layers: layers}, nil
}

// ReadModel parses a model document.
func ReadModel(r io.Reader) (*MLPModel, error) {
	var doc modelDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "decode model")
	}
	return NewMLPModel(doc.Info, doc.Layers)
}

// WriteModel serializes m in the layout ReadModel accepts.
func WriteModel(w io.Writer, m *MLPModel) error {
	if err := json.NewEncoder(w).Encode(modelDocument{Info: m.info, Layers: m.layers}); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode model")
	}
	return nil
}

// Info returns the model description.
func (m *MLPModel) Info() ModelInfo { return m.info }

// InputDim implements InteractionScorer.
func (m *MLPModel) InputDim() int { return m.info.InputDim }

// NumClasses implements InteractionScorer.
func (m *MLPModel) NumClasses() int { return m.info.NumClasses }

// Score runs the forward pass and returns the softmax distribution in
// class index order.
func (m *MLPModel) Score(feature molecule.Vector) ([]float64, error) {
	if len(feature) != m.info.InputDim {
		return nil, errors.FeatureShape(m.info.InputDim, len(feature))
	}

	current := make([]float64, len(feature))
	for i, v := range feature {
		current[i] = float64(v)
	}
	for i := range m.layers {
		current = m.layers[i].forward(current)
	}
	return softmax(current), nil
}

func (l *Layer) forward(in []float64) []float64 {
	out := make([]float64, l.outDim())
	for j, row := range l.Weights {
		sum := l.Bias[j]
		for k, x := range in {
			if x == 0 {
				continue
			}
			sum += row[k] * x
		}
		if bn := l.BatchNorm; bn != nil {
			sum = (sum-bn.RunningMean[j])/math.Sqrt(bn.RunningVar[j]+bn.Eps)*bn.Gamma[j] + bn.Beta[j]
		}
		if l.Activation == ActivationReLU {
			sum = relu(sum)
		}
		out[j] = sum
	}
	return out
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// softmax is shifted by the max logit for numerical stability.
func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// BindScorer checks that scorer was trained against artifact's feature space.
// A mismatch means a broken deployment and must stop startup.
func BindScorer(artifact *ScoringArtifact, scorer InteractionScorer) error {
	if artifact == nil {
		return errors.ArtifactNotLoaded("scoring artifact")
	}
	if scorer == nil {
		return errors.ArtifactNotLoaded("scorer parameters")
	}
	if scorer.InputDim() != artifact.FeatureWidth() {
		return errors.FeatureShape(artifact.FeatureWidth(), scorer.InputDim())
	}
	if scorer.NumClasses() != artifact.Taxonomy.Len() {
		return errors.New(errors.ErrCodeTaxonomyMismatch, "scorer output width does not match taxonomy").
			WithDetailf("want=%d got=%d", artifact.Taxonomy.Len(), scorer.NumClasses())
	}
	if m, ok := scorer.(*MLPModel); ok {
		for i, c := range m.info.Classes {
			if artifact.Taxonomy.Label(i) != c {
				return errors.New(errors.ErrCodeTaxonomyMismatch, "scorer classes do not match taxonomy").
					WithDetailf("index=%d want=%s got=%s", i, artifact.Taxonomy.Label(i), c)
			}
		}
	}
	return nil
}
