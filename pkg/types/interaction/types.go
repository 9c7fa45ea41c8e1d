// Package interaction defines the drug-interaction Data Transfer Objects and
// enumerations shared by the domain, intelligence and interface layers.
// No domain logic lives here.
package interaction

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// SeverityLabel: training and prediction class
// ─────────────────────────────────────────────────────────────────────────────

// SeverityLabel is the closed set of interaction classes.
type SeverityLabel string

const (
	LabelSevere   SeverityLabel = "Severe"
	LabelModerate SeverityLabel = "Moderate"
	LabelNone     SeverityLabel = "None"
)

// AllLabels lists every label in sorted order, the order a fitted taxonomy
// takes when all three classes are observed.
var AllLabels = []SeverityLabel{LabelModerate, LabelNone, LabelSevere}

// IsValid reports whether l belongs to the closed label set.
func (l SeverityLabel) IsValid() bool {
	switch l {
	case LabelSevere, LabelModerate, LabelNone:
		return true
	}
	return false
}

func (l SeverityLabel) String() string { return string(l) }

// ─────────────────────────────────────────────────────────────────────────────
// SeverityTier, ConfidenceTier: report enumerations
// ─────────────────────────────────────────────────────────────────────────────

// SeverityTier is the clinical tier derived from the predicted class.
type SeverityTier string

const (
	TierHigh     SeverityTier = "High"
	TierModerate SeverityTier = "Moderate"
	TierLow      SeverityTier = "Low"
)

// ConfidenceTier buckets the winning probability.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "High"
	ConfidenceMedium ConfidenceTier = "Medium"
	ConfidenceLow    ConfidenceTier = "Low"
)

// ─────────────────────────────────────────────────────────────────────────────
// PredictionResult: final report
// ─────────────────────────────────────────────────────────────────────────────

// PredictionResult is the translated output of one scored pair. It is never
// persisted by the core; the prediction cache stores it verbatim.
type PredictionResult struct {
	RequestID string `json:"request_id"`
	DrugPair  string `json:"drug_pair"`
	DrugA     string `json:"drug_a,omitempty"`
	DrugB     string `json:"drug_b,omitempty"`
	SMILESA   string `json:"smiles_a"`
	SMILESB   string `json:"smiles_b"`

	PredictedClass SeverityLabel `json:"predicted_class"`
	ClassIndex     int           `json:"class_index"`

	// Classes is the frozen taxonomy order; RawProbabilities follows it.
	Classes          []SeverityLabel `json:"classes"`
	RawProbabilities []float64       `json:"raw_probabilities"`
	// Probabilities holds per-class percentages (0 to 100) keyed by label.
	Probabilities map[SeverityLabel]float64 `json:"probabilities"`

	RiskScore         float64        `json:"risk_score"`
	Severity          SeverityTier   `json:"severity"`
	InteractionExists bool           `json:"interaction_exists"`
	Confidence        float64        `json:"confidence"`
	ConfidenceTier    ConfidenceTier `json:"confidence_level"`
	RiskMessage       string         `json:"risk_message"`
	Recommendations   []string       `json:"recommendations"`

	Description string   `json:"description"`
	Mechanism   string   `json:"mechanism"`
	Sources     []string `json:"sources"`

	ModelVersion string    `json:"model_version,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
	Cached       bool      `json:"cached,omitempty"`
}

// ClassCount is one row of a class distribution report.
type ClassCount struct {
	Label   SeverityLabel `json:"label"`
	Count   int           `json:"count"`
	Percent float64       `json:"percent"`
}
