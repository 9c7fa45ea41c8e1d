package deepddi

import (
	"fmt"

	"github.com/turtacn/DDI-Intelligence/internal/domain/interaction"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// Risk message ladder thresholds. All comparisons are strict.
const (
	severeDangerThreshold   = 0.7
	severeHighRiskThreshold = 0.5
	moderateCautionThresh   = 0.6
	moderatePotentialThresh = 0.4
	noneSafeThreshold       = 0.7

	confidenceHighPercent   = 80.0
	confidenceMediumPercent = 60.0

	riskScoreScale = 10.0
)

const (
	MessageDangerous   = "Dangerous combination: avoid taking these drugs together. Consult your healthcare provider immediately."
	MessageHighRisk    = "High risk of severe interaction: use extreme caution and medical supervision."
	MessageModerate    = "Moderate risk: use with caution. Monitor for side effects and consult healthcare provider."
	MessagePotential   = "Potential interaction: consider monitoring. Discuss with your healthcare provider."
	MessageSafe        = "Safe combination: no major interaction detected. Always follow prescribed dosages."
	MessageUncertain   = "Uncertain prediction: consult healthcare provider before combining these medications."
	smilesPairFallback = "Drug A + Drug B"
)

var recommendations = map[itypes.SeverityTier][]string{
	itypes.TierHigh: {
		"Avoid this drug combination if possible",
		"Consult your healthcare provider immediately",
		"Do not start or stop medications without medical supervision",
		"Monitor for serious adverse effects",
		"Consider alternative medications",
	},
	itypes.TierModerate: {
		"Use this combination with caution",
		"Monitor for side effects regularly",
		"Inform your healthcare provider about all medications",
		"Follow prescribed dosages carefully",
		"Report any unusual symptoms immediately",
	},
	itypes.TierLow: {
		"This combination appears safe",
		"Continue following prescribed dosages",
		"Maintain regular check-ups with your healthcare provider",
		"Report any unexpected side effects",
	},
}

var descriptions = map[itypes.SeverityLabel]string{
	itypes.LabelSevere: "The combination of %s has been identified as having a severe interaction risk. " +
		"This combination may lead to serious adverse effects including increased toxicity, reduced therapeutic efficacy, " +
		"or life-threatening complications. Immediate medical consultation is strongly recommended.",
	itypes.LabelModerate: "The combination of %s shows a moderate interaction risk. " +
		"This combination may result in altered drug effectiveness or increased side effects. " +
		"Close monitoring and possible dose adjustments may be necessary. Consult your healthcare provider for guidance.",
	itypes.LabelNone: "The combination of %s appears to have minimal interaction risk based on current analysis. " +
		"However, individual patient factors may vary. Always follow prescribed dosages and consult your healthcare " +
		"provider if you experience any unusual symptoms.",
}

var mechanisms = map[itypes.SeverityLabel]string{
	itypes.LabelSevere: "The drugs may interact through multiple pathways including pharmacokinetic interactions " +
		"(affecting absorption, distribution, metabolism, or excretion) and pharmacodynamic interactions " +
		"(affecting drug action at target sites). These interactions can lead to synergistic toxicity or " +
		"antagonistic therapeutic effects.",
	itypes.LabelModerate: "The drugs may interact through shared metabolic pathways or have additive effects on " +
		"certain physiological systems. This can result in altered drug concentrations or enhanced/reduced " +
		"therapeutic or adverse effects.",
	itypes.LabelNone: "Based on current pharmacological knowledge, these drugs do not appear to have significant " +
		"interactions through common metabolic pathways or receptor systems. However, rare or individual-specific " +
		"interactions cannot be completely ruled out.",
}

// Sources lists the evidence behind every report.
var Sources = []string{
	"DrugBank Database",
	"AI Model Prediction (DeepDDI)",
	"Pharmacological Literature",
	"Clinical Guidelines",
}

// RiskTranslator turns a probability distribution into a PredictionResult.
// It holds only the frozen taxonomy and is safe for concurrent use.
type RiskTranslator struct {
	taxonomy *interaction.Taxonomy
}

// NewRiskTranslator binds the translator to a taxonomy.
func NewRiskTranslator(taxonomy *interaction.Taxonomy) (*RiskTranslator, error) {
	if taxonomy == nil {
		return nil, errors.ArtifactNotLoaded("label taxonomy")
	}
	return &RiskTranslator{taxonomy: taxonomy}, nil
}

// Translate builds the report for probs, which must follow taxonomy order.
// drugPair labels the description text; empty falls back to "Drug A + Drug B".
func (t *RiskTranslator) Translate(probs []float64, drugPair string) (*itypes.PredictionResult, error) {
	if len(probs) != t.taxonomy.Len() {
		return nil, errors.FeatureShape(t.taxonomy.Len(), len(probs))
	}
	if drugPair == "" {
		drugPair = smilesPairFallback
	}

	idx := Argmax(probs)
	predicted := t.taxonomy.Label(idx)
	severity := SeverityFor(predicted)
	confidence := probs[idx] * 100

	res := &itypes.PredictionResult{
		DrugPair:          drugPair,
		PredictedClass:    predicted,
		ClassIndex:        idx,
		Classes:           t.taxonomy.Labels(),
		RawProbabilities:  append([]float64(nil), probs...),
		Probabilities:     make(map[itypes.SeverityLabel]float64, len(probs)),
		RiskScore:         probs[idx] * riskScoreScale,
		Severity:          severity,
		InteractionExists: severity != itypes.TierLow,
		Confidence:        confidence,
		ConfidenceTier:    ConfidenceFor(confidence),
		RiskMessage:       t.riskMessage(probs),
		Recommendations:   Recommendations(severity),
		Description:       describe(descriptions, predicted, drugPair),
		Mechanism:         lookupText(mechanisms, predicted),
		Sources:           append([]string(nil), Sources...),
	}
	for i, p := range probs {
		res.Probabilities[t.taxonomy.Label(i)] = p * 100
	}
	return res, nil
}

// Argmax returns the index of the largest value. Ties go to the lower index.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// SeverityFor maps a predicted class to its tier.
func SeverityFor(label itypes.SeverityLabel) itypes.SeverityTier {
	switch label {
	case itypes.LabelSevere:
		return itypes.TierHigh
	case itypes.LabelModerate:
		return itypes.TierModerate
	default:
		return itypes.TierLow
	}
}

// ConfidenceFor buckets a percentage.
func ConfidenceFor(percent float64) itypes.ConfidenceTier {
	switch {
	case percent > confidenceHighPercent:
		return itypes.ConfidenceHigh
	case percent > confidenceMediumPercent:
		return itypes.ConfidenceMedium
	default:
		return itypes.ConfidenceLow
	}
}

// Recommendations returns a copy of the fixed list for tier. Unknown tiers
// get the Moderate list.
func Recommendations(tier itypes.SeverityTier) []string {
	list, ok := recommendations[tier]
	if !ok {
		list = recommendations[itypes.TierModerate]
	}
	return append([]string(nil), list...)
}

// riskMessage walks the ladder against the raw per-class probabilities. A
// class absent from the taxonomy counts as zero. Order matters: later
// checks only run when earlier ones fail.
func (t *RiskTranslator) riskMessage(probs []float64) string {
	severe := t.prob(probs, itypes.LabelSevere)
	moderate := t.prob(probs, itypes.LabelModerate)
	none := t.prob(probs, itypes.LabelNone)

	switch {
	case severe > severeDangerThreshold:
		return MessageDangerous
	case severe > severeHighRiskThreshold:
		return MessageHighRisk
	case moderate > moderateCautionThresh:
		return MessageModerate
	case moderate > moderatePotentialThresh:
		return MessagePotential
	case none > noneSafeThreshold:
		return MessageSafe
	default:
		return MessageUncertain
	}
}

func (t *RiskTranslator) prob(probs []float64, label itypes.SeverityLabel) float64 {
	i, ok := t.taxonomy.Index(label)
	if !ok {
		return 0
	}
	return probs[i]
}

func lookupText(texts map[itypes.SeverityLabel]string, label itypes.SeverityLabel) string {
	if s, ok := texts[label]; ok {
		return s
	}
	return texts[itypes.LabelModerate]
}

func describe(texts map[itypes.SeverityLabel]string, label itypes.SeverityLabel, pair string) string {
	return fmt.Sprintf(lookupText(texts, label), pair)
}
