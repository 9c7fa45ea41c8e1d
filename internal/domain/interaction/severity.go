// Package interaction holds the drug-interaction domain rules: keyword-based
// severity labelling of free-text descriptions and the frozen label taxonomy.
package interaction

import (
	"strings"

	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// DefaultSevereKeywords are checked first; the first match labels Severe.
var DefaultSevereKeywords = []string{
	"contraindicated", "avoid", "dangerous", "fatal", "death",
	"severe", "serious", "life-threatening", "toxic", "toxicity",
	"hemorrhage", "bleeding", "cardiac arrest", "respiratory",
	"seizure", "coma", "overdose",
}

// DefaultModerateKeywords are checked only when no severe keyword matched.
var DefaultModerateKeywords = []string{
	"caution", "monitor", "may increase", "may decrease",
	"reduce", "adjust", "moderate", "careful", "watch",
	"consider", "potential", "risk", "effect",
}

// SeverityLabeler maps interaction descriptions to severity labels by
// case-insensitive substring match with severe-before-moderate precedence.
// It is stateless and safe for concurrent use.
type SeverityLabeler struct {
	severe   []string
	moderate []string
}

// NewSeverityLabeler builds a labeler over custom keyword lists. Keywords are
// lower-cased; order within a list does not affect the result.
func NewSeverityLabeler(severe, moderate []string) *SeverityLabeler {
	return &SeverityLabeler{severe: lowerAll(severe), moderate: lowerAll(moderate)}
}

// DefaultSeverityLabeler returns a labeler over the built-in lexicon.
func DefaultSeverityLabeler() *SeverityLabeler {
	return NewSeverityLabeler(DefaultSevereKeywords, DefaultModerateKeywords)
}

// Classify labels a description. An empty description is None.
func (l *SeverityLabeler) Classify(description string) itypes.SeverityLabel {
	if strings.TrimSpace(description) == "" {
		return itypes.LabelNone
	}
	text := strings.ToLower(description)
	if containsAny(text, l.severe) {
		return itypes.LabelSevere
	}
	if containsAny(text, l.moderate) {
		return itypes.LabelModerate
	}
	return itypes.LabelNone
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
