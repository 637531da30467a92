package topic

import "strings"

// Classifier infers a subject tag from a user message. Implementations must be
// deterministic; the dialogue pipeline relies on stable classification to
// resolve follow-ups.
type Classifier interface {
	Classify(message string) (tag string, ok bool)
}

// keywordRule maps trigger words to the subject tag the model was trained with.
type keywordRule struct {
	tag      string
	keywords []string
}

// KeywordClassifier matches messages against a fixed keyword table covering the
// physics and chemistry curriculum the model was fine-tuned on. First matching
// rule wins, so more specific subjects come before broader ones.
type KeywordClassifier struct {
	rules []keywordRule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		rules: []keywordRule{
			{tag: "vector addition", keywords: []string{"vector", "addition", "component"}},
			{tag: "newton laws", keywords: []string{"newton", "law", "force", "motion"}},
			{tag: "energy", keywords: []string{"energy", "work", "power", "kinetic", "potential"}},
			{tag: "projectile motion", keywords: []string{"projectile", "trajectory"}},
			{tag: "kinematics", keywords: []string{"speed", "velocity", "acceleration"}},
			{tag: "acids and bases", keywords: []string{"ph", "acid", "base", "hydrogen"}},
			{tag: "solutions", keywords: []string{"molarity", "concentration", "solution"}},
			{tag: "chemical bonding", keywords: []string{"bond", "ionic", "covalent", "electron"}},
		},
	}
}

func (c *KeywordClassifier) Classify(message string) (string, bool) {
	words := tokenize(message)
	for _, rule := range c.rules {
		for _, kw := range rule.keywords {
			for _, w := range words {
				if matchesKeyword(w, kw) {
					return rule.tag, true
				}
			}
		}
	}
	return "", false
}

func tokenize(message string) []string {
	lower := strings.ToLower(message)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})
}

// matchesKeyword accepts simple inflections so "Newton's laws" still resolves
// to the newton tag.
func matchesKeyword(word, keyword string) bool {
	word = strings.TrimSuffix(word, "'s")
	word = strings.TrimSuffix(word, "'")
	if word == keyword {
		return true
	}
	return word == keyword+"s" || word == keyword+"es"
}
