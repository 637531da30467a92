package prompt

import (
	"strings"

	"github.com/aravind45/school-tutor-chatbot/internal/session"
	"github.com/aravind45/school-tutor-chatbot/internal/topic"
)

// Referential phrases that mark a message as continuing the current topic
// rather than opening a new one. Matched as substrings of the lowercased
// message, mirroring how the tutor model's training dialogues were built.
var followUpIndicators = []string{
	// explicit follow-up requests
	"give me analogy", "analogy", "example", "explain more",
	"tell me more", "help me understand", "show me", "can you",

	// creative content requests
	"create a story", "short story", "make a story", "tell a story",
	"give me a story", "story to", "help me remember",
	"rap song", "song", "poem", "rhyme", "give me short",
	"make a rap", "create a rap", "write a song", "any rap",

	// continuation indicators
	"what about", "how about", "also", "and", "but what if", "what if",
	"follow up", "continue", "more details", "elaborate",

	// short requests that likely refer to previous context
	"any", "some", "another", "different", "more",
}

var shortRequestKeywords = []string{"rap", "song", "story", "analogy", "example"}

// shortMessageWords is the word-count threshold below which a message with an
// active topic is treated as a follow-up even without an indicator phrase.
const shortMessageWords = 3

// tutorTextClip bounds how much of a prior tutor answer is surfaced per
// exchange in the context block.
const tutorTextClip = 400

// Decision is the outcome of classifying one incoming message against the
// session state. ContextBlock is empty unless FollowUp is true and history was
// available; Topic is the subject to record with the exchange ("" = unknown).
type Decision struct {
	FollowUp     bool
	ContextBlock string
	Topic        string
}

// Builder decides whether a message is a follow-up and assembles the bounded
// context window surfaced to the model. Pure with respect to its inputs; it
// never mutates session state.
type Builder struct {
	topics       topic.Classifier
	budgetChars  int
	maxExchanges int
}

func NewBuilder(topics topic.Classifier, budgetChars, maxExchanges int) *Builder {
	if budgetChars <= 0 {
		budgetChars = 1600
	}
	if maxExchanges <= 0 {
		maxExchanges = 2
	}
	return &Builder{topics: topics, budgetChars: budgetChars, maxExchanges: maxExchanges}
}

// Build classifies message against the session's turns and current topic.
// Deterministic: identical inputs always yield an identical Decision.
func (b *Builder) Build(turns []session.Turn, currentTopic, message string) Decision {
	trimmed := strings.TrimSpace(message)

	// An explicit new subject always resets the topic and is never a
	// follow-up, regardless of message length.
	if tag, ok := b.topics.Classify(trimmed); ok {
		return Decision{Topic: tag}
	}

	if isFollowUp(trimmed, currentTopic) && len(turns) > 0 {
		return Decision{
			FollowUp:     true,
			ContextBlock: b.buildContext(turns),
			Topic:        currentTopic,
		}
	}
	if isFollowUp(trimmed, currentTopic) {
		// Follow-up phrasing with no history to surface: keep the topic but
		// there is nothing to put in the window.
		return Decision{FollowUp: true, Topic: currentTopic}
	}

	// Fresh message with no recognizable subject: topic becomes unknown.
	return Decision{}
}

func isFollowUp(message, currentTopic string) bool {
	lower := strings.ToLower(message)

	for _, indicator := range followUpIndicators {
		if containsPhrase(lower, indicator) {
			return true
		}
	}

	words := len(strings.Fields(lower))
	if words <= shortMessageWords {
		for _, kw := range shortRequestKeywords {
			if containsPhrase(lower, kw) {
				return true
			}
		}
		if currentTopic != "" {
			return true
		}
	}
	return false
}

// containsPhrase matches an indicator on word boundaries so that "and" does
// not fire inside "sandwich" or "more" inside "sophomore".
func containsPhrase(lower, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '\''
}

// buildContext renders the most recent exchanges oldest-first, clipping long
// tutor answers and dropping oldest pairs until the block fits the budget.
// The budget is a hard bound: the returned block never exceeds it.
func (b *Builder) buildContext(turns []session.Turn) string {
	exchanges := pairExchanges(turns)
	if len(exchanges) > b.maxExchanges {
		exchanges = exchanges[len(exchanges)-b.maxExchanges:]
	}

	for start := 0; start < len(exchanges); start++ {
		block := renderExchanges(exchanges[start:])
		if len(block) <= b.budgetChars {
			return block
		}
	}
	return ""
}

type exchange struct {
	user  string
	tutor string
}

func pairExchanges(turns []session.Turn) []exchange {
	var out []exchange
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role == session.RoleUser && turns[i+1].Role == session.RoleTutor {
			out = append(out, exchange{user: turns[i].Text, tutor: turns[i+1].Text})
			i++
		}
	}
	return out
}

func renderExchanges(exchanges []exchange) string {
	parts := make([]string, 0, 2*len(exchanges))
	for _, ex := range exchanges {
		tutorText := ex.tutor
		if runes := []rune(tutorText); len(runes) > tutorTextClip {
			tutorText = string(runes[:tutorTextClip]) + "..."
		}
		parts = append(parts, "User asked: "+ex.user)
		parts = append(parts, "Assistant explained: "+tutorText)
	}
	return strings.Join(parts, "\n")
}
