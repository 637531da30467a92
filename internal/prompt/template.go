package prompt

import "strings"

// The tutor model was fine-tuned against this exact instruction/response
// template. The literals below are a wire contract with the model weights:
// changing a label or a newline measurably degrades output quality.
const (
	instructionMarker = "### Instruction:\n"
	responseMarker    = "### Response:\n"
	defaultTopicLabel = "the previous topic"
)

// Render formats a user message into the training template. With an empty
// contextBlock the output is the canonical two-section prompt. With context it
// is the continuing-conversation variant carrying the prior turns verbatim.
// Pure and total: any string input yields a prompt.
func Render(userText, contextBlock, topicLabel string) string {
	userText = strings.TrimSpace(userText)

	if contextBlock == "" {
		var b strings.Builder
		b.WriteString(instructionMarker)
		b.WriteString(userText)
		b.WriteString("\n\n")
		b.WriteString(responseMarker)
		return b.String()
	}

	if strings.TrimSpace(topicLabel) == "" {
		topicLabel = defaultTopicLabel
	}

	var b strings.Builder
	b.WriteString(instructionMarker)
	b.WriteString("You are continuing a conversation about ")
	b.WriteString(topicLabel)
	b.WriteString(". ")
	b.WriteString("The user is asking for a follow-up response related to this topic.\n\n")
	b.WriteString("Recent conversation:\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\n")
	b.WriteString("User's follow-up request: ")
	b.WriteString(userText)
	b.WriteString("\n\n")
	b.WriteString("Please provide a response about ")
	b.WriteString(topicLabel)
	b.WriteString(" that addresses their request.\n\n")
	b.WriteString(responseMarker)
	return b.String()
}
