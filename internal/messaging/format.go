package messaging

import (
	"regexp"
	"strings"
)

// citationBracketRegex matches citation markers some models embed in output.
var citationBracketRegex = regexp.MustCompile(`【.*?】`)

// boldMarkdownRegex matches markdown double-asterisk bold spans.
var boldMarkdownRegex = regexp.MustCompile(`\*\*(.*?)\*\*`)

// FormatForWhatsApp cleans model output for WhatsApp delivery: citation
// brackets are stripped and markdown bold becomes WhatsApp bold.
func FormatForWhatsApp(text string) string {
	out := citationBracketRegex.ReplaceAllString(text, "")
	out = boldMarkdownRegex.ReplaceAllString(out, "*$1*")
	return strings.TrimSpace(out)
}
