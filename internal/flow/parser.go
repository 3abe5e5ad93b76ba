package flow

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

// toolCallPattern matches tool tokens embedded in model output:
// {tool_name} or {tool_name:arg1,arg2,key=value}, optionally double-braced.
// The double-brace alternative comes first and requires a double close, so
// {{tool}} is consumed whole and a single-open token never swallows an
// extra closing brace.
var toolCallPattern = regexp.MustCompile(`\{\{([a-zA-Z_]+)(?::([^}]+))?\}\}|\{([a-zA-Z_]+)(?::([^}]+))?\}`)

// ParseToolCalls extracts tool tokens from model output. It returns the text
// with every token removed plus the parsed calls in order of appearance.
// Text with no tokens is returned unchanged.
func ParseToolCalls(text string) (string, []models.ParsedToolCall) {
	matches := toolCallPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	calls := make([]models.ParsedToolCall, 0, len(matches))
	for _, m := range matches {
		name, rawArgs := m[1], m[2]
		if name == "" {
			name, rawArgs = m[3], m[4]
		}
		call := models.ParsedToolCall{Name: name}
		if rawArgs != "" {
			call.Args, call.Named = parseArgs(rawArgs)
		}
		calls = append(calls, call)
	}

	clean := toolCallPattern.ReplaceAllString(text, "")
	return clean, calls
}

// parseArgs splits a raw argument segment on commas. key=value pairs (split
// once on '=') become named arguments; everything else is positional.
// Surrounding quotes are stripped from values.
func parseArgs(raw string) ([]string, map[string]string) {
	var positional []string
	var named map[string]string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx > 0 {
			key := strings.TrimSpace(part[:idx])
			value := stripQuotes(strings.TrimSpace(part[idx+1:]))
			if named == nil {
				named = make(map[string]string)
			}
			named[key] = value
			continue
		}
		positional = append(positional, stripQuotes(part))
	}
	return positional, named
}

// stripQuotes removes one matching pair of surrounding single or double quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
