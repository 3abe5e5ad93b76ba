// Package models defines tool-call structures for the textual tool protocol.
package models

// ParsedToolCall is one tool invocation extracted from model output.
// Positional arguments keep their order of appearance; key=value arguments
// land in Named.
type ParsedToolCall struct {
	Name  string            `json:"name"`
	Args  []string          `json:"args,omitempty"`
	Named map[string]string `json:"named,omitempty"`
}

// ToolResult pairs a tool call with the dispatcher's textual outcome.
type ToolResult struct {
	Call   ParsedToolCall `json:"call"`
	Output string         `json:"output"`
}
