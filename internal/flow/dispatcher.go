package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

// Envelope prefixes for state-manipulation tool outputs. The model is
// instructed to treat these as machine signals, never to show them verbatim.
const (
	InternalStatusPrefix = "Internal_Status: "
	InternalErrorPrefix  = "Internal_Error: "
)

// callShape declares how a tool is invoked: its canonical parameter names,
// whether the user id is injected implicitly, and whether its output is
// wrapped in internal envelopes.
type callShape struct {
	params     []string // canonical business parameter names, nil when variadic
	variadic   bool
	injectUser bool
	internal   bool
}

// defaultCallShapes is the calling-convention table for the default toolset.
var defaultCallShapes = map[string]callShape{
	"get_user_step":        {params: nil, injectUser: true, internal: true},
	"set_user_step":        {params: []string{"step"}, injectUser: true, internal: true},
	"advance_to_next_step": {params: nil, injectUser: true, internal: true},
	"update_user_info":     {variadic: true, injectUser: true, internal: true},
	"get_bootcamp_info":    {params: nil},
	"get_available_sessions": {params: nil},
	"get_program_details":  {params: []string{"program"}},
	"search_programs":      {params: []string{"query"}},
	"register_student": {
		params:     []string{"location", "first_name", "last_name", "email", "phone", "age"},
		injectUser: true,
	},
}

// Dispatcher resolves parsed tool calls against the registry and executes
// them under each tool's declared calling shape.
type Dispatcher struct {
	registry *ToolRegistry
	shapes   map[string]callShape
}

// NewDispatcher creates a dispatcher over the given registry with the
// default calling-convention table.
func NewDispatcher(registry *ToolRegistry) *Dispatcher {
	shapes := make(map[string]callShape, len(defaultCallShapes))
	for name, shape := range defaultCallShapes {
		shapes[name] = shape
	}
	return &Dispatcher{registry: registry, shapes: shapes}
}

// Dispatch executes one parsed tool call for a user and returns the textual
// result fed back to the model. Failures come back as localized error text
// (or Internal_Error envelopes for state tools), never as Go errors, so a
// bad call degrades the conversation instead of aborting it.
func (d *Dispatcher) Dispatch(ctx context.Context, waID, lang string, call models.ParsedToolCall) string {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		slog.Warn("Dispatcher.Dispatch: unknown tool", "tool", call.Name, "waID", waID)
		return localizef("unknown_tool", lang, call.Name)
	}

	shape, ok := d.shapes[call.Name]
	if !ok {
		shape = callShape{variadic: true}
	}

	args, err := bindArgs(shape, call)
	if err != nil {
		var mismatch *arityMismatchError
		if errors.As(err, &mismatch) {
			slog.Debug("Dispatcher.Dispatch: arity mismatch", "tool", call.Name, "expected", mismatch.expected, "received", mismatch.received)
			msg := localizef("arity_mismatch", lang, call.Name, mismatch.expected, mismatch.received)
			if shape.internal {
				return InternalErrorPrefix + msg
			}
			return msg
		}
		return localizef("tool_failed", lang, call.Name)
	}

	out, err := tool.Handler(ctx, waID, args)
	if err != nil {
		slog.Error("Dispatcher.Dispatch: tool execution failed", "tool", call.Name, "waID", waID, "error", err)
		msg := d.errorMessage(call.Name, lang, err)
		if shape.internal {
			return InternalErrorPrefix + err.Error()
		}
		return msg
	}
	slog.Debug("Dispatcher.Dispatch: tool executed", "tool", call.Name, "waID", waID)
	if shape.internal {
		return InternalStatusPrefix + out
	}
	return out
}

// errorMessage maps well-known failures to localized user-facing text.
func (d *Dispatcher) errorMessage(toolName, lang string, err error) string {
	switch {
	case errors.Is(err, store.ErrAlreadyRegistered):
		return localize("already_registered", lang)
	case errors.Is(err, store.ErrNoSpotsAvailable):
		return localize("no_spots_available", lang)
	case errors.Is(err, store.ErrProgramNotFound):
		return localize("program_not_found", lang)
	default:
		return localizef("tool_failed", lang, toolName)
	}
}

type arityMismatchError struct {
	expected int
	received int
}

func (e *arityMismatchError) Error() string {
	return "tool arity mismatch"
}

// bindArgs assembles the final argument list for a call. Named arguments
// fill their matching declared parameters; positional arguments fill the
// remaining slots in order. Variadic tools get positionals followed by
// named pairs flattened as "key=value".
func bindArgs(shape callShape, call models.ParsedToolCall) ([]string, error) {
	if shape.variadic {
		args := append([]string(nil), call.Args...)
		for key, value := range call.Named {
			args = append(args, key+"="+value)
		}
		return args, nil
	}

	expected := len(shape.params)
	received := len(call.Args) + len(call.Named)
	if received != expected {
		return nil, &arityMismatchError{expected: expected, received: received}
	}

	args := make([]string, 0, expected)
	positional := call.Args
	for _, param := range shape.params {
		if value, ok := call.Named[param]; ok {
			args = append(args, value)
			continue
		}
		if len(positional) == 0 {
			// A named argument did not match any declared parameter.
			return nil, &arityMismatchError{expected: expected, received: len(call.Args)}
		}
		args = append(args, positional[0])
		positional = positional[1:]
	}
	if len(positional) > 0 {
		return nil, &arityMismatchError{expected: expected, received: received}
	}
	return args, nil
}
