package chat

import "context"

// ToolHandler executes one named tool. Handlers run concurrently with
// further conversation; their results come back through the orchestrator's
// IngestToolResults.
type ToolHandler interface {
	// Name returns the tool name as offered to the model.
	Name() string

	// Execute runs the tool with the model-provided input object and
	// returns output lines. A returned error becomes an is_error
	// tool_result; the model is expected to recover.
	Execute(ctx context.Context, input map[string]interface{}) ([]string, error)
}

// ToolOutcome is one finished tool execution, keyed by the tool-use id the
// model assigned.
type ToolOutcome struct {
	ToolUseID   string
	OutputLines []string
	IsError     bool
}
