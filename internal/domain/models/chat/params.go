package chat

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Tool choice modes
const (
	ToolChoiceAuto  = "auto"
	ToolChoiceAny   = "any"
	ToolChoiceNamed = "tool"
)

// ToolChoice controls how the model may pick tools.
// Name is required when Type is ToolChoiceNamed.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Validate checks the mode/name combination. A named choice without a name
// is a fatal request-build error.
func (tc ToolChoice) Validate() error {
	switch tc.Type {
	case ToolChoiceAuto, ToolChoiceAny:
		return nil
	case ToolChoiceNamed:
		if tc.Name == "" {
			return fmt.Errorf("tool choice %q requires a tool name", ToolChoiceNamed)
		}
		return nil
	default:
		return fmt.Errorf("unsupported tool choice type: %q", tc.Type)
	}
}

// RequestParams holds per-request generation parameters and cache policy.
type RequestParams struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	UseThinking    bool
	ThinkingBudget int

	ToolChoice *ToolChoice

	UseCache      bool
	CacheTools    bool
	CacheSystem   bool
	CacheMessages bool

	Stream bool
}

// Validate checks the parameter set before a request is built.
func (p RequestParams) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.Model, validation.Required),
		validation.Field(&p.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&p.Temperature, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return err
	}

	if p.UseThinking && p.ThinkingBudget <= 0 {
		return fmt.Errorf("thinking enabled without a token budget")
	}

	if p.ToolChoice != nil {
		if err := p.ToolChoice.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Usage accumulates token counters across a stream.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Add folds a usage delta into the running totals. Input-side counters are
// snapshots (take the max); output tokens are cumulative per the wire
// format, so the latest value wins.
func (u *Usage) Add(delta Usage) {
	if delta.InputTokens > u.InputTokens {
		u.InputTokens = delta.InputTokens
	}
	if delta.OutputTokens > u.OutputTokens {
		u.OutputTokens = delta.OutputTokens
	}
	if delta.CacheCreationInputTokens > u.CacheCreationInputTokens {
		u.CacheCreationInputTokens = delta.CacheCreationInputTokens
	}
	if delta.CacheReadInputTokens > u.CacheReadInputTokens {
		u.CacheReadInputTokens = delta.CacheReadInputTokens
	}
}
