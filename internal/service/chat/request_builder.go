package chat

import (
	"fmt"

	"parley/internal/capabilities"
	"parley/internal/domain"
	chatModels "parley/internal/domain/models/chat"
	"parley/internal/service/chat/stream"
)

// BuildInput carries everything the request builder needs for one payload.
type BuildInput struct {
	Model       string
	UseThinking bool

	History []chatModels.Message
	System  []chatModels.SystemMessage
	Tools   []chatModels.ToolDefinition

	ToolChoice *chatModels.ToolChoice

	UseCache      bool
	CacheTools    bool
	CacheSystem   bool
	CacheMessages bool
}

// RequestBuilder assembles outgoing request payloads: merges and trims the
// history snapshot, applies the cache-marking policy, and resolves
// per-model parameters.
type RequestBuilder struct {
	capabilities *capabilities.Registry
}

// NewRequestBuilder creates a builder over the model parameter table.
func NewRequestBuilder(registry *capabilities.Registry) *RequestBuilder {
	return &RequestBuilder{capabilities: registry}
}

// Build assembles the payload. Misconfiguration (empty model, named tool
// choice without a name) is a fatal build error.
func (b *RequestBuilder) Build(in BuildInput) (*stream.Request, error) {
	if in.Model == "" {
		return nil, fmt.Errorf("%w: model is required", domain.ErrValidation)
	}
	if in.ToolChoice != nil {
		if err := in.ToolChoice.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	messages := projectHistory(in.History)
	messages = mergeAdjacentRoles(messages)
	messages = trimTrailingNonUser(messages)

	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no user message to send", domain.ErrValidation)
	}

	tools := make([]chatModels.ToolDefinition, len(in.Tools))
	copy(tools, in.Tools)
	system := make([]chatModels.SystemMessage, len(in.System))
	copy(system, in.System)

	if in.UseCache {
		applyCachePolicy(&in, messages, tools, system)
	}

	params := b.capabilities.Resolve(in.Model, in.UseThinking)

	req := &stream.Request{
		Model:      in.Model,
		MaxTokens:  params.MaxTokens,
		Messages:   messages,
		System:     system,
		Tools:      tools,
		ToolChoice: in.ToolChoice,
		Stream:     true,
	}

	temperature := params.Temperature
	req.Temperature = &temperature

	if params.UseThinking {
		req.Thinking = &stream.Thinking{Type: "enabled", BudgetTokens: params.ThinkingBudget}
	}

	return req, nil
}

// projectHistory copies history messages onto the wire shape. Blocks are
// copied so cache marking never mutates the orchestrator's history.
func projectHistory(history []chatModels.Message) []stream.RequestMessage {
	messages := make([]stream.RequestMessage, 0, len(history))
	for _, m := range history {
		blocks := make([]chatModels.ContentBlock, len(m.Content))
		copy(blocks, m.Content)
		messages = append(messages, stream.RequestMessage{Role: m.Role, Content: blocks})
	}
	return messages
}

// mergeAdjacentRoles folds consecutive same-role messages into one. The
// deferred tool-pair flow appends the buffered tool_use message right
// after the already-committed text portion of the same turn; the wire
// format requires strict alternation.
func mergeAdjacentRoles(messages []stream.RequestMessage) []stream.RequestMessage {
	var out []stream.RequestMessage
	for _, m := range messages {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			out[len(out)-1].Content = append(out[len(out)-1].Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// trimTrailingNonUser removes trailing messages so the request ends with a
// user turn.
func trimTrailingNonUser(messages []stream.RequestMessage) []stream.RequestMessage {
	end := len(messages)
	for end > 0 && messages[end-1].Role != chatModels.RoleUser {
		end--
	}
	return messages[:end]
}

// applyCachePolicy marks at most one tool, at most one system message and
// at most two user-message blocks as ephemeral, clearing stale markers so
// no other breakpoints survive in the outgoing payload.
func applyCachePolicy(in *BuildInput, messages []stream.RequestMessage, tools []chatModels.ToolDefinition, system []chatModels.SystemMessage) {
	if in.CacheTools && len(tools) > 0 {
		for i := range tools {
			tools[i].CacheControl = nil
		}
		tools[len(tools)-1].CacheControl = chatModels.EphemeralCache(chatModels.CacheTTL5Min)
	}

	if in.CacheSystem && len(system) > 0 {
		for i := range system {
			system[i].CacheControl = nil
		}
		system[len(system)-1].CacheControl = chatModels.EphemeralCache(chatModels.CacheTTL5Min)
	}

	if !in.CacheMessages {
		return
	}

	// Locate the last and second-to-last user messages.
	var userIndices []int
	for i := range messages {
		if messages[i].Role == chatModels.RoleUser {
			userIndices = append(userIndices, i)
		}
	}

	marked := make(map[int]bool)
	if n := len(userIndices); n > 0 {
		marked[userIndices[n-1]] = true
		if n > 1 {
			marked[userIndices[n-2]] = true
		}
	}

	for _, idx := range userIndices {
		for j := range messages[idx].Content {
			block := &messages[idx].Content[j]

			if marked[idx] && (block.Kind == chatModels.BlockKindText || block.Kind == chatModels.BlockKindToolResult) {
				block.CacheControl = chatModels.EphemeralCache(chatModels.CacheTTL5Min)
				marked[idx] = false // first eligible block only
				continue
			}
			block.CacheControl = nil
		}
	}
}
