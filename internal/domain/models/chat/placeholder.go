package chat

// PlaceholderPrefix is the sentinel that identifies synthetic filler
// messages in persisted data. Kept bit-exact for compatibility with
// histories written before the Placeholder field existed.
const PlaceholderPrefix = "placeholder for missing"

// Placeholder bodies (bit-exact)
const (
	PlaceholderUserText       = "placeholder for missing user text message"
	PlaceholderUserToolResult = "placeholder for missing user tool result message"
	PlaceholderAssistant      = "placeholder for missing assistant message"
)

// KeepAliveMarker identifies keep-alive ping turns by substring match on the
// first text block.
const KeepAliveMarker = "This is a 'ping'"

// KeepAlivePrompt is the exact body sent to refresh the server prompt cache.
const KeepAlivePrompt = "This is a 'ping' to reset cache ttl, respond with 'ping ack'"

// ToolCalledText is synthesized as the text portion of an assistant turn
// that contained only tool_use blocks, so role alternation holds.
const ToolCalledText = "[Tool called]"

// GenerationStoppedMarker is appended to the last text block of a turn that
// was cancelled mid-stream.
const GenerationStoppedMarker = "[generation stopped]"

// ToolResultText leads user messages that carry tool_result blocks, so a
// tool_result is never the first block of a message.
const ToolResultText = "[Tool result]"

// NewUserTextPlaceholder creates the user-text filler message.
func NewUserTextPlaceholder() Message {
	m := NewUserText(PlaceholderUserText)
	m.Placeholder = true
	return m
}

// NewAssistantPlaceholder creates the assistant filler message.
func NewAssistantPlaceholder() Message {
	m := NewAssistantText(PlaceholderAssistant)
	m.Placeholder = true
	return m
}

// NewUserToolResultPlaceholder creates a user filler message answering the
// given tool_use id. The leading text block keeps tool_result out of first
// position per the message invariant.
func NewUserToolResultPlaceholder(toolUseID string) Message {
	return Message{
		Role: RoleUser,
		Content: []ContentBlock{
			NewTextBlock(PlaceholderUserToolResult),
			NewToolResultBlock(toolUseID, []ContentBlock{NewTextBlock(PlaceholderUserToolResult)}, false),
		},
		Placeholder: true,
	}
}
