package chat

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// SystemMessage is one system-prompt segment. Kept as typed text blocks so
// the cache policy can mark the last segment ephemeral.
type SystemMessage struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// NewSystemMessage creates a system text segment.
func NewSystemMessage(text string) SystemMessage {
	return SystemMessage{Type: "text", Text: text}
}
