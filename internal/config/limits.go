package config

const (
	// MaxUserTextLength caps one user message accepted by the gateway.
	MaxUserTextLength = 100_000

	// DefaultHistoryLoadCount is how many persisted messages are loaded
	// at startup when not overridden.
	DefaultHistoryLoadCount = 200

	// DefaultTruncateChars caps text bodies on history load; the store
	// appends its truncation marker past this length.
	DefaultTruncateChars = 8_000

	// LogDir is where timestamped log files are written.
	LogDir = "logs"

	// MaxLogFiles bounds how many log files are retained.
	MaxLogFiles = 10
)
