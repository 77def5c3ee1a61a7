package tools

import (
	"context"
	"fmt"
	"time"

	chatModels "parley/internal/domain/models/chat"
)

// DemoTool is a built-in handler that echoes its input after a delay. The
// server and the CLI driver register it; real deployments register their
// own handlers.
type DemoTool struct {
	Delay time.Duration
}

// Name implements ToolHandler.
func (t *DemoTool) Name() string { return "demo" }

// Execute echoes the sample_data input after the configured delay.
func (t *DemoTool) Execute(ctx context.Context, input map[string]interface{}) ([]string, error) {
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sample, _ := input["sample_data"].(string)
	if sample == "" {
		return nil, fmt.Errorf("missing sample_data input")
	}

	return []string{fmt.Sprintf("demo processed: %s", sample)}, nil
}

// DemoRegistration returns the demo tool ready to register: it may
// initiate a chain and invokes nothing else.
func DemoRegistration(delay time.Duration) Registration {
	return Registration{
		Handler: &DemoTool{Delay: delay},
		Definition: chatModels.ToolDefinition{
			Name:        "demo",
			Description: "Processes sample data and echoes the outcome.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sample_data": map[string]interface{}{
						"type":        "string",
						"description": "Data to process",
					},
				},
				"required": []interface{}{"sample_data"},
			},
		},
		MayInitiate: true,
	}
}
