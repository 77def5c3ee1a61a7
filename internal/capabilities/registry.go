// Package capabilities resolves per-model generation parameters from an
// embedded table.
package capabilities

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Registry resolves model identifiers to generation parameters.
type Registry struct {
	table table
	mu    sync.RWMutex
}

// NewRegistry loads the embedded parameter table.
func NewRegistry() (*Registry, error) {
	data, err := configFiles.ReadFile("config/models.yaml")
	if err != nil {
		return nil, fmt.Errorf("read model table: %w", err)
	}

	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal model table: %w", err)
	}

	if t.Defaults.MaxTokens <= 0 {
		return nil, fmt.Errorf("model table missing defaults")
	}

	return &Registry{table: t}, nil
}

// Resolve picks the parameter row for a model. Family rows are checked
// first (file order, substring match); then the thinking row when extended
// thinking was requested; then the defaults.
func (r *Registry) Resolve(model string, useThinking bool) ModelParams {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, family := range r.table.Families {
		if !strings.Contains(model, family.Match) {
			continue
		}

		params := ModelParams{
			MaxTokens:   family.MaxTokens,
			Temperature: family.Temperature,
		}
		if family.ThinkingGated && useThinking {
			params.UseThinking = true
			params.ThinkingBudget = family.ThinkingBudget
			params.Temperature = family.TemperatureThinking
		}
		return params
	}

	if useThinking {
		return ModelParams{
			MaxTokens:      r.table.Thinking.MaxTokens,
			Temperature:    r.table.Thinking.Temperature,
			UseThinking:    true,
			ThinkingBudget: r.table.Thinking.BudgetTokens,
		}
	}

	return ModelParams{
		MaxTokens:   r.table.Defaults.MaxTokens,
		Temperature: r.table.Defaults.Temperature,
	}
}
