package tools

import (
	"fmt"
	"sync"
)

// PermissionGate decides whether a requested tool may execute in the
// current chain. A chain is scoped by its initiator: the first tool
// allowed to run outside any chain. The orchestrator resets the chain
// before every user turn.
type PermissionGate struct {
	mu        sync.Mutex
	registry  *Registry
	initiator string // empty when no chain is active
}

// NewPermissionGate creates a gate over the given registry.
func NewPermissionGate(registry *Registry) *PermissionGate {
	return &PermissionGate{registry: registry}
}

// IsAllowed applies the chain policy:
//
//   - unknown tool: deny
//   - no chain active: allow iff the tool may initiate
//   - tool equals the current initiator: allow (self-recursion)
//   - otherwise: allow iff the initiator lists the tool as allowed
func (g *PermissionGate) IsAllowed(tool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, known := g.registry.Get(tool)
	if !known {
		return false
	}

	if g.initiator == "" {
		return reg.MayInitiate
	}

	if tool == g.initiator {
		return true
	}

	initiatorReg, ok := g.registry.Get(g.initiator)
	if !ok {
		return false
	}
	for _, allowed := range initiatorReg.AllowedTools {
		if allowed == tool {
			return true
		}
	}
	return false
}

// StartChain records the chain initiator. An empty name clears the chain.
func (g *PermissionGate) StartChain(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiator = tool
}

// ResetChain clears the current chain. Called before each user turn.
func (g *PermissionGate) ResetChain() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiator = ""
}

// Initiator returns the current chain initiator ("" when none).
func (g *PermissionGate) Initiator() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initiator
}

// DeniedPayload renders the tool_result body returned for a disallowed
// invocation. Pretty-printed; the shape is part of the external contract.
func DeniedPayload(tool string) string {
	return fmt.Sprintf(`{
  "error": "Tool '%s' is not allowed in the current context. Review the chain of thought, rules, and guidelines.",
  "status": "error",
  "message": "Stop, inform the user of the error. Do NOT proceed!"
}`, tool)
}
