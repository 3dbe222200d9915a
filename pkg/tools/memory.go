package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// HandlerFunc executes one tool call.
type HandlerFunc func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error)

// MemoryHost is an in-process Host for tests and local development.
type MemoryHost struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	handlers map[string]HandlerFunc
	calls    []models.ToolCall
}

// NewMemoryHost creates an empty in-process host.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		defs:     make(map[string]Definition),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a tool with its handler.
func (h *MemoryHost) Register(def Definition, handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defs[def.Name] = def
	h.handlers[def.Name] = handler
}

// Calls returns every call dispatched so far.
func (h *MemoryHost) Calls() []models.ToolCall {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ToolCall, len(h.calls))
	copy(out, h.calls)
	return out
}

// Definitions implements Host.
func (h *MemoryHost) Definitions(_ context.Context, names []string) ([]Definition, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Definition, 0, len(names))
	for _, name := range names {
		def, ok := h.defs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
		}
		out = append(out, def)
	}
	return out, nil
}

// Call implements Host.
func (h *MemoryHost) Call(ctx context.Context, _ string, call models.ToolCall) (json.RawMessage, error) {
	h.mu.Lock()
	handler, ok := h.handlers[call.Function.Name]
	h.calls = append(h.calls, call)
	h.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Function.Name)
	}
	return handler(ctx, json.RawMessage(call.Function.Arguments))
}
