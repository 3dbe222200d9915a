// Package llm abstracts model invocation as a streaming chunk producer.
// Concrete adapters wrap the provider SDKs; the step engine only ever sees
// the channel pair returned by Stream.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// Sentinel errors for provider resolution.
var (
	// ErrUnknownProvider indicates the requested provider is not registered.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// ChunkKind classifies a streaming chunk.
type ChunkKind string

// Chunk kinds.
const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
	ChunkToolCalls ChunkKind = "tool_calls"
	ChunkUsage     ChunkKind = "usage"
)

// Chunk is one unit of streamed model output.
type Chunk struct {
	Kind ChunkKind
	// Content is the text or reasoning delta.
	Content string
	// ToolCalls carries completed tool invocations. Adapters accumulate
	// partial argument JSON internally and emit whole calls.
	ToolCalls []models.ToolCall
	// Usage is the token accounting delta, when the provider reports one.
	Usage *models.Usage
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema
}

// Request is a model invocation.
type Request struct {
	Model        string
	Messages     []models.Message
	SystemPrompt string
	Temperature  *float32
	MaxTokens    *int
	Tools        []ToolDefinition
}

// Provider produces a stream of chunks for a request. The chunks channel is
// closed when the stream ends; a fault is delivered on the error channel
// before close. Both channels are owned by the provider goroutine.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error)
}

// Registry resolves providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name, replacing any previous entry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
