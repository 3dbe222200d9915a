// Package tools defines the tool-dispatch boundary. A Host resolves tool
// definitions for the model and executes approved calls; the runtime never
// implements tools itself.
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// Sentinel errors for tool dispatch.
var (
	// ErrUnknownTool indicates the host has no tool under the requested name.
	ErrUnknownTool = errors.New("unknown tool")
)

// Definition describes a callable tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is the JSON schema for the tool arguments.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Host executes tool calls against an external tool runtime.
type Host interface {
	// Definitions resolves the named tools. Unknown names yield
	// ErrUnknownTool.
	Definitions(ctx context.Context, names []string) ([]Definition, error)
	// Call executes one tool call and returns its JSON result.
	Call(ctx context.Context, sessionID string, call models.ToolCall) (json.RawMessage, error)
}
