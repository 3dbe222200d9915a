package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeready-toolchain/stride/pkg/models"
)

const hostRequestTimeout = 60 * time.Second

// HTTPHost dispatches tool calls to an external tool server over HTTP.
//
// Contract: GET {base}/v1/tools?names=a,b returns the matching definitions,
// POST {base}/v1/tools/call with {name, arguments, session_id, call_id}
// returns {"result": <json>} on success or {"error": "..."} with a non-2xx
// status on failure.
type HTTPHost struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPHost creates a host for the tool server at baseURL.
func NewHTTPHost(baseURL string, logger *slog.Logger) *HTTPHost {
	return &HTTPHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: hostRequestTimeout},
		logger:  logger.With("component", "tool_host"),
	}
}

// Definitions implements Host.
func (h *HTTPHost) Definitions(ctx context.Context, names []string) ([]Definition, error) {
	if len(names) == 0 {
		return nil, nil
	}

	url := h.baseURL + "/v1/tools?names=" + strings.Join(names, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build tool list request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools: unexpected status %d", resp.StatusCode)
	}

	var defs []Definition
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}

	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
		}
		out = append(out, def)
	}
	return out, nil
}

type callRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	SessionID string          `json:"session_id"`
	CallID    string          `json:"call_id"`
}

type callResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Call implements Host.
func (h *HTTPHost) Call(ctx context.Context, sessionID string, call models.ToolCall) (json.RawMessage, error) {
	body, err := json.Marshal(callRequest{
		Name:      call.Function.Name,
		Arguments: json.RawMessage(call.Function.Arguments),
		SessionID: sessionID,
		CallID:    call.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", call.Function.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tool %q response: %w", call.Function.Name, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Function.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var cr callResponse
		if json.Unmarshal(raw, &cr) == nil && cr.Error != "" {
			return nil, fmt.Errorf("tool %q failed: %s", call.Function.Name, cr.Error)
		}
		return nil, fmt.Errorf("tool %q failed: status %d", call.Function.Name, resp.StatusCode)
	}

	var cr callResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode tool %q response: %w", call.Function.Name, err)
	}

	h.logger.Debug("tool call completed",
		"tool", call.Function.Name,
		"call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds())
	return cr.Result, nil
}
