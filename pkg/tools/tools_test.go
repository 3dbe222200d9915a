package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/stride/pkg/models"
)

var calcSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"x": {"type": "number"}
	},
	"required": ["x"],
	"additionalProperties": false
}`)

func TestValidateArguments(t *testing.T) {
	def := Definition{Name: "calc", Parameters: calcSchema}

	assert.NoError(t, ValidateArguments(def, `{"x": 2}`))
	assert.Error(t, ValidateArguments(def, `{"y": 2}`))
	assert.Error(t, ValidateArguments(def, `{not json`))

	// No schema accepts any valid JSON.
	assert.NoError(t, ValidateArguments(Definition{Name: "free"}, `{"anything": true}`))
}

func TestMemoryHost(t *testing.T) {
	host := NewMemoryHost()
	host.Register(Definition{Name: "calc", Parameters: calcSchema}, func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			X float64 `json:"x"`
		}
		require.NoError(t, json.Unmarshal(args, &in))
		return json.RawMessage(`{"ok":true,"v":4}`), nil
	})

	defs, err := host.Definitions(context.Background(), []string{"calc"})
	require.NoError(t, err)
	require.Len(t, defs, 1)

	_, err = host.Definitions(context.Background(), []string{"missing"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	result, err := host.Call(context.Background(), "sess-1", models.ToolCall{
		ID:       "t1",
		Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"v":4}`, string(result))
	assert.Len(t, host.Calls(), 1)
}

func TestHTTPHostCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tools":
			assert.Equal(t, "calc", r.URL.Query().Get("names"))
			_ = json.NewEncoder(w).Encode([]Definition{{Name: "calc", Parameters: calcSchema}})
		case "/v1/tools/call":
			var req struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
				SessionID string          `json:"session_id"`
				CallID    string          `json:"call_id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "calc", req.Name)
			assert.Equal(t, "sess-1", req.SessionID)
			assert.Equal(t, "t1", req.CallID)
			_, _ = w.Write([]byte(`{"result":{"ok":true,"v":4}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	host := NewHTTPHost(server.URL, testLogger())

	defs, err := host.Definitions(context.Background(), []string{"calc"})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "calc", defs[0].Name)

	result, err := host.Call(context.Background(), "sess-1", models.ToolCall{
		ID:       "t1",
		Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"v":4}`, string(result))
}

func TestHTTPHostCallError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"backend down"}`))
	}))
	defer server.Close()

	host := NewHTTPHost(server.URL, testLogger())
	_, err := host.Call(context.Background(), "sess-1", models.ToolCall{
		ID:       "t1",
		Function: models.ToolCallFunction{Name: "calc", Arguments: `{}`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}
