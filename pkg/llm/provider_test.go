package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/stride/pkg/models"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewScriptedProvider("fake"))

	p, err := reg.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestScriptedProviderReplaysChunks(t *testing.T) {
	p := NewScriptedProvider("fake",
		[]Chunk{
			{Kind: ChunkText, Content: "hello "},
			{Kind: ChunkText, Content: "world"},
			{Kind: ChunkUsage, Usage: &models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		},
	)

	chunks, errs := p.Stream(context.Background(), &Request{Model: "test"})

	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "hello ", got[0].Content)
	assert.Equal(t, ChunkUsage, got[2].Kind)
	select {
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	default:
	}
	assert.Equal(t, 1, p.Calls())
}

func TestScriptedProviderFailure(t *testing.T) {
	p := NewScriptedProvider("fake", []Chunk{{Kind: ChunkText, Content: "partial"}})
	boom := errors.New("boom")
	p.FailWith(boom)

	chunks, errs := p.Stream(context.Background(), &Request{})
	for range chunks {
	}
	assert.ErrorIs(t, <-errs, boom)
}

func TestCollectToolCallsOrdersByIndex(t *testing.T) {
	pending := map[int]*models.ToolCall{
		1: {ID: "b", Type: "function", Function: models.ToolCallFunction{Name: "second", Arguments: `{"x":2}`}},
		0: {ID: "a", Type: "function", Function: models.ToolCallFunction{Name: "first"}},
		2: {Type: "function", Function: models.ToolCallFunction{Name: "incomplete"}},
	}

	calls := collectToolCalls(pending)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "{}", calls[0].Function.Arguments)
	assert.Equal(t, "b", calls[1].ID)
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "investigate the alert"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: models.ToolCallFunction{Name: "lookup", Arguments: `{"id":"abc"}`},
		}}},
		{Role: models.RoleTool, Content: "found it", ToolCallID: "call_1"},
	}

	out := convertOpenAIMessages(msgs, "be brief")
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be brief", out[0].Content)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "lookup", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[3].ToolCallID)
}

func TestConvertAnthropicMessagesSkipsSystem(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "ignored here"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, Content: "result", ToolCallID: "call_9"},
	}

	out, err := convertAnthropicMessages(msgs)
	require.NoError(t, err)
	// System dropped, tool result wrapped in a user message.
	assert.Len(t, out, 2)
}

func TestConvertAnthropicMessagesRejectsBadArguments(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{
			ID:       "call_1",
			Function: models.ToolCallFunction{Name: "lookup", Arguments: "{not json"},
		}}},
	}

	_, err := convertAnthropicMessages(msgs)
	require.Error(t, err)
}
