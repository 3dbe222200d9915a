package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/llm"
	"github.com/codeready-toolchain/stride/pkg/models"
	"github.com/codeready-toolchain/stride/pkg/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestState() *models.Session {
	return &models.Session{
		ID:     "sess-1",
		Status: models.StatusRunning,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
		},
		ModelConfig: models.ModelConfig{Model: "test-model", Provider: "fake"},
	}
}

func newTestExecutors(t *testing.T, provider llm.Provider, host tools.Host, opts ...Option) (*Executors, *events.MemoryStream) {
	t.Helper()
	reg := llm.NewRegistry()
	if provider != nil {
		reg.Register(provider)
	}
	if host == nil {
		host = tools.NewMemoryHost()
	}
	stream := events.NewMemoryStream(1000)
	return NewExecutors(reg, host, testLogger(), opts...), stream
}

func eventTypes(evts []models.Event) []models.EventType {
	out := make([]models.EventType, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func TestLLMExecutorStreamsAndAppendsAssistantMessage(t *testing.T) {
	provider := llm.NewScriptedProvider("fake",
		[]llm.Chunk{
			{Kind: llm.ChunkText, Content: "hel"},
			{Kind: llm.ChunkText, Content: "lo"},
			{Kind: llm.ChunkUsage, Usage: &models.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}},
		},
	)
	execs, stream := newTestExecutors(t, provider, nil)
	rec := NewRecorder(stream, "sess-1", 0)

	result, err := execs.Execute(context.Background(), CallLLM(), newTestState(), rec)
	require.NoError(t, err)

	assert.Equal(t, []models.EventType{
		models.EventStreamStart,
		models.EventStreamChunk,
		models.EventStreamChunk,
		models.EventStreamEnd,
	}, eventTypes(result.Published))

	require.Len(t, result.NewState.Messages, 2)
	last := result.NewState.Messages[1]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Equal(t, "hello", last.Content)
	assert.Equal(t, 7, result.NewState.Usage.TotalTokens)

	require.NotNil(t, result.NextContext)
	assert.Equal(t, models.PhaseLLMResult, result.NextContext.Phase)
	assert.Equal(t, "hello", result.NextContext.Payload.Result)
	assert.False(t, result.NextContext.Payload.HasToolCalls)
}

func TestLLMExecutorAccumulatesToolCalls(t *testing.T) {
	call := models.ToolCall{
		ID:       "t1",
		Type:     "function",
		Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`},
	}
	provider := llm.NewScriptedProvider("fake",
		[]llm.Chunk{{Kind: llm.ChunkToolCalls, ToolCalls: []models.ToolCall{call}}},
	)
	execs, stream := newTestExecutors(t, provider, nil)
	rec := NewRecorder(stream, "sess-1", 0)

	result, err := execs.Execute(context.Background(), CallLLM(), newTestState(), rec)
	require.NoError(t, err)

	require.NotNil(t, result.NextContext)
	assert.True(t, result.NextContext.Payload.HasToolCalls)
	require.Len(t, result.NextContext.Payload.ToolCalls, 1)
	assert.Equal(t, "t1", result.NextContext.Payload.ToolCalls[0].ID)

	require.Len(t, result.NewState.Messages, 2)
	assert.Len(t, result.NewState.Messages[1].ToolCalls, 1)
}

func TestLLMExecutorProducerFault(t *testing.T) {
	provider := llm.NewScriptedProvider("fake", []llm.Chunk{{Kind: llm.ChunkText, Content: "par"}})
	provider.FailWith(errors.New("model unavailable"))
	execs, stream := newTestExecutors(t, provider, nil)
	rec := NewRecorder(stream, "sess-1", 0)

	_, err := execs.Execute(context.Background(), CallLLM(), newTestState(), rec)
	require.Error(t, err)

	types := eventTypes(rec.Published())
	assert.Equal(t, models.EventError, types[len(types)-1])
}

func TestLLMExecutorAppliesCostModel(t *testing.T) {
	provider := llm.NewScriptedProvider("fake",
		[]llm.Chunk{
			{Kind: llm.ChunkText, Content: "ok"},
			{Kind: llm.ChunkUsage, Usage: &models.Usage{TotalTokens: 100}},
		},
	)
	execs, stream := newTestExecutors(t, provider, nil, WithCostModel(func(_ string, u models.Usage) float64 {
		return float64(u.TotalTokens) * 0.001
	}))
	rec := NewRecorder(stream, "sess-1", 0)

	result, err := execs.Execute(context.Background(), CallLLM(), newTestState(), rec)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, result.NewState.Cost.Total, 1e-9)
}

func TestToolExecutor(t *testing.T) {
	host := tools.NewMemoryHost()
	host.Register(tools.Definition{Name: "calc"}, func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true,"v":4}`), nil
	})
	execs, stream := newTestExecutors(t, nil, host)
	rec := NewRecorder(stream, "sess-1", 1)

	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`}}
	result, err := execs.Execute(context.Background(), CallTool(call), newTestState(), rec)
	require.NoError(t, err)

	assert.Equal(t, []models.EventType{
		models.EventToolStart,
		models.EventToolComplete,
	}, eventTypes(result.Published))

	require.Len(t, result.NewState.Messages, 2)
	toolMsg := result.NewState.Messages[1]
	assert.Equal(t, models.RoleTool, toolMsg.Role)
	assert.Equal(t, "t1", toolMsg.ToolCallID)
	assert.JSONEq(t, `{"ok":true,"v":4}`, toolMsg.Content)

	require.NotNil(t, result.NextContext)
	assert.Equal(t, models.PhaseToolResult, result.NextContext.Phase)
	assert.Equal(t, "t1", result.NextContext.Payload.ToolCallID)
}

func TestToolExecutorCarriesQueuedSiblingCalls(t *testing.T) {
	host := tools.NewMemoryHost()
	host.Register(tools.Definition{Name: "calc"}, func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	execs, stream := newTestExecutors(t, nil, host)
	rec := NewRecorder(stream, "sess-1", 1)

	t1 := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":1}`}}
	t2 := models.ToolCall{ID: "t2", Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`}}
	result, err := execs.Execute(context.Background(), CallTool(t1, t2), newTestState(), rec)
	require.NoError(t, err)

	require.NotNil(t, result.NextContext)
	assert.Equal(t, "t1", result.NextContext.Payload.ToolCallID)
	require.Len(t, result.NextContext.Payload.RemainingToolCalls, 1)
	assert.Equal(t, "t2", result.NextContext.Payload.RemainingToolCalls[0].ID)
}

// emptyDefsHost answers every lookup with no definitions and no error, like a
// backend whose catalog went stale mid-session.
type emptyDefsHost struct{ tools.Host }

func (emptyDefsHost) Definitions(context.Context, []string) ([]tools.Definition, error) {
	return nil, nil
}

func TestToolExecutorEmptyDefinitionLookup(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, emptyDefsHost{tools.NewMemoryHost()})
	rec := NewRecorder(stream, "sess-1", 1)

	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{}`}}
	_, err := execs.Execute(context.Background(), CallTool(call), newTestState(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
}

func TestToolExecutorMalformedArguments(t *testing.T) {
	host := tools.NewMemoryHost()
	host.Register(tools.Definition{Name: "calc"}, func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		t.Fatal("tool must not be invoked on malformed arguments")
		return nil, nil
	})
	execs, stream := newTestExecutors(t, nil, host)
	rec := NewRecorder(stream, "sess-1", 1)

	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{not json`}}
	_, err := execs.Execute(context.Background(), CallTool(call), newTestState(), rec)
	require.Error(t, err)

	types := eventTypes(rec.Published())
	assert.Equal(t, models.EventError, types[len(types)-1])
}

func TestToolExecutorHostFault(t *testing.T) {
	host := tools.NewMemoryHost()
	host.Register(tools.Definition{Name: "calc"}, func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("backend down")
	})
	execs, stream := newTestExecutors(t, nil, host)
	rec := NewRecorder(stream, "sess-1", 1)

	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{}`}}
	_, err := execs.Execute(context.Background(), CallTool(call), newTestState(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestHumanExecutorApproval(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, nil)
	rec := NewRecorder(stream, "sess-1", 1)

	call := models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "calc", Arguments: `{"x":2}`}}
	result, err := execs.Execute(context.Background(), RequestApproval([]models.ToolCall{call}), newTestState(), rec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaitingForHuman, result.NewState.Status)
	assert.Equal(t, 1, result.NewState.PendingCount())
	require.Len(t, result.NewState.PendingToolsCalling, 1)
	assert.Nil(t, result.NextContext)

	assert.Equal(t, []models.EventType{
		models.EventHumanApprovalRequest,
		models.EventStreamChunk,
	}, eventTypes(result.Published))
}

func TestHumanExecutorPromptAndSelect(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, nil)

	rec := NewRecorder(stream, "sess-1", 1)
	result, err := execs.Execute(context.Background(),
		RequestHumanInput(models.PendingHumanPrompt{Prompt: "name?"}), newTestState(), rec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForHuman, result.NewState.Status)
	require.NotNil(t, result.NewState.PendingHumanPrompt)
	assert.Equal(t, 1, result.NewState.PendingCount())

	rec = NewRecorder(stream, "sess-1", 2)
	result, err = execs.Execute(context.Background(),
		RequestHumanSelect(models.PendingHumanSelect{Prompt: "pick", Options: []string{"a", "b"}}), newTestState(), rec)
	require.NoError(t, err)
	require.NotNil(t, result.NewState.PendingHumanSelect)
	assert.Equal(t, 1, result.NewState.PendingCount())
}

func TestFinishExecutor(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, nil)
	rec := NewRecorder(stream, "sess-1", 1)

	result, err := execs.Execute(context.Background(), Finish("completed", "hello"), newTestState(), rec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDone, result.NewState.Status)
	assert.Nil(t, result.NextContext)
	assert.Equal(t, "completed", result.Reason)
	assert.Equal(t, "hello", result.ReasonDetail)
	assert.Empty(t, result.Published)
}

func TestExecuteUnknownInstruction(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, nil)
	rec := NewRecorder(stream, "sess-1", 0)

	_, err := execs.Execute(context.Background(), Instruction{Type: "bogus"}, newTestState(), rec)
	assert.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestExecuteDoesNotMutateInputState(t *testing.T) {
	execs, stream := newTestExecutors(t, nil, nil)
	rec := NewRecorder(stream, "sess-1", 1)

	state := newTestState()
	result, err := execs.Execute(context.Background(), Finish("completed", ""), state, rec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRunning, state.Status)
	assert.Equal(t, models.StatusDone, result.NewState.Status)
}
