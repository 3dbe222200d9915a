package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusIdle.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusWaitingForHuman.IsTerminal())
	assert.False(t, StatusInterrupted.IsTerminal())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5})
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, u)
}

func TestSessionPendingInvariant(t *testing.T) {
	s := &Session{Status: StatusWaitingForHuman}
	assert.Equal(t, 0, s.PendingCount())
	assert.True(t, s.NeedsHumanInput())

	s.PendingToolsCalling = []ToolCall{{ID: "t1"}}
	assert.Equal(t, 1, s.PendingCount())

	s.ClearPending()
	s.PendingHumanPrompt = &PendingHumanPrompt{Prompt: "name?"}
	assert.Equal(t, 1, s.PendingCount())

	s.ClearPending()
	assert.Equal(t, 0, s.PendingCount())
}

func TestSessionCloneIsDeep(t *testing.T) {
	orig := &Session{
		ID:     "sess-1",
		Status: StatusWaitingForHuman,
		Messages: []Message{
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t1", Function: ToolCallFunction{Name: "calc"}}}},
		},
		PendingToolsCalling: []ToolCall{{ID: "t1"}},
		PendingHumanSelect:  &PendingHumanSelect{Prompt: "pick", Options: []string{"a", "b"}},
		CostLimit:           &CostLimit{MaxTotalCost: 1},
		Error:               &SessionError{Message: "boom"},
	}

	clone := orig.Clone()
	require.NotNil(t, clone)

	clone.Messages[0].ToolCalls[0].ID = "changed"
	clone.PendingToolsCalling[0].ID = "changed"
	clone.PendingHumanSelect.Options[0] = "changed"
	clone.CostLimit.MaxTotalCost = 99
	clone.Error.Message = "changed"

	assert.Equal(t, "t1", orig.Messages[0].ToolCalls[0].ID)
	assert.Equal(t, "t1", orig.PendingToolsCalling[0].ID)
	assert.Equal(t, "a", orig.PendingHumanSelect.Options[0])
	assert.Equal(t, float64(1), orig.CostLimit.MaxTotalCost)
	assert.Equal(t, "boom", orig.Error.Message)
}

func TestCloneNilSession(t *testing.T) {
	var s *Session
	assert.Nil(t, s.Clone())
}
