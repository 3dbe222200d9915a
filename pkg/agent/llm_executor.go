package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/stride/pkg/events"
	"github.com/codeready-toolchain/stride/pkg/llm"
	"github.com/codeready-toolchain/stride/pkg/models"
)

// executeLLM invokes the configured model and streams its output onto the
// event log chunk by chunk. The assistant message is appended to state only
// once the stream ends cleanly; a producer fault leaves state untouched and
// re-raises to the engine.
func (e *Executors) executeLLM(ctx context.Context, _ Instruction, state *models.Session, rec *Recorder) (*Result, error) {
	provider, err := e.providers.Get(state.ModelConfig.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}

	req := &llm.Request{
		Model:        state.ModelConfig.Model,
		Messages:     state.Messages,
		SystemPrompt: state.AgentConfig.SystemPrompt,
		Temperature:  state.ModelConfig.Temperature,
		MaxTokens:    state.ModelConfig.MaxTokens,
	}
	if len(state.AgentConfig.Tools) > 0 && e.host != nil {
		defs, err := e.host.Definitions(ctx, state.AgentConfig.Tools)
		if err != nil {
			e.publishError(ctx, rec, models.PhaseLLMResult, err)
			return nil, fmt.Errorf("resolve tools: %w", err)
		}
		for _, def := range defs {
			req.Tools = append(req.Tools, llm.ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
	}

	if err := rec.Publish(ctx, models.EventStreamStart, events.StreamStartData{
		Model:    state.ModelConfig.Model,
		Provider: state.ModelConfig.Provider,
	}); err != nil {
		return nil, err
	}

	chunks, errs := provider.Stream(ctx, req)

	var content, reasoning strings.Builder
	var toolCalls []models.ToolCall
	var usage models.Usage

	for chunk := range chunks {
		switch chunk.Kind {
		case llm.ChunkText:
			content.WriteString(chunk.Content)
			err = rec.Publish(ctx, models.EventStreamChunk, events.StreamChunkData{
				ChunkType:   events.ChunkText,
				Content:     chunk.Content,
				FullContent: content.String(),
			})
		case llm.ChunkReasoning:
			reasoning.WriteString(chunk.Content)
			err = rec.Publish(ctx, models.EventStreamChunk, events.StreamChunkData{
				ChunkType:   events.ChunkReasoning,
				Content:     chunk.Content,
				FullContent: reasoning.String(),
			})
		case llm.ChunkToolCalls:
			toolCalls = append(toolCalls, chunk.ToolCalls...)
			err = rec.Publish(ctx, models.EventStreamChunk, events.StreamChunkData{
				ChunkType: events.ChunkToolCalls,
				ToolCalls: toolCalls,
			})
		case llm.ChunkUsage:
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	select {
	case err := <-errs:
		if err != nil {
			e.publishError(ctx, rec, models.PhaseLLMResult, err)
			return nil, fmt.Errorf("model stream: %w", err)
		}
	default:
	}

	assistant := models.Message{
		Role:      models.RoleAssistant,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}
	state.Messages = append(state.Messages, assistant)
	state.Usage.Add(usage)
	state.Cost.Total += e.costModel(state.ModelConfig.Model, usage)

	if err := e.mirror.Mirror(ctx, rec.SessionID(), rec.StepIndex(), assistant); err != nil {
		e.logger.Warn("message mirror failed",
			"session_id", rec.SessionID(), "error", err)
	}

	if err := rec.Publish(ctx, models.EventStreamEnd, events.StreamEndData{
		FinalContent: content.String(),
		ToolCalls:    toolCalls,
		Reasoning:    reasoning.String(),
		Usage:        &usage,
	}); err != nil {
		return nil, err
	}

	next := &models.StepContext{
		Phase: models.PhaseLLMResult,
		Payload: models.ContextPayload{
			Result:       content.String(),
			ToolCalls:    toolCalls,
			HasToolCalls: len(toolCalls) > 0,
		},
		Session: models.Snapshot(state, len(rec.Published())),
	}
	return &Result{NewState: state, NextContext: next, Published: rec.Published()}, nil
}

func (e *Executors) publishError(ctx context.Context, rec *Recorder, phase models.Phase, cause error) {
	if err := rec.Publish(ctx, models.EventError, events.ErrorData{
		Phase: string(phase),
		Error: cause.Error(),
	}); err != nil {
		e.logger.Error("failed to publish error event",
			"session_id", rec.SessionID(), "error", err)
	}
}
