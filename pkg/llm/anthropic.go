package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/stride/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider streams completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client sdk.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider backed by the given API key.
func NewAnthropicProvider(apiKey string, logger *slog.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.With("provider", "anthropic"),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream implements Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	params, err := p.buildParams(req)
	if err != nil {
		errs <- err
		close(chunks)
		return chunks, errs
	}

	go func() {
		defer close(chunks)

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		// Tool-use blocks arrive as a start event carrying the id and
		// name followed by partial JSON fragments; each block is keyed
		// by its content index until the stop event completes it.
		tools := make(map[int64]*toolBuffer)

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					tools[ev.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" {
						if !emit(ctx, chunks, Chunk{Kind: ChunkText, Content: delta.Text}) {
							return
						}
					}
				case sdk.ThinkingDelta:
					if delta.Thinking != "" {
						if !emit(ctx, chunks, Chunk{Kind: ChunkReasoning, Content: delta.Thinking}) {
							return
						}
					}
				case sdk.InputJSONDelta:
					if buf, ok := tools[ev.Index]; ok {
						buf.args.WriteString(delta.PartialJSON)
					}
				}
			case sdk.ContentBlockStopEvent:
				if buf, ok := tools[ev.Index]; ok {
					delete(tools, ev.Index)
					if !emit(ctx, chunks, Chunk{Kind: ChunkToolCalls, ToolCalls: []models.ToolCall{buf.toCall()}}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				usage := &models.Usage{
					PromptTokens:     int(ev.Usage.InputTokens),
					CompletionTokens: int(ev.Usage.OutputTokens),
					TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				}
				if !emit(ctx, chunks, Chunk{Kind: ChunkUsage, Usage: usage}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Error("anthropic stream failed", "model", req.Model, "error", err)
			errs <- fmt.Errorf("anthropic stream: %w", err)
		}
	}()

	return chunks, errs
}

func (p *AnthropicProvider) buildParams(req *Request) (sdk.MessageNewParams, error) {
	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(float64(*req.Temperature))
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	params.Messages = messages

	for _, tool := range req.Tools {
		schema := sdk.ToolInputSchemaParam{}
		if len(tool.Parameters) > 0 {
			var m map[string]any
			if err := json.Unmarshal(tool.Parameters, &m); err != nil {
				return sdk.MessageNewParams{}, fmt.Errorf("tool %q schema: %w", tool.Name, err)
			}
			delete(m, "type")
			schema.ExtraFields = m
		}
		u := sdk.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			u.OfTool.Description = sdk.String(tool.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	return params, nil
}

// convertAnthropicMessages maps the conversation onto Anthropic content
// blocks. System messages are dropped here since the system prompt travels
// in its own request field, and tool-role messages become tool_result blocks
// inside a user message.
func convertAnthropicMessages(messages []models.Message) ([]sdk.MessageParam, error) {
	var out []sdk.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var blocks []sdk.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			blocks = append(blocks, sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			out = append(out, sdk.NewUserMessage(blocks...))
			continue
		}

		if msg.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s arguments: %w", call.ID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Function.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (b *toolBuffer) toCall() models.ToolCall {
	args := b.args.String()
	if args == "" {
		args = "{}"
	}
	return models.ToolCall{
		ID:   b.id,
		Type: "function",
		Function: models.ToolCallFunction{
			Name:      b.name,
			Arguments: args,
		},
	}
}

// emit delivers a chunk unless the context is done. Returns false when the
// consumer is gone.
func emit(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
