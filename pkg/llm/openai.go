package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/stride/pkg/models"
)

// OpenAIProvider streams completions from the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider backed by the given API key.
func NewOpenAIProvider(apiKey string, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		logger: logger.With("provider", "openai"),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.SystemPrompt),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	go func() {
		defer close(chunks)

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			p.logger.Error("openai stream open failed", "model", req.Model, "error", err)
			errs <- fmt.Errorf("openai stream: %w", err)
			return
		}
		defer stream.Close()

		// Tool calls arrive fragmented across deltas, keyed by index.
		// The first fragment carries id and name, the rest append JSON
		// argument text.
		pending := make(map[int]*models.ToolCall)

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			calls := collectToolCalls(pending)
			pending = make(map[int]*models.ToolCall)
			return emit(ctx, chunks, Chunk{Kind: ChunkToolCalls, ToolCalls: calls})
		}

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				flush()
				return
			}
			if err != nil {
				p.logger.Error("openai stream failed", "model", req.Model, "error", err)
				errs <- fmt.Errorf("openai stream: %w", err)
				return
			}

			if response.Usage != nil {
				usage := &models.Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
					TotalTokens:      response.Usage.TotalTokens,
				}
				if !emit(ctx, chunks, Chunk{Kind: ChunkUsage, Usage: usage}) {
					return
				}
			}
			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			if choice.Delta.Content != "" {
				if !emit(ctx, chunks, Chunk{Kind: ChunkText, Content: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				call, ok := pending[index]
				if !ok {
					call = &models.ToolCall{Type: "function"}
					pending[index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !flush() {
					return
				}
			}
		}
	}()

	return chunks, errs
}

// collectToolCalls orders accumulated calls by their stream index.
func collectToolCalls(pending map[int]*models.ToolCall) []models.ToolCall {
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]models.ToolCall, 0, len(pending))
	for _, i := range indexes {
		call := pending[i]
		if call.ID == "" || call.Function.Name == "" {
			continue
		}
		if strings.TrimSpace(call.Function.Arguments) == "" {
			call.Function.Arguments = "{}"
		}
		calls = append(calls, *call)
	}
	return calls
}

func convertOpenAIMessages(messages []models.Message, systemPrompt string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}
