package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIClient adapts the ChatModel port onto OpenAI-compatible chat
// completions.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client for apiKey. A non-empty baseURL targets
// an OpenAI-compatible server instead of api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// CreateMessage implements ChatModel.
func (c *OpenAIClient) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		Messages:  toOpenAIMessages(req.System, req.Messages),
		Tools:     toOpenAITools(req.Tools),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.HTTPStatusCode, Type: apiErr.Type, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	return fromOpenAIChoice(resp.ID, resp.Choices[0], resp.Usage), nil
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}

	out := make([]openai.Tool, len(defs))
	for i, d := range defs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		}
	}
	return out
}

// toOpenAIMessages flattens block-structured messages. Tool results become
// individual tool-role messages placed before any text of the same turn.
func toOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		var (
			text  strings.Builder
			calls []openai.ToolCall
		)
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				text.WriteString(b.Text)
			case BlockToolUse:
				calls = append(calls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		switch m.Role {
		case RoleAssistant:
			if text.Len() > 0 || len(calls) > 0 {
				out = append(out, openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					Content:   text.String(),
					ToolCalls: calls,
				})
			}
		default:
			if text.Len() > 0 {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()})
			}
		}
	}
	return out
}

func fromOpenAIChoice(id string, choice openai.ChatCompletionChoice, usage openai.Usage) *Response {
	resp := &Response{
		ID:    id,
		Usage: Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens},
	}

	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		resp.Content = append(resp.Content, ContentBlock{
			Type:  BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	switch {
	case len(choice.Message.ToolCalls) > 0,
		choice.FinishReason == openai.FinishReasonToolCalls,
		choice.FinishReason == openai.FinishReasonFunctionCall:
		resp.StopReason = StopToolUse
	case choice.FinishReason == openai.FinishReasonStop:
		resp.StopReason = StopEndTurn
	case choice.FinishReason == openai.FinishReasonLength:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopReason(choice.FinishReason)
	}
	return resp
}
