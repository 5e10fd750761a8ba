package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultAnthropicBaseURL is the public Messages API host.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"

	// DefaultAnthropicModel is used when no model is configured.
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
)

// APIError is a non-2xx reply from a model provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("model API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// AnthropicClient calls the Anthropic Messages API through the official SDK.
type AnthropicClient struct {
	client anthropic.Client
}

type anthropicSettings struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*anthropicSettings)

// WithAnthropicBaseURL overrides the API host.
func WithAnthropicBaseURL(u string) AnthropicOption {
	return func(s *anthropicSettings) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithAnthropicHTTPClient sets the HTTP client used for calls.
func WithAnthropicHTTPClient(hc *http.Client) AnthropicOption {
	return func(s *anthropicSettings) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithAnthropicMaxRetries sets how often retryable failures (429, 5xx) are
// retried. The default is zero: failures surface on the first attempt.
func WithAnthropicMaxRetries(n int) AnthropicOption {
	return func(s *anthropicSettings) { s.maxRetries = max(n, 0) }
}

// NewAnthropicClient creates a client authenticating with apiKey.
func NewAnthropicClient(apiKey string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	s := anthropicSettings{
		baseURL:    DefaultAnthropicBaseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &AnthropicClient{client: anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(s.baseURL+"/"),
		option.WithHTTPClient(s.httpClient),
		option.WithMaxRetries(s.maxRetries),
	)}, nil
}

// CreateMessage implements ChatModel.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	params, err := anthropicParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			return nil, anthropicAPIError(sdkErr)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

func anthropicParams(req *Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			default:
				return params, fmt.Errorf("unsupported content block type %q", b.Type)
			}
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(m.Role),
			Content: blocks,
		})
	}

	for _, t := range req.Tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return params, fmt.Errorf("invalid input schema for %s: %w", t.Name, err)
			}
		}

		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		}, t.Name)
		if t.Description != "" {
			tool.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

func fromAnthropicMessage(msg *anthropic.Message) *Response {
	out := &Response{
		ID:         msg.ID,
		StopReason: StopReason(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, b := range msg.Content {
		switch b.Type {
		case string(BlockText):
			out.Content = append(out.Content, TextBlock(b.Text))
		case string(BlockToolUse):
			out.Content = append(out.Content, ContentBlock{
				Type:  BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: append(json.RawMessage(nil), b.Input...),
			})
		}
	}
	return out
}

// anthropicAPIError lifts the error envelope out of the raw response body.
func anthropicAPIError(err *anthropic.Error) *APIError {
	apiErr := &APIError{StatusCode: err.StatusCode, Message: strings.TrimSpace(err.RawJSON())}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(err.RawJSON()), &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
