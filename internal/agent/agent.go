package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/llm"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
	"github.com/tanmaypatil/gmail-chat/internal/tools/gmail_tools"
)

const (
	// DefaultMaxTokens is the output budget of each model call.
	DefaultMaxTokens = 4096

	// DefaultMaxRounds bounds how many tool rounds one message may take.
	DefaultMaxRounds = 10
)

var (
	// ErrMaxRoundsExceeded is returned when the model keeps requesting tools
	// past the round limit.
	ErrMaxRoundsExceeded = errors.New("maximum tool rounds exceeded")

	// ErrNoToolCalls is returned when the model stops for tool use without
	// requesting any tool.
	ErrNoToolCalls = errors.New("model requested tool use without tool calls")

	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("no message provided")
)

// UnexpectedStopReasonError reports a stop reason other than tool use or end
// of turn.
type UnexpectedStopReasonError struct {
	StopReason llm.StopReason
}

func (e *UnexpectedStopReasonError) Error() string {
	return fmt.Sprintf("Unexpected stop reason: %s", e.StopReason)
}

// Config configures an Agent.
type Config struct {
	Model     llm.ChatModel
	ModelName string
	MaxTokens int
	MaxRounds int
	System    string
	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
}

// Agent is safe for concurrent use. Conversation state lives only for the
// duration of one Run.
type Agent struct {
	model     llm.ChatModel
	modelName string
	maxTokens int
	maxRounds int
	system    string
	tools     []llm.ToolDefinition
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// Result is the final answer of one Run.
type Result struct {
	Response    string                      `json:"response"`
	Attachments []gmail_tools.AttachmentRef `json:"attachments"`
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("chat model is required")
	}

	tools, err := gmail_tools.Definitions()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		model:     cfg.Model,
		modelName: cfg.ModelName,
		maxTokens: cfg.MaxTokens,
		maxRounds: cfg.MaxRounds,
		system:    cfg.System,
		tools:     tools,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = DefaultMaxTokens
	}
	if a.maxRounds <= 0 {
		a.maxRounds = DefaultMaxRounds
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a, nil
}

// Run answers message, calling tools against mailbox as the model requests.
func (a *Agent) Run(ctx context.Context, message string, mailbox gmail_tools.Mailbox) (*Result, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := instrumentation.StartSpan(ctx, "agent.run")
	defer span.End()

	start := time.Now()
	dispatcher := gmail_tools.NewDispatcher(mailbox, a.logger, a.metrics)
	conversation := []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(message)}}}
	attachments := []gmail_tools.AttachmentRef{}

	for round := 1; ; round++ {
		resp, err := a.model.CreateMessage(ctx, &llm.Request{
			Model:     a.modelName,
			System:    a.system,
			MaxTokens: a.maxTokens,
			Messages:  conversation,
			Tools:     a.tools,
		})
		if err != nil {
			return nil, a.fail(ctx, span, round, fmt.Errorf("model call failed: %w", err))
		}

		logger := a.logger.With(logging.Round(round), logging.StopReason(string(resp.StopReason)))
		logger.DebugContext(ctx, "model replied")

		switch resp.StopReason {
		case llm.StopEndTurn:
			span.SetAttributes(attribute.Int(instrumentation.SpanAttrRound, round))
			instrumentation.SetSpanSuccess(span)
			a.metrics.RecordChatRounds(ctx, round, instrumentation.StatusSuccess)
			logger.InfoContext(ctx, "chat completed",
				slog.Int("attachments", len(attachments)),
				slog.Duration(logging.KeyDuration, time.Since(start)))
			return &Result{Response: resp.Text(), Attachments: attachments}, nil

		case llm.StopToolUse:
			uses := resp.ToolUses()
			if len(uses) == 0 {
				return nil, a.fail(ctx, span, round, ErrNoToolCalls)
			}
			if round > a.maxRounds {
				return nil, a.fail(ctx, span, round, ErrMaxRoundsExceeded)
			}

			results := make([]llm.ContentBlock, 0, len(uses))
			for _, use := range uses {
				logger.InfoContext(ctx, "model is using tool", logging.Tool(use.Name))
				res := dispatcher.Dispatch(ctx, use.Name, use.Input)
				attachments = append(attachments, res.Attachments...)
				results = append(results, llm.ToolResultBlock(use.ID, res.Content, res.IsError))
			}

			conversation = append(conversation,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: results},
			)

		default:
			return nil, a.fail(ctx, span, round, &UnexpectedStopReasonError{StopReason: resp.StopReason})
		}
	}
}

func (a *Agent) fail(ctx context.Context, span trace.Span, round int, err error) error {
	span.SetAttributes(attribute.Int(instrumentation.SpanAttrRound, round))
	instrumentation.SetSpanError(span, err)
	a.metrics.RecordChatRounds(ctx, round, instrumentation.StatusError)
	a.logger.ErrorContext(ctx, "chat failed", logging.Round(round), logging.Err(err))
	return err
}
