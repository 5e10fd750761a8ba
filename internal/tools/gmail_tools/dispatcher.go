package gmail_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tanmaypatil/gmail-chat/internal/gmail"
	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
	"github.com/tanmaypatil/gmail-chat/internal/tools/common"
)

// Mailbox is the subset of the Gmail client the tools call. Every method
// reports failure through an empty or nil result rather than an error.
type Mailbox interface {
	Search(ctx context.Context, query string, maxResults int) []gmail.MessageDetail
	GetContent(ctx context.Context, messageID string) *gmail.MessageDetail
	ListAttachments(ctx context.Context, messageID string) []gmail.AttachmentMeta
}

// AttachmentRef points at one attachment so it can be downloaded later.
type AttachmentRef struct {
	Filename     string `json:"filename"`
	MessageID    string `json:"message_id"`
	AttachmentID string `json:"attachment_id"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// Result is the outcome of one tool call.
type Result struct {
	// Content is the JSON text handed back to the model.
	Content string
	// IsError is set for unknown tools, bad arguments and missing messages.
	IsError bool
	// Attachments holds the references found by list_attachments.
	Attachments []AttachmentRef
}

type errorPayload struct {
	Error string `json:"error"`
}

// Dispatcher executes tool calls against a Mailbox.
type Dispatcher struct {
	mailbox Mailbox
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewDispatcher returns a dispatcher bound to mailbox. logger and metrics may
// be nil.
func NewDispatcher(mailbox Mailbox, logger *slog.Logger, metrics *instrumentation.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{mailbox: mailbox, logger: logger, metrics: metrics}
}

// unknownToolLabel replaces names outside the tool set in metrics and spans.
const unknownToolLabel = "unknown"

// Dispatch parses and executes the named tool. It never returns an error:
// failures are encoded as an {"error": ...} payload. Rejected calls are
// instrumented like failed ones.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input json.RawMessage) Result {
	call, parseErr := ParseCall(name, input)

	label := name
	if errors.Is(parseErr, ErrUnknownTool) {
		label = unknownToolLabel
	}
	logger := logging.WithTool(d.logger, name)

	var res Result
	run := common.InstrumentedToolHandler(label, d.metrics, d.logger, func(ctx context.Context) (any, bool) {
		switch {
		case errors.Is(parseErr, ErrUnknownTool):
			logger.WarnContext(ctx, "model requested unknown tool")
			res = errorResult(fmt.Sprintf("Unknown tool: %s", name))
		case parseErr != nil:
			logger.WarnContext(ctx, "model sent invalid tool arguments", logging.Err(parseErr))
			res = errorResult(parseErr.Error())
		default:
			res = d.execute(ctx, call)
		}
		return res.Content, !res.IsError
	})
	run(ctx)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, call Call) Result {
	switch c := call.(type) {
	case SearchEmails:
		results := d.mailbox.Search(ctx, c.Query, c.MaxResults)
		if results == nil {
			results = []gmail.MessageDetail{}
		}
		return jsonResult(results)

	case GetEmailContent:
		detail := d.mailbox.GetContent(ctx, c.MessageID)
		if detail == nil {
			return errorResult(fmt.Sprintf("Failed to get email content: %s", c.MessageID))
		}
		return jsonResult(detail)

	case ListAttachments:
		metas := d.mailbox.ListAttachments(ctx, c.MessageID)
		if metas == nil {
			metas = []gmail.AttachmentMeta{}
		}
		res := jsonResult(metas)
		res.Attachments = make([]AttachmentRef, 0, len(metas))
		for _, m := range metas {
			res.Attachments = append(res.Attachments, AttachmentRef{
				Filename:     m.Filename,
				MessageID:    c.MessageID,
				AttachmentID: m.AttachmentID,
				MimeType:     m.MimeType,
				Size:         m.Size,
			})
		}
		return res

	default:
		return errorResult(fmt.Sprintf("Unknown tool: %s", call.ToolName()))
	}
}

func jsonResult(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return Result{Content: string(data)}
}

func errorResult(msg string) Result {
	data, _ := json.Marshal(errorPayload{Error: msg})
	return Result{Content: string(data), IsError: true}
}
