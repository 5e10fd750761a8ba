package gmail_tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Tool names as advertised to the model.
const (
	ToolSearchEmails    = "search_emails"
	ToolGetEmailContent = "get_email_content"
	ToolListAttachments = "list_attachments"
)

// DefaultMaxResults is applied when search_emails omits max_results.
const DefaultMaxResults = 10

// ErrUnknownTool is returned by ParseCall for names outside the tool set.
var ErrUnknownTool = errors.New("unknown tool")

// Call is a parsed tool invocation. The set of implementations is closed.
type Call interface {
	ToolName() string
	isCall()
}

// SearchEmails is the argument record of search_emails.
type SearchEmails struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// GetEmailContent is the argument record of get_email_content.
type GetEmailContent struct {
	MessageID string `json:"message_id"`
}

// ListAttachments is the argument record of list_attachments.
type ListAttachments struct {
	MessageID string `json:"message_id"`
}

func (SearchEmails) ToolName() string    { return ToolSearchEmails }
func (GetEmailContent) ToolName() string { return ToolGetEmailContent }
func (ListAttachments) ToolName() string { return ToolListAttachments }

func (SearchEmails) isCall()    {}
func (GetEmailContent) isCall() {}
func (ListAttachments) isCall() {}

// ParseCall decodes input into the argument record for name. An empty input
// is treated as an empty object.
func ParseCall(name string, input json.RawMessage) (Call, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	switch name {
	case ToolSearchEmails:
		// Models emit JSON numbers, so 3.0 is as valid as 3.
		var args struct {
			Query      string   `json:"query"`
			MaxResults *float64 `json:"max_results"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		call := SearchEmails{Query: args.Query, MaxResults: DefaultMaxResults}
		if args.MaxResults != nil {
			if n := math.Round(*args.MaxResults); n > 0 {
				call.MaxResults = int(min(n, math.MaxInt32))
			}
		}
		return call, nil

	case ToolGetEmailContent:
		var call GetEmailContent
		if err := json.Unmarshal(input, &call); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return call, nil

	case ToolListAttachments:
		var call ListAttachments
		if err := json.Unmarshal(input, &call); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return call, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}
