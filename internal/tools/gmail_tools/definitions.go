package gmail_tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tanmaypatil/gmail-chat/internal/llm"
)

// integer narrows a WithNumber property to a JSON Schema integer.
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}

func searchEmailsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchEmails,
		mcp.WithDescription("Search Gmail emails using Gmail search syntax. Supports queries like 'from:email@example.com', "+
			"'subject:keyword', 'has:attachment', 'after:2024/01/01', 'before:2024/12/31', 'newer_than:2d' (2 days), "+
			"'older_than:1m' (1 month), etc. Combine multiple criteria with spaces."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Gmail search query string"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10)"),
			mcp.DefaultNumber(DefaultMaxResults),
			integer(),
		),
	)
}

func getEmailContentTool() mcp.Tool {
	return mcp.NewTool(ToolGetEmailContent,
		mcp.WithDescription("Get the full content of a specific email by its message ID. "+
			"Returns complete email details including body, headers, and attachment info."),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Gmail message ID"),
		),
	)
}

func listAttachmentsTool() mcp.Tool {
	return mcp.NewTool(ToolListAttachments,
		mcp.WithDescription("List all attachments in a specific email. Returns attachment metadata including filename, "+
			"size, type, and attachment IDs needed for downloading. ALWAYS use this tool when users ask about "+
			"attachments or want to download files. The frontend will automatically show download buttons for the attachments."),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Gmail message ID"),
		),
	)
}

// Definitions returns the tool schemas in the order they are advertised.
func Definitions() ([]llm.ToolDefinition, error) {
	tools := []mcp.Tool{searchEmailsTool(), getEmailContentTool(), listAttachmentsTool()}

	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema for %s: %w", t.Name, err)
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs, nil
}
