// Package gmail_tools exposes the mailbox to the chat model as a fixed set of
// callable tools.
//
// The tool set is closed:
//
//   - search_emails: search the mailbox with Gmail query syntax
//   - get_email_content: fetch one message with body and headers
//   - list_attachments: list attachment metadata for one message
//
// Each tool has a typed argument record implementing Call. ParseCall turns a
// model-issued tool name and raw JSON input into one of those records, and
// Dispatcher executes it against a Mailbox. Unknown tool names never raise;
// they produce an error payload returned to the model like any other result.
package gmail_tools
