// Package llm defines the chat model port used by the agent loop and its
// adapters.
//
// The message shapes follow the Anthropic Messages API: a conversation is a
// list of role-tagged messages whose content is a list of typed blocks
// (text, tool_use, tool_result), and each reply carries a stop reason.
// AnthropicClient speaks that API through the official SDK. OpenAIClient
// adapts the same model onto OpenAI-compatible chat completions.
package llm
