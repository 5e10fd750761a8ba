// Package agent runs the chat loop that lets the model call mailbox tools.
//
// Run sends the user's message and the tool schemas to the model. While the
// model stops to use tools, every requested call is dispatched and answered
// with exactly one tool result before the next model call. The loop ends when
// the model finishes its turn, reports any other stop reason, or exceeds the
// configured number of tool rounds.
package agent
