package prompts

import "fmt"

// Directives fed back to the model between tool turns, and the fixed
// messages the orchestrator shows the user.
const (
	// DuplicateToolCall replaces a tool result when the model repeats a
	// call it already made in this attempt.
	DuplicateToolCall = "Tool already executed. Do not repeat. Provide final answer."

	// RetryNotice is streamed before a retry without injected context.
	RetryNotice = "\n\n*Thinking... (Retrying without context)*\n\n"

	// EmptyResponseFallback is shown when every attempt produced nothing.
	EmptyResponseFallback = "I'm sorry, I couldn't generate a response."
)

// ToolResult is the synthetic user message carrying a tool's output into
// the next turn.
func ToolResult(result string) string {
	return fmt.Sprintf("Tool Result: %s\n(Action completed. Do not call this tool again. Provide final answer.)", result)
}

// ErrorReply is the single chunk shown when generation fails outright.
func ErrorReply(err error) string {
	return fmt.Sprintf("I'm sorry, I encountered an error: %v", err)
}

// TurnLimitNotice is streamed when the model keeps calling tools without
// ever answering.
func TurnLimitNotice(turns int) string {
	return fmt.Sprintf("\n\n*Stopped after %d tool turns without a final answer.*\n\n", turns)
}
