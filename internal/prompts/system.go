package prompts

import (
	"fmt"
	"strings"
)

// toolTemplate wraps the tool catalog with the rules for calling tools.
// Format verb: the catalog, one "- name: description" block per tool.
const toolTemplate = `You are a helpful AI assistant with access to a computer.

TOOLS:
%s

CRITICAL RULES:
1. To use a tool, you MUST output the JSON command.
2. Do NOT output the result of the tool (e.g. {"result": true}). The system will execute it and give you the result.
3. You can include conversational text before the JSON, but the JSON must be valid.
4. Example: "I'll save that." {"tool": "remember", "args": {"text": "User likes blue"}}
5. Do NOT use the "remember" tool unless the user explicitly asks you to remember something or save a fact. Do NOT use it when answering questions based on existing memory.
6. Output the JSON command at the END of your response. Do NOT output anything after the JSON. Do NOT simulate the tool output.
7. Call one tool per response. After you receive a tool result, answer the user instead of calling the same tool again.`

// localModelTemplate is appended for locally hosted models, which drift
// more easily into repetition and empty tool calls.
const localModelTemplate = `LOCAL MODEL INSTRUCTIONS:
1. Be concise. Do not ramble.
2. Do not repeat greetings or confirmations.
3. When using tools, output ONLY the JSON.
4. If a tool was just executed, acknowledge the result briefly and move on.
5. Do NOT use 'execute_python' for simple printing or chatting. Only use it for calculations or data processing.
6. Do NOT output empty JSONs like {"tool": ""}.
7. To speak to the user, just output text. Do NOT use a tool like "say" or "speak".`

// ToolInstructions returns the tool-use section of the system prompt for
// the given catalog.
func ToolInstructions(catalog string) string {
	return fmt.Sprintf(toolTemplate, strings.TrimRight(catalog, "\n"))
}

// SystemInstruction assembles the full system prompt: the persona prompt,
// the tool instructions and, for local models, the stability rules.
func SystemInstruction(persona, catalog string, local bool) string {
	parts := make([]string, 0, 3)
	if p := strings.TrimSpace(persona); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, ToolInstructions(catalog))
	if local {
		parts = append(parts, localModelTemplate)
	}
	return strings.Join(parts, "\n\n")
}
