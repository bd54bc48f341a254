package claude

import (
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/pkg/anthropic"
)

// CleanCacheControl strips cache_control from every content block in every
// message, in place on a copy. The upstream backend rejects the field.
func CleanCacheControl(messages []anthropic.Message) []anthropic.Message {
	cleaned := make([]anthropic.Message, len(messages))
	for i, msg := range messages {
		cleaned[i] = anthropic.CloneMessage(msg)
		for j := range cleaned[i].Content {
			cleaned[i].Content[j].CacheControl = nil
		}
	}
	return cleaned
}

func isThinkingPart(block anthropic.ContentBlock) bool {
	return block.IsThinking()
}

func hasValidSignature(block anthropic.ContentBlock) bool {
	return len(block.Signature) >= config.MinSignatureLength
}

// HasGeminiHistory reports whether any tool_use block in the conversation
// carries a Gemini thoughtSignature, meaning at least one prior turn was
// served by the Gemini backend.
func HasGeminiHistory(messages []anthropic.Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.IsToolUse() && block.ThoughtSignature != "" {
				return true
			}
		}
	}
	return false
}

// HasUnsignedThinkingBlocks reports whether any thinking block in the
// conversation lacks a valid signature.
func HasUnsignedThinkingBlocks(messages []anthropic.Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if isThinkingPart(block) && !hasValidSignature(block) {
				return true
			}
		}
	}
	return false
}

// RestoreThinkingSignatures drops thinking blocks lacking a valid
// signature; Claude rejects a thinking block it did not itself sign.
func RestoreThinkingSignatures(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	result := make([]anthropic.ContentBlock, 0, len(content))
	for _, block := range content {
		if isThinkingPart(block) && !hasValidSignature(block) {
			continue
		}
		result = append(result, block)
	}
	return result
}

// RemoveTrailingThinkingBlocks strips unsigned thinking blocks from the end
// of a content array, stopping at the first signed-thinking or
// non-thinking block encountered scanning backward.
func RemoveTrailingThinkingBlocks(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	end := len(content)
	for end > 0 {
		block := content[end-1]
		if isThinkingPart(block) && !hasValidSignature(block) {
			end--
			continue
		}
		break
	}
	return content[:end]
}

// ReorderAssistantContent reorders an assistant turn's content blocks into
// thinking-first, then text, then tool_use, dropping empty text blocks;
// Claude requires thinking blocks to lead a turn that contains them.
func ReorderAssistantContent(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	var thinking, text, toolUse, other []anthropic.ContentBlock
	for _, block := range content {
		switch {
		case isThinkingPart(block):
			thinking = append(thinking, block)
		case block.IsText():
			if block.Text != "" {
				text = append(text, block)
			}
		case block.IsToolUse():
			toolUse = append(toolUse, block)
		default:
			other = append(other, block)
		}
	}
	result := make([]anthropic.ContentBlock, 0, len(content))
	result = append(result, thinking...)
	result = append(result, text...)
	result = append(result, toolUse...)
	result = append(result, other...)
	return result
}

// conversationState summarizes the tail of a conversation for thinking-
// recovery decisions.
type conversationState struct {
	InToolLoop          bool
	InterruptedTool      bool
	TurnHasThinking      bool
	ToolResultCount      int
	LastAssistantIdx     int
}

func messageHasValidThinking(msg anthropic.Message) bool {
	for _, block := range msg.Content {
		if isThinkingPart(block) && hasValidSignature(block) {
			return true
		}
	}
	return false
}

func messageHasToolUse(msg anthropic.Message) bool {
	for _, block := range msg.Content {
		if block.IsToolUse() {
			return true
		}
	}
	return false
}

func messageHasToolResult(msg anthropic.Message) bool {
	for _, block := range msg.Content {
		if block.IsToolResult() {
			return true
		}
	}
	return false
}

func isPlainUserMessage(msg anthropic.Message) bool {
	if msg.Role != "user" {
		return false
	}
	return !messageHasToolResult(msg)
}

// analyzeConversationState scans the conversation tail and detects a
// corrupted tool-loop state: an assistant turn that called a tool without
// signed thinking, optionally followed by its tool_result.
func analyzeConversationState(messages []anthropic.Message) conversationState {
	state := conversationState{LastAssistantIdx: -1}
	for i, msg := range messages {
		if msg.Role == "assistant" {
			state.LastAssistantIdx = i
			state.TurnHasThinking = messageHasValidThinking(msg)
			state.InToolLoop = messageHasToolUse(msg)
			state.InterruptedTool = state.InToolLoop && !state.TurnHasThinking
			continue
		}
		if messageHasToolResult(msg) {
			state.ToolResultCount++
			if state.InterruptedTool {
				state.InterruptedTool = false
			}
		} else if isPlainUserMessage(msg) {
			state.InToolLoop = false
			state.InterruptedTool = false
			state.ToolResultCount = 0
		}
	}
	return state
}

// NeedsThinkingRecovery reports whether the conversation is in a tool-loop
// or interrupted-tool state lacking valid thinking, and so needs a
// synthetic recovery message injected before it can be forwarded.
func NeedsThinkingRecovery(messages []anthropic.Message) bool {
	state := analyzeConversationState(messages)
	if state.LastAssistantIdx < 0 {
		return false
	}
	return (state.InToolLoop || state.InterruptedTool) && !state.TurnHasThinking
}

// CloseToolLoopForThinking injects a synthetic recovery message that resets
// the conversation's tool-loop state, so the next turn can proceed without
// a thinking block Claude/Gemini would otherwise reject as missing. target
// is "claude" or "gemini"; the injected text differs only in which state
// it describes since both backends need the same loop reset.
func CloseToolLoopForThinking(messages []anthropic.Message, target string) []anthropic.Message {
	state := analyzeConversationState(messages)
	if state.LastAssistantIdx < 0 {
		return messages
	}

	var note string
	if state.InterruptedTool {
		note = "[Tool call was interrupted.]"
	} else {
		note = "[" + itoa(state.ToolResultCount) + " tool executions completed.]"
	}

	recovery := anthropic.Message{
		Role: "user",
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: note},
			{Type: "text", Text: "[Continue]"},
		},
	}

	result := make([]anthropic.Message, 0, len(messages)+1)
	result = append(result, messages...)
	result = append(result, recovery)
	return result
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
