package openai

import (
	"crypto/rand"
	"encoding/hex"
)

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateChatCompletionID returns a fresh "chatcmpl-" prefixed response id.
func GenerateChatCompletionID() string {
	return "chatcmpl-" + randomHex(16)
}

// GenerateToolCallID returns a fresh "call_" prefixed tool call id, used
// when the upstream function call carries no id of its own.
func GenerateToolCallID() string {
	return "call_" + randomHex(12)
}
