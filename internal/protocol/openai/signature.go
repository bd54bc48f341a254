package openai

import (
	"crypto/sha256"
	"encoding/hex"
)

// computeContentHash fingerprints a reasoning_content string so a later
// turn that replays the same chain-of-thought text can recover the thought
// signature the backend originally issued for it. OpenAI clients echo back
// reasoning_content verbatim but drop the signature, so the hash of the
// text is the only stable key available across the round trip.
func computeContentHash(reasoningContent string) string {
	sum := sha256.Sum256([]byte(reasoningContent))
	return hex.EncodeToString(sum[:])
}
