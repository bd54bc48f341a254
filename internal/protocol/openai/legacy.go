package openai

// ToChatRequest reshapes a deprecated /v1/completions request into a
// ChatRequest carrying a single user message, so it can reuse the chat
// conversion path end to end.
func (r *LegacyCompletionRequest) ToChatRequest() *ChatRequest {
	var prompt string
	switch p := r.Prompt.(type) {
	case string:
		prompt = p
	case []interface{}:
		for _, part := range p {
			if s, ok := part.(string); ok {
				prompt += s
			}
		}
	}

	return &ChatRequest{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      r.Stream,
		Stop:        r.Stop,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
	}
}

// ToLegacyCompletionResponse reshapes a ChatResponse back into the legacy
// /v1/completions envelope, dropping tool calls and reasoning content
// since the legacy format has no field for either.
func (resp *ChatResponse) ToLegacyCompletionResponse() *LegacyCompletionResponse {
	choices := make([]LegacyCompletionChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		var text string
		if c.Message != nil {
			if s, ok := c.Message.Content.(string); ok {
				text = s
			}
		}
		choices = append(choices, LegacyCompletionChoice{
			Text:         text,
			Index:        c.Index,
			FinishReason: c.FinishReason,
		})
	}
	return &LegacyCompletionResponse{
		ID:      resp.ID,
		Object:  "text_completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
	}
}
