// internal/workers/ai-conversation/ai-conversation-reply/models.go
package aiconversationreply

type Input struct {
	ClientID          string `json:"clientId"`
	ConversationID    string `json:"conversationId"`
	MessageID         string `json:"messageId"`
	Content           string `json:"content"`
	ResponseMessageID string `json:"responseMessageId,omitempty"`
}

// Output is merged into the process variables.
type Output struct {
	ResponseMessageID string `json:"responseMessageId"`
	Content           string `json:"content"`
	TotalTokens       int    `json:"totalTokens"`
	DurationMs        int64  `json:"durationMs"`
}
