package domain

import "strings"

// Role tags the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// TextContent is a single plain-text content block.
type TextContent struct {
	Text string `json:"text" dynamodbav:"text"`
}

// Message is the provider-agnostic conversation turn shared by the handler,
// the session store and the completion client.
type Message struct {
	Role    Role          `json:"role" dynamodbav:"role"`
	Content []TextContent `json:"content" dynamodbav:"content"`
}

// NewTextMessage builds a turn carrying exactly one text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []TextContent{{Text: text}}}
}

// Text joins the text blocks of the message.
func (m Message) Text() string {
	if len(m.Content) == 1 {
		return m.Content[0].Text
	}
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "")
}

// InferenceParams are the generation settings sent with every completion call.
type InferenceParams struct {
	MaxTokens   int32
	Temperature float32
	TopP        float32
}
