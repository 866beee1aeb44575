package models

// Prompt roles understood by every text generator.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptMessage is one message of the conversation sent to a generator.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
