// Package model abstracts LLM chat providers behind a single interface so
// agents stay provider-agnostic. Adapters for OpenAI, Anthropic and Google
// live in subpackages; tests use MockChatModel.
package model

import "context"

// ChatModel is the provider-neutral chat interface. Implementations handle
// authentication, format conversion and provider error translation, and must
// respect context cancellation.
type ChatModel interface {
	// Chat sends the conversation and returns the completion. tools may be
	// nil; providers without function-calling support ignore it.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of an LLM conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard conversation roles shared by all major providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool offered to the model. Schema follows
// JSON Schema and describes the expected input object.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a completion. A response carries text, tool calls, or both.
type ChatOut struct {
	// Text is the generated response, empty when the model only requests
	// tool invocations.
	Text string

	// ToolCalls are the tool invocations the model requested.
	ToolCalls []ToolCall

	// TokensUsed is the total token count reported by the provider, zero
	// when the provider does not report usage.
	TokensUsed int
}

// ToolCall is one requested tool invocation.
type ToolCall struct {
	// Name matches a ToolSpec.Name from the offered tools.
	Name string

	// Input holds the call arguments, shaped per the tool's schema.
	Input map[string]interface{}
}
