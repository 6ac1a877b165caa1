// Package anthropic adapts the official anthropic-sdk-go SDK to the
// model.ChatModel interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arclabs-io/researchgraph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// DefaultMaxTokens caps completion length; the research agents produce
// bounded JSON payloads well under this.
const DefaultMaxTokens = 4096

// ChatModel implements model.ChatModel for the Anthropic Messages API.
// Claude takes the system prompt as a separate request parameter, so system
// messages are extracted from the conversation before the call. Tool specs
// are not wired for this provider; agents using Claude rely on prompt-based
// structured output.
type ChatModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewChatModel creates an Anthropic adapter. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, conversation := splitSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  conversation,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return model.ChatOut{
		Text:       text.String(),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// splitSystemPrompt separates system messages from the conversation, since
// the Messages API takes the system prompt out of band. Multiple system
// messages are concatenated.
func splitSystemPrompt(messages []model.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	conversation := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case model.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system.String(), conversation
}

// translateError maps API failures into errors the caller's retry logic can
// classify by message content.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "authentication"):
		return fmt.Errorf("anthropic: invalid api key: %w", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("anthropic: rate limited: %w", err)
	case strings.Contains(msg, "overloaded"):
		return fmt.Errorf("anthropic: service overloaded: %w", err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
