// Package google adapts the generative-ai-go (Gemini) SDK to the
// model.ChatModel interface.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/arclabs-io/researchgraph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel for the Gemini API. Gemini has no
// separate system role in this SDK version; system messages are folded into
// the first user turn. Tool specs are not wired for this provider.
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// NewChatModel creates a Gemini adapter. An empty modelName selects
// DefaultModel. Close must be called when the adapter is no longer needed.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &ChatModel{client: client, modelName: modelName}, nil
}

// Close releases the underlying gRPC connection.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	gm := m.client.GenerativeModel(m.modelName)

	resp, err := gm.GenerateContent(ctx, genai.Text(flatten(messages)))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}

	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
}

// flatten renders the conversation as one prompt, labeling turns so the
// model keeps the dialogue structure.
func flatten(messages []model.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case model.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
