package agent

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"

	"github.com/arclabs-io/researchgraph/model"
	"github.com/arclabs-io/researchgraph/research"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// promptSet holds all prompt templates, parsed once at package init. A bad
// template is a programming error and fails fast.
var promptSet = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

const systemPrompt = "You are a specialized agent inside a research workflow " +
	"orchestrator. Follow the instruction exactly. When asked for JSON, " +
	"respond with only the JSON payload and nothing else."

// LLMAgent is the shared implementation behind every concrete agent: render
// the agent's prompt template with the input vars, call the chat model, and
// extract the JSON payload.
type LLMAgent struct {
	name     string
	chat     model.ChatModel
	template string
	wantJSON bool
}

// NewLLMAgent creates an agent bound to a prompt template. templateName must
// match an embedded prompts/<name>.tmpl file.
func NewLLMAgent(name, templateName string, chat model.ChatModel) *LLMAgent {
	return &LLMAgent{name: name, chat: chat, template: templateName + ".tmpl", wantJSON: true}
}

// Name implements Agent.
func (a *LLMAgent) Name() string { return a.name }

// Run implements Agent.
func (a *LLMAgent) Run(ctx context.Context, in Input) (Output, error) {
	prompt, err := a.render(in.Vars)
	if err != nil {
		return Output{}, err
	}

	messages := make([]model.Message, 0, len(in.History)+2)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	messages = append(messages, in.History...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	chatOut, err := a.chat.Chat(ctx, messages, nil)
	if err != nil {
		return Output{}, &research.AgentError{Agent: a.name, Message: "chat call failed", Cause: err}
	}

	out := Output{Text: chatOut.Text, TokensUsed: chatOut.TokensUsed}
	if a.wantJSON {
		raw, err := ExtractJSON(chatOut.Text)
		if err != nil {
			return Output{}, &research.AgentError{Agent: a.name, Message: "unparseable response", Cause: err}
		}
		out.JSON = raw
	}
	return out, nil
}

func (a *LLMAgent) render(vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := promptSet.ExecuteTemplate(&buf, a.template, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", a.template, err)
	}
	return buf.String(), nil
}
