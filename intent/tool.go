package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/formpilot/structured"
	"github.com/tbxark/formpilot/types"
)

const (
	recognizeModeToolName        = "recognize_mode"
	recognizeModeToolDescription = "Decide whether the user wants the form edited (agent) or only wants an answer about it (ask)."
)

// DefaultRecognizeModeSystemPromptTemplate may contain a single "%s"
// placeholder for the tool name.
const DefaultRecognizeModeSystemPromptTemplate = `
You route requests for a form-building assistant.

Read the conversation and the current form, then decide what the user wants right now:
- agent: the user asks for any change to the form (title, description, adding, editing, removing or reordering questions), or describes a form they want built.
- ask: the user only asks about the form or wants advice, and expects no change to be made.

When unsure, choose agent.

Call the '%s' tool with the result.
`

type PromptBuilder func(systemPrompt string) structured.PromptBuilder[*Request]

type recognizerOptions struct {
	systemPromptTemplate string
	promptBuilder        PromptBuilder
}

type RecognizerOption func(*recognizerOptions)

func WithModeSystemPromptTemplate(systemPromptTemplate string) RecognizerOption {
	return func(o *recognizerOptions) {
		o.systemPromptTemplate = systemPromptTemplate
	}
}

func WithModePromptBuilder(promptBuilder PromptBuilder) RecognizerOption {
	return func(o *recognizerOptions) {
		o.promptBuilder = promptBuilder
	}
}

func defaultPromptBuilder(systemPrompt string) structured.PromptBuilder[*Request] {
	return func(ctx context.Context, req *Request) ([]*schema.Message, error) {
		snapshot, err := types.FormatSnapshot(req.Form, "")
		if err != nil {
			return nil, fmt.Errorf("convert to prompt message failed: %w", err)
		}
		var history strings.Builder
		history.WriteString("# Conversation:\n")
		for _, m := range req.Messages {
			history.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
		return []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(snapshot + "\n\n" + strings.TrimRight(history.String(), "\n")),
		}, nil
	}
}

type recognizeModeInput struct {
	Mode Mode `json:"mode" jsonschema:"required,enum=agent,enum=ask,description=agent to edit the form; ask to only answer"`
}

type ToolBasedRecognizer struct {
	chain *structured.Chain[*Request, recognizeModeInput]
}

func NewToolBasedRecognizer(chatModel model.ToolCallingChatModel, opts ...RecognizerOption) (*ToolBasedRecognizer, error) {
	options := recognizerOptions{
		systemPromptTemplate: DefaultRecognizeModeSystemPromptTemplate,
		promptBuilder:        defaultPromptBuilder,
	}
	for _, o := range opts {
		if o != nil {
			o(&options)
		}
	}
	chain, err := structured.NewChain[*Request, recognizeModeInput](
		chatModel,
		options.promptBuilder(fmt.Sprintf(options.systemPromptTemplate, recognizeModeToolName)),
		recognizeModeToolName,
		recognizeModeToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolBasedRecognizer{chain: chain}, nil
}

func (p *ToolBasedRecognizer) RecognizeMode(ctx context.Context, req *Request) (Mode, error) {
	result, err := p.chain.Invoke(ctx, req, model.WithTemperature(0))
	if err != nil {
		return Agent, err
	}
	switch result.Mode {
	case Agent, Ask:
		return result.Mode, nil
	default:
		return Agent, fmt.Errorf("unexpected mode %q returned by %s", result.Mode, recognizeModeToolName)
	}
}
