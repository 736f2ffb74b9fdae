package summary

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
	summarizeToolName        = "summarize_changes"
	summarizeToolDescription = "Report a short summary of the changes made to the form."
)

// DefaultSummarySystemPromptTemplate may contain a "%s" placeholder for the
// reply language.
const DefaultSummarySystemPromptTemplate = `You summarize edits an assistant just made to a form.
Write one or two plain sentences addressed to the user. Mention what was added, changed or removed; do not list every field when there are many. Never invent changes that are not in the change list.
Reply in %s and call the '` + summarizeToolName + `' tool with the message.
`

type summaryOutput struct {
	Message string `json:"message" jsonschema:"required,description=One or two sentences for the user"`
}

type generatorOptions struct {
	lang                 string
	systemPrompt         string
	systemPromptTemplate string
}

type GeneratorOption func(*generatorOptions)

// WithSummaryLang sets the language used by the default system prompt template.
func WithSummaryLang(lang string) GeneratorOption {
	return func(o *generatorOptions) {
		o.lang = lang
	}
}

// WithSummarySystemPrompt replaces the system prompt entirely.
func WithSummarySystemPrompt(systemPrompt string) GeneratorOption {
	return func(o *generatorOptions) {
		o.systemPrompt = systemPrompt
	}
}

func WithSummarySystemPromptTemplate(systemPromptTemplate string) GeneratorOption {
	return func(o *generatorOptions) {
		o.systemPromptTemplate = systemPromptTemplate
	}
}

// ToolBasedGenerator asks the model for the summary through a forced tool call.
type ToolBasedGenerator struct {
	chain *structured.Chain[*Request, summaryOutput]
}

func NewToolBasedGenerator(chatModel model.ToolCallingChatModel, opts ...GeneratorOption) (*ToolBasedGenerator, error) {
	options := generatorOptions{
		lang:                 "English",
		systemPromptTemplate: DefaultSummarySystemPromptTemplate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	systemPrompt := options.systemPrompt
	if systemPrompt == "" {
		if strings.Contains(options.systemPromptTemplate, "%s") {
			systemPrompt = fmt.Sprintf(options.systemPromptTemplate, options.lang)
		} else {
			systemPrompt = options.systemPromptTemplate
		}
	}
	chain, err := structured.NewChain[*Request, summaryOutput](
		chatModel,
		func(ctx context.Context, req *Request) ([]*schema.Message, error) {
			return buildSummaryPrompt(systemPrompt, req)
		},
		summarizeToolName,
		summarizeToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolBasedGenerator{chain: chain}, nil
}

func (g *ToolBasedGenerator) Summarize(ctx context.Context, req *Request) (string, error) {
	out, err := g.chain.Invoke(ctx, req, model.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	if strings.TrimSpace(out.Message) == "" {
		return "", ErrEmptySummary
	}
	return strings.TrimSpace(out.Message), nil
}

func buildSummaryPrompt(systemPrompt string, req *Request) ([]*schema.Message, error) {
	snapshot, err := types.FormatSnapshot(req.Form, "")
	if err != nil {
		return nil, fmt.Errorf("format form snapshot: %w", err)
	}
	sections := []string{snapshot, formatChangesSection(req.Applied, req.Failed)}
	if req.Request != "" {
		sections = append(sections, fmt.Sprintf("# User request:\n%s", req.Request))
	}
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(strings.Join(sections, "\n\n")),
	}, nil
}

func formatChangesSection(applied []types.Event, failed int) string {
	if len(applied) == 0 {
		return "# Changes:\n none"
	}
	var sb strings.Builder
	sb.WriteString("# Changes:\n")
	for _, ev := range applied {
		line, err := types.MarshalEvent(ev)
		if err != nil {
			continue
		}
		sb.WriteString("- ")
		sb.Write(line)
		sb.WriteString("\n")
	}
	if failed > 0 {
		sb.WriteString(fmt.Sprintf("- %d rejected tool calls\n", failed))
	}
	return strings.TrimRight(sb.String(), "\n")
}
