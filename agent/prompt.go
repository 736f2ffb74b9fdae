package agent

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/formpilot/history"
	"github.com/tbxark/formpilot/types"
)

// DefaultInstructions is the system prompt of every editing run.
const DefaultInstructions = `You are a form builder. You edit the user's form only by calling tools. The form state in the system message is a snapshot taken when the turn started and does not change during the turn. Each tool result reports ok, the applied change and the resulting fieldCount; track the current form from those results.

Rules:
- Address fields by their id. Ids are short snake_case words and must be unique.
- Positions are zero-based. Omit the position when adding to append a field.
- single_choice and multiple_choice fields need at least one option; text fields take none.
- If a tool returns ok=false, read the error and correct the call instead of repeating it.
- Make every change the user asked for and nothing more.
- When the form matches the request, call finish with one or two sentences describing what changed.`

// AskInstructions replaces DefaultInstructions when the toolset is read-only.
const AskInstructions = `You are a form assistant. Answer the user's question about the form state given in the system message. You cannot change the form. Keep the answer short, then call finish with the answer as the message.`

func buildMessages(instructions, stateSchema string, form types.Form, conversation []types.ConversationMessage, trimmer history.Trimmer) ([]*schema.Message, error) {
	snapshot, err := types.FormatSnapshot(form, stateSchema)
	if err != nil {
		return nil, fmt.Errorf("format form snapshot: %w", err)
	}
	msgs := make([]*schema.Message, 0, len(conversation)+2)
	msgs = append(msgs, schema.SystemMessage(instructions), schema.SystemMessage(snapshot))
	msgs = append(msgs, history.ToSchema(conversation)...)
	if trimmer != nil {
		msgs = trimmer.Trim(msgs)
	}
	return msgs, nil
}
