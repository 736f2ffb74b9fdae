// Package intent decides whether a request should edit the form or only
// answer a question about it.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tbxark/formpilot/types"
)

type Mode string

const (
	// Agent lets the model call every mutating tool.
	Agent Mode = "agent"
	// Ask gives the model a read-only toolset.
	Ask Mode = "ask"
	// Auto defers the choice to a Recognizer.
	Auto Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Agent:
		return Agent, nil
	case Ask:
		return Ask, nil
	case Auto:
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

type Request struct {
	Form     types.Form
	Messages []types.ConversationMessage
}

// LastUserMessage returns the content of the newest user message.
func (r *Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == types.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

type Recognizer interface {
	RecognizeMode(ctx context.Context, req *Request) (Mode, error)
}
