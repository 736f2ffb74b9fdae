// Package summary produces the closing message of an editing session.
package summary

import (
	"context"

	"github.com/tbxark/formpilot/types"
)

const (
	DefaultMessage  = "Form updated successfully."
	DegradedMessage = "Form updated with some issues. Please review changes."
)

type Request struct {
	Form    types.Form
	Applied []types.Event
	Failed  int
	// Request is the user's latest message.
	Request string
}

type Generator interface {
	Summarize(ctx context.Context, req *Request) (string, error)
}
