// Package fakemodel provides a scripted model.ToolCallingChatModel for tests.
package fakemodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var ErrScriptExhausted = errors.New("fakemodel: no scripted turn left")

// Turn is one scripted model response. Chunks are streamed in order; when
// BrokenErr is set it is delivered after the chunks. OpenErr fails the call
// before any chunk.
type Turn struct {
	Chunks    []*schema.Message
	OpenErr   error
	BrokenErr error
}

// Text builds a turn that streams the given text fragments.
func Text(fragments ...string) Turn {
	chunks := make([]*schema.Message, 0, len(fragments))
	for _, f := range fragments {
		chunks = append(chunks, schema.AssistantMessage(f, nil))
	}
	return Turn{Chunks: chunks}
}

// Call builds a tool call for use with Calls.
func Call(id, name, arguments string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: arguments},
	}
}

// Calls builds a turn whose single chunk carries the given tool calls.
func Calls(calls ...schema.ToolCall) Turn {
	for i := range calls {
		idx := i
		calls[i].Index = &idx
	}
	return Turn{Chunks: []*schema.Message{schema.AssistantMessage("", calls)}}
}

type Request struct {
	Messages []*schema.Message
	Options  *model.Options
}

type Model struct {
	mu       sync.Mutex
	turns    []Turn
	tools    []*schema.ToolInfo
	requests []Request
}

var _ model.ToolCallingChatModel = (*Model)(nil)

func New(turns ...Turn) *Model {
	return &Model{turns: turns}
}

func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

func (m *Model) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

func (m *Model) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *Model) next(input []*schema.Message, opts []model.Option) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, Request{
		Messages: append([]*schema.Message(nil), input...),
		Options:  model.GetCommonOptions(nil, opts...),
	})
	if len(m.turns) == 0 {
		return Turn{}, ErrScriptExhausted
	}
	turn := m.turns[0]
	m.turns = m.turns[1:]
	return turn, nil
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	turn, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}
	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}
	if turn.BrokenErr != nil {
		return nil, turn.BrokenErr
	}
	if len(turn.Chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	msg, err := schema.ConcatMessages(turn.Chunks)
	if err != nil {
		return nil, fmt.Errorf("fakemodel: concat: %w", err)
	}
	return msg, nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	turn, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}
	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}
	if turn.BrokenErr == nil {
		return schema.StreamReaderFromArray(turn.Chunks), nil
	}
	sr, sw := schema.Pipe[*schema.Message](len(turn.Chunks) + 1)
	for _, chunk := range turn.Chunks {
		sw.Send(chunk, nil)
	}
	sw.Send(nil, turn.BrokenErr)
	sw.Close()
	return sr, nil
}
