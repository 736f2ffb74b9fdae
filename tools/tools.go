// Package tools exposes the form mutation primitives to a tool-calling model.
// A Toolset is built for one session and closes over that session's draft.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/formpilot/draft"
	"github.com/tbxark/formpilot/mutation"
	"github.com/tbxark/formpilot/structured"
	"github.com/tbxark/formpilot/types"
)

// Codes reported in tool_error events besides the mutation error codes.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodeInternal         = "internal_error"
)

// Outcome is what a single tool call produced. Event is a mutation event, a
// ToolError, or nil for finish. Result is fed back to the model verbatim.
type Outcome struct {
	Event    types.Event
	Result   string
	Finished bool
	Message  string
}

// Capability is one named tool bound to a session.
type Capability interface {
	tool.InvokableTool
	Name() string
	Call(ctx context.Context, arguments string) Outcome
}

type options struct {
	readOnly bool
}

type Option func(*options)

// WithReadOnly limits the toolset to finish; used when the user only asks
// about the form.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

type Toolset struct {
	order []string
	caps  map[string]Capability
}

func New(d *draft.Draft, opts ...Option) (*Toolset, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var caps []Capability
	if !o.readOnly {
		mutating, err := mutationCapabilities(d)
		if err != nil {
			return nil, err
		}
		caps = append(caps, mutating...)
	}
	finish, err := newFinishTool()
	if err != nil {
		return nil, err
	}
	caps = append(caps, finish)

	ts := &Toolset{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		ts.order = append(ts.order, c.Name())
		ts.caps[c.Name()] = c
	}
	return ts, nil
}

func (t *Toolset) Names() []string {
	return append([]string(nil), t.order...)
}

func (t *Toolset) Lookup(name string) (Capability, bool) {
	c, ok := t.caps[name]
	return c, ok
}

// Infos returns the tool declarations in a stable order.
func (t *Toolset) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(t.order))
	for _, name := range t.order {
		info, err := t.caps[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Tools returns the capabilities as eino tools.
func (t *Toolset) Tools() []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.caps[name])
	}
	return out
}

// Invoke runs one model tool call. Failures never escape as Go errors; they
// become a tool_error event and an error result for the model.
func (t *Toolset) Invoke(ctx context.Context, call schema.ToolCall) Outcome {
	name := call.Function.Name
	c, ok := t.caps[name]
	if !ok {
		slog.Debug("Unknown tool requested", "tool", name)
		return failure(name, CodeUnknownTool, fmt.Sprintf("no tool named %q; available: %s", name, strings.Join(t.order, ", ")))
	}
	return c.Call(ctx, call.Function.Arguments)
}

type toolResult struct {
	OK         bool            `json:"ok"`
	Type       types.EventType `json:"type,omitempty"`
	Applied    types.Event     `json:"applied,omitempty"`
	FieldCount *int            `json:"fieldCount,omitempty"`
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func encodeResult(r toolResult) string {
	s, err := sonic.MarshalString(r)
	if err != nil {
		return fmt.Sprintf(`{"ok":%t}`, r.OK)
	}
	return s
}

func failure(tool, code, msg string) Outcome {
	return Outcome{
		Event:  types.ToolError{Tool: tool, Code: code, Error: msg},
		Result: encodeResult(toolResult{OK: false, Code: code, Error: msg}),
	}
}

func failureFromError(tool string, err error) Outcome {
	var mErr *mutation.Error
	if errors.As(err, &mErr) {
		return failure(tool, string(mErr.Code), mErr.Message)
	}
	return failure(tool, CodeInternal, err.Error())
}

// mutationTool adapts one primitive. build turns decoded arguments into a
// mutation; any error it returns is reported as invalid_arguments unless it
// is already a *mutation.Error.
type mutationTool[In any] struct {
	spec  *structured.Spec[In]
	draft *draft.Draft
	build func(d *draft.Draft, in In) (types.Mutation, error)
}

func newMutationTool[In any](d *draft.Draft, name, desc string, build func(*draft.Draft, In) (types.Mutation, error)) (*mutationTool[In], error) {
	spec, err := structured.NewSpec[In](name, desc)
	if err != nil {
		return nil, fmt.Errorf("build %s tool: %w", name, err)
	}
	return &mutationTool[In]{spec: spec, draft: d, build: build}, nil
}

func (m *mutationTool[In]) Name() string {
	return m.spec.Name()
}

func (m *mutationTool[In]) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return m.spec.Info, nil
}

func (m *mutationTool[In]) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return m.Call(ctx, argumentsInJSON).Result, nil
}

func (m *mutationTool[In]) Call(ctx context.Context, arguments string) Outcome {
	name := m.Name()
	in, err := m.spec.Decode(arguments)
	if err != nil {
		return failure(name, CodeInvalidArguments, fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}
	mut, err := m.build(m.draft, in)
	if err != nil {
		if errors.As(err, new(*mutation.Error)) {
			return failureFromError(name, err)
		}
		return failure(name, CodeInvalidArguments, err.Error())
	}
	ev, err := m.draft.Apply(mut)
	if err != nil {
		slog.Debug("Tool call rejected", "tool", name, "error", err)
		return failureFromError(name, err)
	}
	count := len(m.draft.Snapshot().Fields)
	return Outcome{
		Event:  ev,
		Result: encodeResult(toolResult{OK: true, Type: ev.EventType(), Applied: ev, FieldCount: &count}),
	}
}

func mutationCapabilities(d *draft.Draft) ([]Capability, error) {
	title, err := newMutationTool(d, NameUpdateTitle, descUpdateTitle, func(_ *draft.Draft, in UpdateTitleInput) (types.Mutation, error) {
		return types.SetTitle{Title: in.Title}, nil
	})
	if err != nil {
		return nil, err
	}
	desc, err := newMutationTool(d, NameUpdateDescription, descUpdateDescription, func(_ *draft.Draft, in UpdateDescriptionInput) (types.Mutation, error) {
		return types.SetDescription{Description: in.Description}, nil
	})
	if err != nil {
		return nil, err
	}
	add, err := newMutationTool(d, NameAddField, descAddField, buildAddField)
	if err != nil {
		return nil, err
	}
	update, err := newMutationTool(d, NameUpdateField, descUpdateField, buildUpdateField)
	if err != nil {
		return nil, err
	}
	del, err := newMutationTool(d, NameDeleteField, descDeleteField, func(_ *draft.Draft, in DeleteFieldInput) (types.Mutation, error) {
		return types.DeleteField{ID: in.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	move, err := newMutationTool(d, NameMoveField, descMoveField, buildMoveField)
	if err != nil {
		return nil, err
	}
	return []Capability{title, desc, add, update, del, move}, nil
}

func parseKind(raw string) (types.FieldKind, error) {
	kind, err := types.ParseFieldKind(raw)
	if err != nil {
		return "", &mutation.Error{Code: mutation.CodeInvalidField, Message: err.Error()}
	}
	return kind, nil
}

func buildAddField(d *draft.Draft, in AddFieldInput) (types.Mutation, error) {
	kind, err := parseKind(in.Kind)
	if err != nil {
		return nil, err
	}
	position := len(d.Snapshot().Fields)
	if in.Position != nil {
		position = *in.Position
	}
	return types.AddField{Field: types.Field{
		ID:       in.ID,
		Label:    in.Label,
		Kind:     kind,
		Options:  in.Options,
		Required: in.Required,
		Position: position,
	}}, nil
}

func buildUpdateField(_ *draft.Draft, in UpdateFieldInput) (types.Mutation, error) {
	var patch types.FieldPatch
	patch.Label = in.Label
	patch.Required = in.Required
	if in.Kind != nil {
		kind, err := parseKind(*in.Kind)
		if err != nil {
			return nil, err
		}
		patch.Kind = &kind
	}
	if in.Options != nil {
		opts := in.Options
		patch.Options = &opts
	}
	return types.UpdateField{ID: in.ID, Patch: patch}, nil
}

func buildMoveField(d *draft.Draft, in MoveFieldInput) (types.Mutation, error) {
	from := d.Snapshot().FieldIndex(strings.TrimSpace(in.ID))
	if in.FromPosition != nil {
		from = *in.FromPosition
	}
	return types.MoveField{ID: in.ID, FromPosition: from, ToPosition: in.ToPosition}, nil
}

type finishTool struct {
	spec *structured.Spec[FinishInput]
}

func newFinishTool() (*finishTool, error) {
	spec, err := structured.NewSpec[FinishInput](NameFinish, descFinish)
	if err != nil {
		return nil, fmt.Errorf("build %s tool: %w", NameFinish, err)
	}
	return &finishTool{spec: spec}, nil
}

func (f *finishTool) Name() string {
	return f.spec.Name()
}

func (f *finishTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return f.spec.Info, nil
}

func (f *finishTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return f.Call(ctx, argumentsInJSON).Result, nil
}

func (f *finishTool) Call(ctx context.Context, arguments string) Outcome {
	in, err := f.spec.Decode(arguments)
	if err != nil {
		return failure(NameFinish, CodeInvalidArguments, fmt.Sprintf("invalid arguments for %s: %v", NameFinish, err))
	}
	return Outcome{
		Result:   encodeResult(toolResult{OK: true}),
		Finished: true,
		Message:  strings.TrimSpace(in.Message),
	}
}
