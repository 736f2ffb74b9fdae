package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/formpilot/draft"
	"github.com/tbxark/formpilot/fakemodel"
	"github.com/tbxark/formpilot/summary"
	"github.com/tbxark/formpilot/tools"
	"github.com/tbxark/formpilot/types"
)

func newInput(t *testing.T, opts ...tools.Option) *Input {
	t.Helper()
	d := draft.New(types.NewForm("f1", "u1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	ts, err := tools.New(d, opts...)
	require.NoError(t, err)
	return &Input{
		Draft: d,
		Tools: ts,
		Messages: []types.ConversationMessage{
			{Role: types.RoleUser, Content: "Make a contact form"},
		},
	}
}

func collect(t *testing.T, drv *Driver, ctx context.Context, in *Input) []types.Event {
	t.Helper()
	iter := drv.Run(ctx, in)
	var events []types.Event
	for {
		ev, ok := iter.Next()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	dones := 0
	for _, ev := range events {
		if _, ok := ev.(types.Done); ok {
			dones++
		}
	}
	require.Equal(t, 1, dones, "exactly one done")
	_, last := events[len(events)-1].(types.Done)
	require.True(t, last, "done is last")
	return events
}

func lastDone(events []types.Event) types.Done {
	return events[len(events)-1].(types.Done)
}

func newDriver(t *testing.T, m *fakemodel.Model, opts ...Option) *Driver {
	t.Helper()
	drv, err := NewDriver(m, opts...)
	require.NoError(t, err)
	return drv
}

func TestRunStopsOnFinish(t *testing.T) {
	m := fakemodel.New(
		fakemodel.Calls(
			fakemodel.Call("c1", tools.NameAddField, `{"id":"name","label":"Name","kind":"text"}`),
			fakemodel.Call("c2", tools.NameAddField, `{"id":"email","label":"Email","kind":"text"}`),
		),
		fakemodel.Calls(fakemodel.Call("c3", tools.NameFinish, `{"message":"Added name and email."}`)),
	)
	in := newInput(t)
	events := collect(t, newDriver(t, m), context.Background(), in)

	require.Len(t, events, 3)
	assert.Equal(t, types.EventAddField, events[0].EventType())
	assert.Equal(t, types.EventAddField, events[1].EventType())
	assert.Equal(t, types.Done{Message: "Added name and email.", Reason: types.StopFinished}, lastDone(events))
	assert.Len(t, in.Draft.Snapshot().Fields, 2)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.NotNil(t, reqs[0].Options.Temperature)
	assert.Equal(t, float32(0), *reqs[0].Options.Temperature)
	assert.Len(t, m.Tools(), 7)

	second := reqs[1].Messages
	var toolMsgs []*schema.Message
	for _, msg := range second {
		if msg.Role == schema.Tool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "c1", toolMsgs[0].ToolCallID)
	assert.Contains(t, toolMsgs[0].Content, `"ok":true`)
	assert.Contains(t, toolMsgs[1].Content, `"fieldCount":2`)
}

func TestRunStateComesFromToolResults(t *testing.T) {
	m := fakemodel.New(
		fakemodel.Calls(fakemodel.Call("c1", tools.NameAddField, `{"id":"name","label":"Name","kind":"text"}`)),
		fakemodel.Calls(fakemodel.Call("c2", tools.NameFinish, `{"message":"Added name."}`)),
	)
	collect(t, newDriver(t, m), context.Background(), newInput(t))

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, DefaultInstructions, reqs[0].Messages[0].Content)
	assert.Contains(t, DefaultInstructions, "fieldCount")
	assert.NotContains(t, DefaultInstructions, "updated after every")
	// The snapshot is taken once; the model learns about the new field from
	// the tool result.
	assert.Equal(t, reqs[0].Messages[1].Content, reqs[1].Messages[1].Content)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Contains(t, last.Content, `"fieldCount":1`)
}

func TestRunStreamsTextInOrder(t *testing.T) {
	first := fakemodel.Text("Let me ", "add it.")
	first.Chunks = append(first.Chunks, fakemodel.Calls(
		fakemodel.Call("c1", tools.NameAddField, `{"id":"name","label":"Name","kind":"text"}`),
		fakemodel.Call("c2", tools.NameAddField, `{"id":"name","label":"Again","kind":"text"}`),
	).Chunks...)
	m := fakemodel.New(first, fakemodel.Text("  All set. "))

	events := collect(t, newDriver(t, m), context.Background(), newInput(t))
	require.Len(t, events, 6)
	assert.Equal(t, types.AssistantText{Delta: "Let me "}, events[0])
	assert.Equal(t, types.AssistantText{Delta: "add it."}, events[1])
	assert.Equal(t, types.EventAddField, events[2].EventType())
	toolErr, ok := events[3].(types.ToolError)
	require.True(t, ok, "got %T", events[3])
	assert.Equal(t, "duplicate_field_id", toolErr.Code)
	assert.Equal(t, types.AssistantText{Delta: "  All set. "}, events[4])
	assert.Equal(t, types.Done{Message: "All set.", Reason: types.StopNoToolUse}, lastDone(events))
}

func TestRunBudgetExhaustedUsesSynthesizedMessage(t *testing.T) {
	turns := []fakemodel.Turn{
		fakemodel.Calls(fakemodel.Call("c1", tools.NameAddField, `{"id":"a","label":"A","kind":"text"}`)),
		fakemodel.Calls(fakemodel.Call("c2", tools.NameAddField, `{"id":"b","label":"B","kind":"text"}`)),
		fakemodel.Calls(fakemodel.Call("c3", tools.NameAddField, `{"id":"c","label":"C","kind":"text"}`)),
	}

	m := fakemodel.New(turns...)
	events := collect(t, newDriver(t, m, WithStepBudget(2), WithSummaryGenerator(nil)), context.Background(), newInput(t))
	require.Len(t, events, 3)
	assert.Equal(t, types.Done{Message: summary.DefaultMessage, Reason: types.StopBudget}, lastDone(events))
	assert.Len(t, m.Requests(), 2)

	m = fakemodel.New(turns...)
	events = collect(t, newDriver(t, m, WithStepBudget(2)), context.Background(), newInput(t))
	done := lastDone(events)
	assert.Equal(t, types.StopBudget, done.Reason)
	assert.Equal(t, "I added 2 fields (A, B). The form now has 2 fields.", done.Message)
}

func TestRunRetriesOpeningStreamOnce(t *testing.T) {
	boom := errors.New("upstream 502")
	m := fakemodel.New(
		fakemodel.Turn{OpenErr: boom},
		fakemodel.Calls(fakemodel.Call("c1", tools.NameFinish, `{"message":"Nothing to do."}`)),
	)
	events := collect(t, newDriver(t, m), context.Background(), newInput(t))
	assert.Equal(t, types.Done{Message: "Nothing to do.", Reason: types.StopFinished}, lastDone(events))
}

func TestRunDegradesWhenModelFailsTwice(t *testing.T) {
	boom := errors.New("upstream 502")
	m := fakemodel.New(
		fakemodel.Calls(fakemodel.Call("c1", tools.NameUpdateTitle, `{"title":"Contact"}`)),
		fakemodel.Turn{OpenErr: boom},
		fakemodel.Turn{OpenErr: boom},
	)
	in := newInput(t)
	events := collect(t, newDriver(t, m), context.Background(), in)
	require.Len(t, events, 2)
	assert.Equal(t, types.TitleUpdated{Title: "Contact"}, events[0])
	assert.Equal(t, types.Done{Message: summary.DegradedMessage, Reason: types.StopError}, lastDone(events))
	assert.Equal(t, "Contact", in.Draft.Snapshot().Title)
}

func TestRunDegradesOnBrokenStream(t *testing.T) {
	turn := fakemodel.Text("Working on")
	turn.BrokenErr = errors.New("connection reset")
	m := fakemodel.New(turn)

	events := collect(t, newDriver(t, m), context.Background(), newInput(t))
	require.Len(t, events, 2)
	assert.Equal(t, types.AssistantText{Delta: "Working on"}, events[0])
	assert.Equal(t, types.StopError, lastDone(events).Reason)
	assert.Len(t, m.Requests(), 1)
}

func TestRunCancelledBeforeFirstStep(t *testing.T) {
	m := fakemodel.New(fakemodel.Text("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(t, newDriver(t, m, WithSummaryGenerator(nil)), ctx, newInput(t))
	require.Len(t, events, 1)
	assert.Equal(t, types.Done{Message: summary.DefaultMessage, Reason: types.StopCancelled}, lastDone(events))
	assert.Empty(t, m.Requests())
}

func TestRunReadOnlyInstructions(t *testing.T) {
	m := fakemodel.New(fakemodel.Calls(fakemodel.Call("c1", tools.NameFinish, `{"message":"It has no fields yet."}`)))
	in := newInput(t, tools.WithReadOnly())
	in.Instructions = AskInstructions

	events := collect(t, newDriver(t, m), context.Background(), in)
	assert.Equal(t, "It has no fields yet.", lastDone(events).Message)
	require.Len(t, m.Tools(), 1)
	reqs := m.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, AskInstructions, reqs[0].Messages[0].Content)
	assert.Contains(t, reqs[0].Messages[1].Content, "# Form state JSON")
	assert.Equal(t, "Make a contact form", reqs[0].Messages[2].Content)
}

func TestRunRecoversFromPanic(t *testing.T) {
	m := fakemodel.New()
	events := collect(t, newDriver(t, m), context.Background(), &Input{})
	assert.Equal(t, types.Done{Message: summary.DegradedMessage, Reason: types.StopError}, lastDone(events))
}

func TestNewDriverRequiresModel(t *testing.T) {
	_, err := NewDriver(nil)
	require.Error(t, err)
}
