// Package agent runs the bounded tool-calling loop that edits a draft.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/formpilot/draft"
	"github.com/tbxark/formpilot/history"
	"github.com/tbxark/formpilot/summary"
	"github.com/tbxark/formpilot/tools"
	"github.com/tbxark/formpilot/types"
)

const (
	DefaultStepBudget    = 30
	DefaultModelAttempts = 2
	DefaultKeepMessages  = 40
)

type Option func(*Driver)

// WithStepBudget bounds the number of model turns in one run.
func WithStepBudget(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.stepBudget = n
		}
	}
}

// WithModelAttempts sets how many times opening a model stream is tried
// before the run ends with an error.
func WithModelAttempts(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.attempts = n
		}
	}
}

func WithInstructions(instructions string) Option {
	return func(d *Driver) {
		d.instructions = instructions
	}
}

// WithSummaryGenerator sets the fallback summary source. nil disables it and
// the fixed default message is used instead.
func WithSummaryGenerator(g summary.Generator) Option {
	return func(d *Driver) {
		d.summarizer = g
	}
}

func WithTrimmer(t history.Trimmer) Option {
	return func(d *Driver) {
		d.trimmer = t
	}
}

// WithStateSchema adds the form JSON schema to the snapshot message.
func WithStateSchema(stateSchema string) Option {
	return func(d *Driver) {
		d.stateSchema = stateSchema
	}
}

type Driver struct {
	chatModel    model.ToolCallingChatModel
	stepBudget   int
	attempts     int
	temperature  float32
	instructions string
	stateSchema  string
	summarizer   summary.Generator
	trimmer      history.Trimmer
}

func NewDriver(chatModel model.ToolCallingChatModel, opts ...Option) (*Driver, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	d := &Driver{
		chatModel:    chatModel,
		stepBudget:   DefaultStepBudget,
		attempts:     DefaultModelAttempts,
		instructions: DefaultInstructions,
		summarizer:   summary.NewLocalGenerator(),
		trimmer:      history.KeepSystemLastNTrimmer{N: DefaultKeepMessages},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Input is everything one run needs. Instructions, when set, replace the
// driver's instructions for this run.
type Input struct {
	Draft        *draft.Draft
	Tools        *tools.Toolset
	Messages     []types.ConversationMessage
	Instructions string
}

type runState struct {
	reason    types.StopReason
	finishMsg string
	lastText  string
	userInput string
	doneSent  bool
}

// Run starts the loop on its own goroutine. The iterator yields events in
// the order they happened and always ends with exactly one types.Done.
func (d *Driver) Run(ctx context.Context, in *Input) *adk.AsyncIterator[types.Event] {
	iter, gen := adk.NewAsyncIteratorPair[types.Event]()
	go func() {
		st := &runState{}
		defer func() {
			if e := recover(); e != nil {
				slog.Error("Agent run panicked", "panic", e)
				if !st.doneSent {
					gen.Send(types.Done{Message: summary.DegradedMessage, Reason: types.StopError})
				}
			}
			gen.Close()
		}()
		done := d.run(ctx, in, gen, st)
		st.doneSent = true
		gen.Send(done)
	}()
	return iter
}

func (d *Driver) run(ctx context.Context, in *Input, gen *adk.AsyncGenerator[types.Event], st *runState) types.Done {
	ctx = callbacks.EnsureRunInfo(ctx, "FormPilot", "Agent")
	ctx = callbacks.OnStart(ctx, map[string]any{
		"form_id":  in.Draft.Snapshot().ID,
		"messages": len(in.Messages),
	})
	st.userInput = lastUserMessage(in.Messages)

	err := d.loop(ctx, in, gen, st)
	if err != nil {
		callbacks.OnError(ctx, err)
	}
	done := types.Done{Message: d.closingMessage(ctx, in, st), Reason: st.reason}
	callbacks.OnEnd(ctx, map[string]any{
		"reason":  string(done.Reason),
		"applied": len(in.Draft.Applied()),
		"failed":  in.Draft.Failed(),
	})
	slog.Debug("Agent run finished", "reason", done.Reason, "applied", len(in.Draft.Applied()), "failed", in.Draft.Failed())
	return done
}

func (d *Driver) loop(ctx context.Context, in *Input, gen *adk.AsyncGenerator[types.Event], st *runState) error {
	instructions := d.instructions
	if in.Instructions != "" {
		instructions = in.Instructions
	}
	msgs, err := buildMessages(instructions, d.stateSchema, in.Draft.Snapshot(), in.Messages, d.trimmer)
	if err != nil {
		st.reason = types.StopError
		return err
	}
	infos, err := in.Tools.Infos(ctx)
	if err != nil {
		st.reason = types.StopError
		return err
	}
	cm, err := d.chatModel.WithTools(infos)
	if err != nil {
		st.reason = types.StopError
		return fmt.Errorf("bind tools: %w", err)
	}

	st.reason = types.StopBudget
	for step := 0; step < d.stepBudget; step++ {
		if ctx.Err() != nil {
			st.reason = types.StopCancelled
			return nil
		}
		slog.Debug("Agent step", "step", step, "messages", len(msgs))
		msg, tErr := d.turn(ctx, cm, msgs, gen)
		if tErr != nil {
			if ctx.Err() != nil {
				st.reason = types.StopCancelled
				return nil
			}
			st.reason = types.StopError
			return tErr
		}
		msgs = append(msgs, msg)
		st.lastText = msg.Content
		if len(msg.ToolCalls) == 0 {
			st.reason = types.StopNoToolUse
			return nil
		}

		finished := false
		for _, call := range msg.ToolCalls {
			if ctx.Err() != nil {
				st.reason = types.StopCancelled
				return nil
			}
			out := in.Tools.Invoke(ctx, call)
			if out.Event != nil {
				gen.Send(out.Event)
			}
			if out.Finished {
				finished = true
				st.finishMsg = out.Message
			}
			msgs = append(msgs, schema.ToolMessage(out.Result, call.ID, schema.WithToolName(call.Function.Name)))
		}
		if finished {
			st.reason = types.StopFinished
			return nil
		}
	}
	return nil
}

// turn streams one model response. Text chunks are forwarded as they
// arrive; the concatenated message is returned for tool dispatch.
func (d *Driver) turn(ctx context.Context, cm model.ToolCallingChatModel, msgs []*schema.Message, gen *adk.AsyncGenerator[types.Event]) (*schema.Message, error) {
	var (
		sr  *schema.StreamReader[*schema.Message]
		err error
	)
	for attempt := 1; attempt <= d.attempts; attempt++ {
		sr, err = cm.Stream(ctx, msgs, model.WithTemperature(d.temperature))
		if err == nil {
			break
		}
		slog.Warn("Model stream failed to open", "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open model stream: %w", err)
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, rErr := sr.Recv()
		if errors.Is(rErr, io.EOF) {
			break
		}
		if rErr != nil {
			return nil, fmt.Errorf("read model stream: %w", rErr)
		}
		if chunk == nil {
			continue
		}
		if chunk.Content != "" {
			gen.Send(types.AssistantText{Delta: chunk.Content})
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat model stream: %w", err)
	}
	return msg, nil
}

// closingMessage picks the done message: the finish message, then the
// model's own closing text, then the summary generator, then the default.
func (d *Driver) closingMessage(ctx context.Context, in *Input, st *runState) string {
	if st.reason == types.StopError {
		return summary.DegradedMessage
	}
	if st.reason == types.StopFinished && st.finishMsg != "" {
		return st.finishMsg
	}
	if st.reason == types.StopFinished || st.reason == types.StopNoToolUse {
		if text := strings.TrimSpace(st.lastText); text != "" {
			return text
		}
	}
	if d.summarizer != nil {
		msg, err := d.summarizer.Summarize(ctx, &summary.Request{
			Form:    in.Draft.Snapshot(),
			Applied: in.Draft.Applied(),
			Failed:  in.Draft.Failed(),
			Request: st.userInput,
		})
		if err == nil && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
		if err != nil {
			slog.Debug("Summary generation failed", "error", err)
		}
	}
	return summary.DefaultMessage
}

func lastUserMessage(msgs []types.ConversationMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
