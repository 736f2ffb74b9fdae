// Package session runs one agent editing request end to end: resolve the
// form, stream every event in order, commit the draft and write done.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbxark/formpilot/agent"
	"github.com/tbxark/formpilot/draft"
	"github.com/tbxark/formpilot/intent"
	"github.com/tbxark/formpilot/metrics"
	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/summary"
	"github.com/tbxark/formpilot/tools"
	"github.com/tbxark/formpilot/types"
)

var (
	ErrInvalidRequest = errors.New("invalid session request")
	ErrBusy           = store.ErrBusy
)

const commitTimeout = 10 * time.Second

type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
)

type Request struct {
	FormID   string                      `json:"formId"`
	UserID   string                      `json:"userId"`
	Request  Kind                        `json:"request"`
	Form     *types.Form                 `json:"form,omitempty"`
	Messages []types.ConversationMessage `json:"messages"`
	Mode     string                      `json:"mode,omitempty"`
	// AIMode is the older name of Mode.
	AIMode string `json:"aiMode,omitempty"`
}

func (r *Request) mode() string {
	if r.Mode != "" {
		return r.Mode
	}
	return r.AIMode
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.FormID) == "" {
		return fmt.Errorf("%w: formId is required", ErrInvalidRequest)
	}
	if r.Request != KindCreate && r.Request != KindEdit {
		return fmt.Errorf("%w: request must be %q or %q", ErrInvalidRequest, KindCreate, KindEdit)
	}
	hasUser := false
	for _, msg := range r.Messages {
		switch msg.Role {
		case types.RoleUser:
			hasUser = true
		case types.RoleAssistant, types.RoleSystem:
		default:
			return fmt.Errorf("%w: unknown message role %q", ErrInvalidRequest, msg.Role)
		}
	}
	if !hasUser {
		return fmt.Errorf("%w: at least one user message is required", ErrInvalidRequest)
	}
	if _, err := intent.ParseMode(r.mode()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

type Option func(*Manager)

// WithRecognizer picks the mode of "auto" requests.
func WithRecognizer(r intent.Recognizer) Option {
	return func(m *Manager) {
		if r != nil {
			m.recognizer = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLocks(l *store.Locks) Option {
	return func(m *Manager) {
		if l != nil {
			m.locks = l
		}
	}
}

// Manager opens sessions. It is safe for concurrent use.
type Manager struct {
	forms      store.FormStore
	driver     *agent.Driver
	recognizer intent.Recognizer
	locks      *store.Locks
	now        func() time.Time
}

func NewManager(forms store.FormStore, driver *agent.Driver, opts ...Option) *Manager {
	m := &Manager{
		forms:      forms,
		driver:     driver,
		recognizer: intent.NewLocalRecognizer(),
		locks:      store.NewLocks(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Locks returns the registry sessions lock forms in; direct edits and syncs
// share it so they never race a session's commit.
func (m *Manager) Locks() *store.Locks {
	return m.locks
}

// Open does every check that can fail before the first byte is streamed.
// The returned session holds the form lock until Stream returns or Close
// is called.
func (m *Manager) Open(ctx context.Context, identity types.Identity, req Request) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = identity.UserID
	}
	if req.UserID != identity.UserID {
		return nil, fmt.Errorf("%w: userId does not match the authenticated user", store.ErrForbidden)
	}
	release, ok := m.locks.TryLock(req.FormID)
	if !ok {
		return nil, ErrBusy
	}
	form, err := m.resolve(ctx, req)
	if err != nil {
		release()
		return nil, err
	}
	mode := m.resolveMode(ctx, req, form)
	s := &Session{
		ID:       uuid.NewString(),
		manager:  m,
		form:     form,
		mode:     mode,
		messages: req.Messages,
		release:  release,
	}
	slog.Debug("Opened session", "session_id", s.ID, "form_id", form.ID, "request", req.Request, "mode", mode)
	return s, nil
}

func (m *Manager) resolve(ctx context.Context, req Request) (types.Form, error) {
	switch req.Request {
	case KindCreate:
		created, err := m.forms.Create(ctx, req.FormID, req.UserID)
		if err != nil {
			return types.Form{}, err
		}
		return m.replayFallback(created, req.Form), nil
	default:
		form, err := m.forms.Get(ctx, req.FormID)
		if err != nil {
			return types.Form{}, err
		}
		if form.OwnerID != req.UserID {
			return types.Form{}, store.ErrForbidden
		}
		return form, nil
	}
}

// replayFallback applies the client's snapshot of a new form as ordinary
// mutations. Parts that do not validate are skipped.
func (m *Manager) replayFallback(form types.Form, fallback *types.Form) types.Form {
	if fallback == nil {
		return form
	}
	d := draft.New(form, draft.WithClock(m.now))
	var muts []types.Mutation
	if title := strings.TrimSpace(fallback.Title); title != "" && title != form.Title {
		muts = append(muts, types.SetTitle{Title: title})
	}
	if fallback.Description != "" {
		muts = append(muts, types.SetDescription{Description: fallback.Description})
	}
	for i, field := range fallback.Fields {
		if kind, err := types.ParseFieldKind(string(field.Kind)); err == nil {
			field.Kind = kind
		}
		field.Position = i
		muts = append(muts, types.AddField{Field: field})
	}
	for _, mut := range muts {
		if _, err := d.Apply(mut); err != nil {
			slog.Warn("Skipped fallback mutation", "form_id", form.ID, "kind", mut.Kind(), "error", err)
		}
	}
	return d.Snapshot()
}

func (m *Manager) resolveMode(ctx context.Context, req Request, form types.Form) intent.Mode {
	mode, _ := intent.ParseMode(req.mode())
	if mode != intent.Auto {
		return mode
	}
	recognized, err := m.recognizer.RecognizeMode(ctx, &intent.Request{Form: form, Messages: req.Messages})
	if err != nil || recognized == intent.Auto {
		slog.Debug("Mode recognition failed, using agent mode", "error", err)
		return intent.Agent
	}
	return recognized
}

type Session struct {
	ID       string
	manager  *Manager
	form     types.Form
	mode     intent.Mode
	messages []types.ConversationMessage
	release  func()
}

// Form is the form the session starts from.
func (s *Session) Form() types.Form {
	return s.form.Clone()
}

func (s *Session) Mode() intent.Mode {
	return s.mode
}

// Close releases the form lock of a session that will not be streamed.
func (s *Session) Close() {
	s.release()
}

// Stream runs the agent and writes its events to w in order, then commits
// the draft and writes exactly one done. When w fails the run is cancelled
// but the draft is still committed. The returned error is the first write
// error, if any.
func (s *Session) Stream(ctx context.Context, w EventWriter) (types.Done, error) {
	defer s.release()
	started := time.Now()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	m := s.manager
	d := draft.New(s.form, draft.WithClock(m.now))
	in := &agent.Input{Draft: d, Messages: s.messages}
	var opts []tools.Option
	if s.mode == intent.Ask {
		opts = append(opts, tools.WithReadOnly())
		in.Instructions = agent.AskInstructions
	}

	var (
		done     types.Done
		writeErr error
	)
	ts, err := tools.New(d, opts...)
	if err != nil {
		slog.Error("Failed to build toolset", "session_id", s.ID, "error", err)
		done = types.Done{Message: summary.DegradedMessage, Reason: types.StopError}
	} else {
		in.Tools = ts
		done, writeErr = s.forward(ctx, in, w)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if _, err := d.Commit(commitCtx, m.forms); err != nil {
		metrics.CommitFailures.Inc()
		slog.Error("Failed to commit draft", "session_id", s.ID, "form_id", s.form.ID, "error", err)
		done.Message = summary.DegradedMessage
	}
	if done.Message == "" {
		done = types.Done{Message: summary.DegradedMessage, Reason: types.StopError}
	}
	if writeErr == nil {
		if writeErr = w.WriteEvent(done); writeErr == nil {
			metrics.ObserveEvent(done)
		}
	}
	metrics.ObserveSession(done.Reason, started)
	slog.Debug("Session finished", "session_id", s.ID, "reason", done.Reason, "applied", len(d.Applied()), "failed", d.Failed())
	return done, writeErr
}

// forward drains the driver. After a write failure it keeps draining so
// the driver goroutine can finish, without writing.
func (s *Session) forward(ctx context.Context, in *agent.Input, w EventWriter) (types.Done, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	iter := s.manager.driver.Run(runCtx, in)

	var (
		done     types.Done
		writeErr error
	)
	for {
		ev, ok := iter.Next()
		if !ok {
			break
		}
		if dn, isDone := ev.(types.Done); isDone {
			done = dn
			continue
		}
		if writeErr != nil {
			continue
		}
		if err := w.WriteEvent(ev); err != nil {
			writeErr = err
			cancel()
			slog.Warn("Client write failed, stopping run", "session_id", s.ID, "error", err)
			continue
		}
		metrics.ObserveEvent(ev)
	}
	return done, writeErr
}
