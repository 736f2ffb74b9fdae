// Package draft holds the in-memory working copy of a form for one editing
// session and turns accepted mutations into replayable events.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tbxark/formpilot/mutation"
	"github.com/tbxark/formpilot/types"
)

var ErrCommitted = errors.New("draft already committed")

type State string

const (
	StateDraft     State = "draft"
	StateCommitted State = "committed"
)

// Committer is the slice of the persistence layer a draft needs.
type Committer interface {
	Put(ctx context.Context, form types.Form) (types.Form, error)
}

type Option func(*Draft)

// WithClock overrides the time source used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Draft) {
		if now != nil {
			d.now = now
		}
	}
}

// Draft is not safe for concurrent use; a session owns exactly one.
type Draft struct {
	form    types.Form
	base    types.Form
	state   State
	applied []types.Event
	failed  int
	now     func() time.Time
}

func New(form types.Form, opts ...Option) *Draft {
	d := &Draft{
		form:  form.Clone(),
		base:  form.Clone(),
		state: StateDraft,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.form.Fields == nil {
		d.form.Fields = []types.Field{}
	}
	return d
}

// Apply runs m against the working copy. On failure the copy is untouched
// and the returned error is a *mutation.Error (or ErrCommitted).
func (d *Draft) Apply(m types.Mutation) (types.Event, error) {
	if d.state == StateCommitted {
		return nil, ErrCommitted
	}
	var from int
	if mv, ok := m.(types.MoveField); ok {
		from = d.form.FieldIndex(strings.TrimSpace(mv.ID))
	}
	next, err := mutation.Apply(d.form, m)
	if err != nil {
		d.failed++
		return nil, err
	}
	next.UpdatedAt = d.now()
	d.form = next
	event := d.eventFor(m, from)
	d.applied = append(d.applied, event)
	slog.Debug("Applied mutation", "form_id", d.form.ID, "kind", m.Kind(), "fields", len(d.form.Fields))
	return event, nil
}

func (d *Draft) eventFor(m types.Mutation, from int) types.Event {
	switch m := m.(type) {
	case types.SetTitle:
		return types.TitleUpdated{Title: d.form.Title}
	case types.SetDescription:
		return types.DescriptionUpdated{Description: d.form.Description}
	case types.AddField:
		idx := d.form.FieldIndex(strings.TrimSpace(m.Field.ID))
		return types.FieldAdded{Field: d.form.Fields[idx].Clone()}
	case types.UpdateField:
		id := strings.TrimSpace(m.ID)
		return types.FieldUpdated{ID: id, Field: d.form.Fields[d.form.FieldIndex(id)].Clone()}
	case types.DeleteField:
		return types.FieldDeleted{ID: strings.TrimSpace(m.ID)}
	case types.MoveField:
		id := strings.TrimSpace(m.ID)
		return types.FieldMoved{ID: id, FromPosition: from, ToPosition: d.form.FieldIndex(id)}
	default:
		panic(fmt.Sprintf("draft: no event for mutation %T", m))
	}
}

// Snapshot returns a deep copy of the working form.
func (d *Draft) Snapshot() types.Form {
	return d.form.Clone()
}

// Base returns the form as it was when the draft was seeded.
func (d *Draft) Base() types.Form {
	return d.base.Clone()
}

// Applied lists the events of all successful mutations in order.
func (d *Draft) Applied() []types.Event {
	return append([]types.Event(nil), d.applied...)
}

func (d *Draft) Failed() int {
	return d.failed
}

func (d *Draft) State() State {
	return d.state
}

// Commit writes the working copy once. The draft is committed even when the
// write fails so that a session never commits twice.
func (d *Draft) Commit(ctx context.Context, c Committer) (types.Form, error) {
	if d.state == StateCommitted {
		return types.Form{}, ErrCommitted
	}
	d.state = StateCommitted
	saved, err := c.Put(ctx, d.form.Clone())
	if err != nil {
		return types.Form{}, fmt.Errorf("commit form %s: %w", d.form.ID, err)
	}
	d.form = saved.Clone()
	return saved, nil
}
