package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/formpilot/mutation"
	"github.com/tbxark/formpilot/types"
)

type recordingCommitter struct {
	puts []types.Form
	err  error
}

func (r *recordingCommitter) Put(ctx context.Context, form types.Form) (types.Form, error) {
	if r.err != nil {
		return types.Form{}, r.err
	}
	form.Version++
	r.puts = append(r.puts, form)
	return form, nil
}

func tickingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newDraft(t *testing.T) *Draft {
	t.Helper()
	form := types.NewForm("f1", "u1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(form, WithClock(tickingClock()))
}

func TestApplyProducesReplayEvents(t *testing.T) {
	d := newDraft(t)

	ev, err := d.Apply(types.SetTitle{Title: "Signup"})
	require.NoError(t, err)
	assert.Equal(t, types.TitleUpdated{Title: "Signup"}, ev)

	ev, err = d.Apply(types.AddField{Field: types.Field{ID: "a", Label: "Name", Kind: types.KindSingleLineText, Position: 4}})
	require.NoError(t, err)
	assert.Equal(t, types.FieldAdded{Field: types.Field{ID: "a", Label: "Name", Kind: types.KindSingleLineText, Position: 0}}, ev)

	_, err = d.Apply(types.AddField{Field: types.Field{ID: "b", Label: "Email", Kind: types.KindSingleLineText, Position: 1}})
	require.NoError(t, err)

	ev, err = d.Apply(types.MoveField{ID: "b", FromPosition: 7, ToPosition: 0})
	require.NoError(t, err)
	assert.Equal(t, types.FieldMoved{ID: "b", FromPosition: 1, ToPosition: 0}, ev)

	required := true
	ev, err = d.Apply(types.UpdateField{ID: "a", Patch: types.FieldPatch{Required: &required}})
	require.NoError(t, err)
	assert.Equal(t, types.FieldUpdated{ID: "a", Field: types.Field{ID: "a", Label: "Name", Kind: types.KindSingleLineText, Required: true, Position: 1}}, ev)

	ev, err = d.Apply(types.DeleteField{ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, types.FieldDeleted{ID: "b"}, ev)

	snap := d.Snapshot()
	require.Len(t, snap.Fields, 1)
	assert.Equal(t, 0, snap.Fields[0].Position)
	assert.Len(t, d.Applied(), 6)
}

func TestFailedMutationChangesNothing(t *testing.T) {
	d := newDraft(t)
	_, err := d.Apply(types.AddField{Field: types.Field{ID: "a", Label: "Name", Kind: types.KindSingleLineText}})
	require.NoError(t, err)
	before := d.Snapshot()

	failing := []types.Mutation{
		types.AddField{Field: types.Field{ID: "a", Label: "Again", Kind: types.KindSingleLineText}},
		types.AddField{Field: types.Field{ID: "c", Label: "Pick", Kind: types.KindSingleChoice}},
		types.DeleteField{ID: "zz"},
		types.MoveField{ID: "a", ToPosition: 5},
		types.SetTitle{Title: ""},
	}
	for _, m := range failing {
		_, err := d.Apply(m)
		var mErr *mutation.Error
		require.ErrorAs(t, err, &mErr)

		after := d.Snapshot()
		assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
		assert.Equal(t, len(before.Fields), len(after.Fields))
		assert.Equal(t, before.Title, after.Title)
		assert.Equal(t, before.Description, after.Description)
	}
	assert.Equal(t, len(failing), d.Failed())
	assert.Len(t, d.Applied(), 1)
}

func TestSnapshotIsIsolated(t *testing.T) {
	d := newDraft(t)
	_, err := d.Apply(types.AddField{Field: types.Field{ID: "c", Label: "Pick", Kind: types.KindSingleChoice, Options: []string{"x"}}})
	require.NoError(t, err)

	snap := d.Snapshot()
	snap.Fields[0].Options[0] = "mutated"
	assert.Equal(t, "x", d.Snapshot().Fields[0].Options[0])
}

func TestCommitOnce(t *testing.T) {
	d := newDraft(t)
	_, err := d.Apply(types.SetTitle{Title: "T"})
	require.NoError(t, err)

	c := &recordingCommitter{}
	saved, err := d.Commit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "T", saved.Title)
	assert.Equal(t, StateCommitted, d.State())
	require.Len(t, c.puts, 1)

	_, err = d.Commit(context.Background(), c)
	require.ErrorIs(t, err, ErrCommitted)
	_, err = d.Apply(types.SetTitle{Title: "later"})
	require.ErrorIs(t, err, ErrCommitted)
}

func TestCommitFailureStillCloses(t *testing.T) {
	d := newDraft(t)
	boom := errors.New("disk full")
	_, err := d.Commit(context.Background(), &recordingCommitter{err: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateCommitted, d.State())
}
