package types

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldKind(t *testing.T) {
	cases := map[string]FieldKind{
		"text":             KindSingleLineText,
		" Para ":           KindMultiLineText,
		"paragraph":        KindMultiLineText,
		"radio":            KindSingleChoice,
		"CHECKBOX":         KindMultipleChoice,
		"single_line_text": KindSingleLineText,
	}
	for in, want := range cases {
		got, err := ParseFieldKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFieldKind("date")
	require.Error(t, err)
	assert.False(t, FieldKind("date").Valid())
	assert.True(t, KindMultipleChoice.IsChoice())
	assert.False(t, KindMultiLineText.IsChoice())
}

func TestFormJSON(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	form := NewForm("f1", "u1", now)
	data, err := sonic.Marshal(form)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"ownerId":"u1"`)
	assert.Contains(t, s, `"fields":[]`)
	assert.Contains(t, s, `"externalSyncState":{"synced":false}`)
	assert.NotContains(t, s, "description")

	var back Form
	require.NoError(t, sonic.Unmarshal(data, &back))
	assert.Equal(t, DefaultFormTitle, back.Title)
	assert.True(t, back.CreatedAt.Equal(now))
}

func TestFormClone(t *testing.T) {
	at := time.Now()
	form := Form{
		Fields: []Field{{ID: "q", Kind: KindSingleChoice, Options: []string{"a"}}},
		Sync:   SyncState{SyncedAt: &at},
	}
	c := form.Clone()
	c.Fields[0].Options[0] = "changed"
	c.Fields[0].Label = "changed"
	*c.Sync.SyncedAt = at.Add(time.Hour)

	assert.Equal(t, "a", form.Fields[0].Options[0])
	assert.Empty(t, form.Fields[0].Label)
	assert.True(t, form.Sync.SyncedAt.Equal(at))
	assert.Equal(t, 0, form.FieldIndex("q"))
	assert.Equal(t, -1, form.FieldIndex("missing"))
}

func TestMarshalEvent(t *testing.T) {
	events := []Event{
		FieldMoved{ID: "a", FromPosition: 2, ToPosition: 0},
		FieldAdded{Field: Field{ID: "q", Label: "Q", Kind: KindSingleLineText}},
		ToolError{Tool: "add_field", Code: "duplicate_field_id", Error: "duplicate"},
		Done{Message: "ok", Reason: StopFinished},
	}
	for _, e := range events {
		line, err := MarshalEvent(e)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(line), `{"type":"`+string(e.EventType())+`"`), string(line))
		assert.NotContains(t, string(line), "\n")

		back, err := UnmarshalEvent(line)
		require.NoError(t, err)
		if d, ok := e.(Done); ok {
			d.Reason = ""
			e = d
		}
		assert.Equal(t, e, back)
	}

	line, err := MarshalEvent(FieldMoved{ID: "a", FromPosition: 2, ToPosition: 0})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"move_field","id":"a","fromPosition":2,"toPosition":0}`, string(line))
}

func TestUnmarshalEventRejects(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"type":"explode"}`))
	require.Error(t, err)
	_, err = UnmarshalEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestIsMutation(t *testing.T) {
	assert.True(t, IsMutation(TitleUpdated{Title: "x"}))
	assert.True(t, IsMutation(FieldDeleted{ID: "x"}))
	assert.False(t, IsMutation(ToolError{}))
	assert.False(t, IsMutation(Done{}))
	assert.False(t, IsMutation(AssistantText{}))
}

func TestFormatSnapshot(t *testing.T) {
	form := NewForm("f1", "u1", time.Now())
	out, err := FormatSnapshot(form, "")
	require.NoError(t, err)
	assert.Contains(t, out, "# Fields:\n none")
	assert.NotContains(t, out, "schema JSON")

	form.Fields = []Field{{ID: "email", Label: "Email", Kind: KindSingleLineText, Required: true}}
	schema, err := FormJSONSchema()
	require.NoError(t, err)
	out, err = FormatSnapshot(form, schema)
	require.NoError(t, err)
	assert.Contains(t, out, "email")
	assert.Contains(t, out, "single_line_text")
	assert.Contains(t, out, "# Form state schema JSON")
}

func TestFormJSONSchema(t *testing.T) {
	schema, err := FormJSONSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, `"fields"`)
	assert.Contains(t, schema, "single_choice")
}
