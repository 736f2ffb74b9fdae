package history

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/formpilot/types"
)

func contents(msgs []*schema.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestKeepSystemLastNTrimmer(t *testing.T) {
	hist := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("u1"),
		schema.AssistantMessage("a1", nil),
		nil,
		schema.SystemMessage("snapshot"),
		schema.UserMessage("u2"),
		schema.AssistantMessage("a2", nil),
	}

	assert.Equal(t, []string{"sys", "snapshot", "u2", "a2"}, contents(KeepSystemLastNTrimmer{N: 2}.Trim(hist)))
	assert.Equal(t, []string{"sys", "snapshot"}, contents(KeepSystemLastNTrimmer{N: 0}.Trim(hist)))
	assert.Len(t, KeepSystemLastNTrimmer{N: 10}.Trim(hist), len(hist))
	assert.Empty(t, KeepSystemLastNTrimmer{N: 1}.Trim(nil))
}

func TestToSchema(t *testing.T) {
	msgs := ToSchema([]types.ConversationMessage{
		{Role: types.RoleSystem, Content: "s"},
		{Role: types.RoleUser, Content: "u"},
		{Role: types.RoleAssistant, Content: "a"},
		{Role: "tool", Content: "x"},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, schema.User, msgs[3].Role)
}

func TestFromSchema(t *testing.T) {
	msgs := FromSchema([]*schema.Message{
		schema.UserMessage("u"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}}),
		schema.ToolMessage("ok", "c1"),
		nil,
		schema.AssistantMessage("a", nil),
	})
	assert.Equal(t, []types.ConversationMessage{
		{Role: types.RoleUser, Content: "u"},
		{Role: types.RoleAssistant, Content: "a"},
	}, msgs)
}

func TestStoreAppend(t *testing.T) {
	s := NewMemoryStore(KeepSystemLastNTrimmer{N: 2})

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrNoKey)

	ctx := WithConversationKey(context.Background(), "form-1")
	hist, err := s.Append(ctx, schema.SystemMessage("sys"), schema.UserMessage("hi"), schema.UserMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sys", "hi"}, contents(hist))

	hist, err = s.Append(ctx, schema.AssistantMessage("hello", nil), schema.UserMessage("add a field"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sys", "hello", "add a field"}, contents(hist))

	other := WithConversationKey(context.Background(), "form-2")
	hist, err = s.Load(other)
	require.NoError(t, err)
	assert.Empty(t, hist)

	require.NoError(t, s.Clear(ctx))
	hist, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, hist)
}
