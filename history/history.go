// Package history keeps and trims the conversation sent to the model.
package history

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/formpilot/types"
)

type Trimmer interface {
	Trim(history []*schema.Message) []*schema.Message
}

// KeepSystemLastNTrimmer keeps all system messages and the last N others.
// When N <= 0 only system messages survive.
type KeepSystemLastNTrimmer struct {
	N int
}

func (t KeepSystemLastNTrimmer) Trim(history []*schema.Message) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	nonSystem := 0
	for _, m := range history {
		if m != nil && m.Role != schema.System {
			nonSystem++
		}
	}
	if t.N > 0 && nonSystem <= t.N {
		return history
	}

	skip := nonSystem - t.N
	if t.N <= 0 {
		skip = nonSystem
	}
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		if m.Role != schema.System && skip > 0 {
			skip--
			continue
		}
		out = append(out, m)
	}
	return out
}

// ToSchema converts wire conversation messages into model messages. Unknown
// roles are sent as user messages.
func ToSchema(msgs []types.ConversationMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// FromSchema is the inverse of ToSchema. Tool messages and empty assistant
// turns are dropped.
func FromSchema(msgs []*schema.Message) []types.ConversationMessage {
	out := make([]types.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			out = append(out, types.ConversationMessage{Role: types.RoleSystem, Content: m.Content})
		case schema.User:
			out = append(out, types.ConversationMessage{Role: types.RoleUser, Content: m.Content})
		case schema.Assistant:
			if m.Content != "" {
				out = append(out, types.ConversationMessage{Role: types.RoleAssistant, Content: m.Content})
			}
		}
	}
	return out
}

type ReadWriter interface {
	Load(ctx context.Context) ([]*schema.Message, error)
	Save(ctx context.Context, history []*schema.Message) error
	Clear(ctx context.Context) error

	// Append loads history, appends msgs skipping consecutive duplicates,
	// trims and saves. It returns the saved history.
	Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error)
}

type Store struct {
	store   scoped[[]*schema.Message]
	trimmer Trimmer
}

func NewStore(core Cache[[]*schema.Message], trimmer Trimmer) *Store {
	return &Store{
		store:   scoped[[]*schema.Message]{core: core, namespace: "formpilot:history"},
		trimmer: trimmer,
	}
}

func NewMemoryStore(trimmer Trimmer) *Store {
	return NewStore(NewMemoryCache[[]*schema.Message](), trimmer)
}

func (s *Store) Load(ctx context.Context) ([]*schema.Message, error) {
	hist, ok, err := s.store.get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return hist, nil
}

func (s *Store) Save(ctx context.Context, history []*schema.Message) error {
	history = compact(history)
	if s.trimmer != nil {
		history = s.trimmer.Trim(history)
	}
	return s.store.set(ctx, history)
}

func (s *Store) Clear(ctx context.Context) error {
	return s.store.del(ctx)
}

func (s *Store) Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error) {
	hist, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	hist = appendDistinct(hist, msgs...)
	if err := s.Save(ctx, hist); err != nil {
		return nil, err
	}
	return s.Load(ctx)
}

func appendDistinct(history []*schema.Message, msgs ...*schema.Message) []*schema.Message {
	out := history
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if len(out) > 0 {
			last := out[len(out)-1]
			if last != nil && last.Role == msg.Role && last.Content == msg.Content {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}

func compact(history []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

var _ ReadWriter = (*Store)(nil)
