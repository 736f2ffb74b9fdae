// Package testcases holds end-to-end scenarios against a real chat model.
// They are skipped unless FORMPILOT_RUN_LIVE_TESTS=1 and ../config.json
// provides a model.
package testcases

import (
	"context"
	"os"
	"testing"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/tbxark/formpilot/agent"
	"github.com/tbxark/formpilot/config"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

func InitChatModel(t *testing.T) *openai.ChatModel {
	if os.Getenv("FORMPILOT_RUN_LIVE_TESTS") != "1" {
		t.Skip("set FORMPILOT_RUN_LIVE_TESTS=1 to run live LLM tests")
		return nil
	}
	conf, err := config.Load("../config.json")
	if err != nil {
		t.Skipf("failed to load config: %v", err)
		return nil
	}
	if conf.Model.APIKey == "" {
		t.Skip("config.json model.api_key is empty")
		return nil
	}
	chatModel, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:  conf.Model.APIKey,
		Model:   conf.Model.Model,
		BaseURL: conf.Model.BaseURL,
	})
	if err != nil {
		t.Fatalf("failed to init chat model: %v", err)
		return nil
	}
	return chatModel
}

type Harness struct {
	Forms    *store.Memory
	Sessions *session.Manager
	User     types.Identity
}

func NewHarness(t *testing.T) *Harness {
	chatModel := InitChatModel(t)
	if chatModel == nil {
		return nil
	}
	schema, err := types.FormJSONSchema()
	if err != nil {
		t.Fatalf("form schema: %v", err)
	}
	driver, err := agent.NewDriver(chatModel, agent.WithStateSchema(schema))
	if err != nil {
		t.Fatalf("failed to init driver: %v", err)
	}
	forms := store.NewMemory()
	return &Harness{
		Forms:    forms,
		Sessions: session.NewManager(forms, driver),
		User:     types.Identity{UserID: "live-user"},
	}
}

type collector struct {
	events []types.Event
}

func (c *collector) WriteEvent(e types.Event) error {
	c.events = append(c.events, e)
	return nil
}

// Run opens and streams one session, returning every event written.
func (h *Harness) Run(t *testing.T, req session.Request) []types.Event {
	t.Helper()
	s, err := h.Sessions.Open(context.Background(), h.User, req)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	c := &collector{}
	if _, err := s.Stream(context.Background(), c); err != nil {
		t.Fatalf("stream session: %v", err)
	}
	if len(c.events) == 0 {
		t.Fatal("no events written")
	}
	if _, ok := c.events[len(c.events)-1].(types.Done); !ok {
		t.Fatalf("last event is %s, want done", c.events[len(c.events)-1].EventType())
	}
	for _, e := range c.events {
		t.Logf("event %s: %+v", e.EventType(), e)
	}
	return c.events
}

func (h *Harness) Form(t *testing.T, id string) types.Form {
	t.Helper()
	form, err := h.Forms.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load form %s: %v", id, err)
	}
	return form
}

func userSays(text string) []types.ConversationMessage {
	return []types.ConversationMessage{{Role: types.RoleUser, Content: text}}
}
