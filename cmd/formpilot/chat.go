package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/tbxark/formpilot/history"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Edit a form interactively from the terminal",
		RunE:  runChat,
	}
	cmd.Flags().String("form", "local", "form id to edit")
	cmd.Flags().String("user", "local", "owner of the form")
	cmd.Flags().String("mode", "agent", "agent, ask or auto")
	cmd.Flags().Bool("memory", false, "keep forms in memory instead of the configured store")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateModel(); err != nil {
		return err
	}
	formID, _ := cmd.Flags().GetString("form")
	userID, _ := cmd.Flags().GetString("user")
	mode, _ := cmd.Flags().GetString("mode")
	if inMemory, _ := cmd.Flags().GetBool("memory"); inMemory {
		cfg.Store.Driver = "memory"
	}

	ctx := cmd.Context()
	cm, err := newChatModel(ctx, cfg.Model)
	if err != nil {
		return err
	}
	driver, err := newDriver(cm, cfg.Agent)
	if err != nil {
		return err
	}
	recognizer, err := newRecognizer(cm, cfg.Agent)
	if err != nil {
		return err
	}
	forms, closer, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	c := &chat{
		forms:    forms,
		sessions: session.NewManager(forms, driver, session.WithRecognizer(recognizer)),
		history:  history.NewMemoryStore(history.KeepSystemLastNTrimmer{N: cfg.Agent.KeepMessages}),
		identity: types.Identity{UserID: userID},
		formID:   formID,
		mode:     mode,
		out:      cmd.OutOrStdout(),
	}
	return c.loop(history.WithConversationKey(ctx, formID), cmd.InOrStdin())
}

type chat struct {
	forms    store.FormStore
	sessions *session.Manager
	history  *history.Store
	identity types.Identity
	formID   string
	mode     string
	out      io.Writer
}

func (c *chat) loop(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)
	fmt.Fprintf(c.out, "Editing form %q. Type /show to print it, /quit to exit.\n", c.formID)
	for {
		fmt.Fprint(c.out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/show":
			if err := c.show(ctx); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *chat) turn(ctx context.Context, input string) error {
	hist, err := c.history.Append(ctx, schema.UserMessage(input))
	if err != nil {
		return err
	}
	kind := session.KindEdit
	if _, err := c.forms.Get(ctx, c.formID); errors.Is(err, store.ErrNotFound) {
		kind = session.KindCreate
	} else if err != nil {
		return err
	}
	s, err := c.sessions.Open(ctx, c.identity, session.Request{
		FormID:   c.formID,
		Request:  kind,
		Messages: history.FromSchema(hist),
		Mode:     c.mode,
	})
	if err != nil {
		return err
	}
	done, err := s.Stream(ctx, consoleWriter{out: c.out})
	if err != nil {
		return err
	}
	_, err = c.history.Append(ctx, schema.AssistantMessage(done.Message, nil))
	return err
}

func (c *chat) show(ctx context.Context) error {
	form, err := c.forms.Get(ctx, c.formID)
	if err != nil {
		return err
	}
	snapshot, err := types.FormatSnapshot(form, "")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, snapshot)
	return nil
}

// consoleWriter prints one line per event.
type consoleWriter struct {
	out io.Writer
}

func (w consoleWriter) WriteEvent(e types.Event) error {
	switch ev := e.(type) {
	case types.Done:
		_, err := fmt.Fprintf(w.out, "\nassistant: %s\n", ev.Message)
		return err
	case types.AssistantText:
		return nil
	default:
		line, err := types.MarshalEvent(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w.out, "  %s\n", line)
		return err
	}
}
