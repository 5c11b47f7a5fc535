// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/chat"
	"github.com/jeranaias/tongue-chat/internal/config"
	"github.com/jeranaias/tongue-chat/internal/session"
	"github.com/jeranaias/tongue-chat/internal/ui"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:    "chat",
		Aliases: []string{"c"},
		Usage:   "start an interactive conversation",
		Description: "Type a message and press enter. Commands:\n" +
			"   /image <path> [note]  analyze a tongue image\n" +
			"   /reset                start a new conversation\n" +
			"   /history              show this conversation\n" +
			"   /session              show identity and session info\n" +
			"   /quit                 leave\n" +
			"Ctrl-C while a reply streams stops it.",
		Flags:  []cli.Flag{rawFlag},
		Action: runChat,
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// ChatInput provides line editing and persistent input history.
type ChatInput struct {
	line        *liner.State
	historyFile string
}

// NewChatInput creates a liner-backed input with history loaded from the
// config directory.
func NewChatInput() *ChatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &ChatInput{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Prompt reads a line, adding non-empty input to the history.
func (c *ChatInput) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (c *ChatInput) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	env       *Env
	ctrl      *chat.Controller
	identity  *session.Manager
	md        *ui.Markdown
	in        lineReader
	out       io.Writer
	interrupt <-chan os.Signal
}

func runChat(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	md := env.Markdown(c.Bool("raw"))
	view := ui.NewView(env.Out, env.Theme, md, env.Printer)
	ctrl, identity, err := env.NewController(view.Update)
	if err != nil {
		return err
	}

	input := NewChatInput()
	defer input.Close()

	// Prompting puts the terminal in raw mode, so this only sees Ctrl-C
	// while a reply is streaming.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	r := &repl{
		env:       env,
		ctrl:      ctrl,
		identity:  identity,
		md:        md,
		in:        input,
		out:       env.Out,
		interrupt: sig,
	}
	if IsTTY() {
		r.welcome()
	}
	return r.run(c.Context)
}

func (r *repl) welcome() {
	t := r.env.Theme
	name := r.ctrl.Log().ID()
	fmt.Fprintln(r.out, t.Title.Render("tongue "+Version))
	fmt.Fprintln(r.out, t.Muted.Render(fmt.Sprintf("%s  %s  /help for commands", r.env.Transport().Name(), name)))
	fmt.Fprintln(r.out)
}

// run reads input until /quit, EOF or Ctrl-C at the prompt.
func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.in.Prompt(r.env.Theme.User.Render("> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintln(r.out, r.env.Theme.Error.Render(err.Error()))
		}
		if quit {
			return nil
		}
	}
}

// handle runs one line of input and reports whether to quit.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.await(ctx, func() (*chat.Exchange, error) {
			return r.ctrl.SendText(ctx, line)
		})
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/image", "/img":
		if rest == "" {
			return false, errors.New("usage: /image <path> [note]")
		}
		path, note, _ := strings.Cut(rest, " ")
		img, err := readImage(expandHome(path))
		if err != nil {
			return false, err
		}
		return false, r.await(ctx, func() (*chat.Exchange, error) {
			return r.ctrl.SendImage(ctx, img, strings.TrimSpace(note))
		})

	case "/reset", "/new":
		if err := r.ctrl.Reset(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.env.Theme.Muted.Render("new conversation "+r.ctrl.Log().ID()))
		return false, nil

	case "/history":
		entries := r.ctrl.Log().Entries()
		if len(entries) == 0 {
			fmt.Fprintln(r.out, r.env.Theme.Muted.Render("(empty)"))
		}
		for _, e := range entries {
			fmt.Fprintln(r.out, ui.RenderEntry(r.env.Theme, r.md, e))
		}
		return false, nil

	case "/session":
		st := r.identity.GetStatus()
		fmt.Fprintf(r.out, "user      %s\nsession   %s\nduration  %s\nexchanges %d\n",
			st.UserID, st.SessionID, session.FormatDuration(st.Duration), st.Exchanges)
		return false, nil

	case "/help", "/?":
		fmt.Fprintln(r.out, chatCommand().Description)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// await starts an exchange and blocks until it ends. An interrupt cancels
// the reply and keeps what arrived so far.
func (r *repl) await(ctx context.Context, send func() (*chat.Exchange, error)) error {
	// A Ctrl-C that raced the end of the previous reply must not cancel this one.
	select {
	case <-r.interrupt:
	default:
	}

	ex, err := send()
	if err != nil {
		return err
	}
	select {
	case <-ex.Done():
	case <-r.interrupt:
		ex.Cancel()
	case <-ctx.Done():
		ex.Cancel()
	}
	<-ex.Done()
	return nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
