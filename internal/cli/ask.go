// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/chat"
	"github.com/jeranaias/tongue-chat/internal/transport"
	"github.com/jeranaias/tongue-chat/internal/ui"
)

// MaxImageSize bounds the files accepted by analyze and /image.
const MaxImageSize = 20 << 20

var rawFlag = &cli.BoolFlag{
	Name:  "raw",
	Usage: "print the reply as it streams, without markdown rendering",
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "send one prompt and stream the reply",
		ArgsUsage: "<prompt...>  (use - to read the prompt from stdin)",
		Flags:     []cli.Flag{rawFlag},
		Action:    runAsk,
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "upload a tongue image and stream the analysis",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "note",
				Aliases: []string{"n"},
				Usage:   "additional information sent with the image",
			},
			rawFlag,
		},
		Action: runAnalyze,
	}
}

func runAsk(c *cli.Context) error {
	prompt := strings.Join(c.Args().Slice(), " ")
	if prompt == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return usageError("ask needs a prompt")
	}

	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.oneShot(c.Context, c.Bool("raw"), func(ctx context.Context, ctrl *chat.Controller) (*chat.Exchange, error) {
		return ctrl.SendText(ctx, prompt)
	})
}

func runAnalyze(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("analyze needs exactly one image path")
	}
	img, err := readImage(c.Args().First())
	if err != nil {
		return err
	}

	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.oneShot(c.Context, c.Bool("raw"), func(ctx context.Context, ctrl *chat.Controller) (*chat.Exchange, error) {
		return ctrl.SendImage(ctx, img, c.String("note"))
	})
}

// readImage loads and checks an image file.
func readImage(path string) (transport.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return transport.Image{}, cli.Exit(fmt.Sprintf("image not found: %s", path), ExitNotFoundError)
		}
		return transport.Image{}, err
	}
	if info.IsDir() {
		return transport.Image{}, usageError("%s is a directory", path)
	}
	if info.Size() > MaxImageSize {
		return transport.Image{}, usageError("%s is larger than %d MB", path, MaxImageSize>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return transport.Image{}, fmt.Errorf("read image: %w", err)
	}
	img := transport.NewImage(data, filepath.Base(path))
	if !img.IsImage() {
		return transport.Image{}, usageError("%s is not an image (%s)", path, img.MIMEType)
	}
	return img, nil
}

// oneShot sends one message, shows the reply and maps its outcome to an
// exit code. Ctrl-C cancels the reply.
func (e *Env) oneShot(parent context.Context, raw bool, send func(context.Context, *chat.Controller) (*chat.Exchange, error)) error {
	view := ui.NewView(e.Out, e.Theme, e.Markdown(raw), e.Printer)
	ctrl, _, err := e.NewController(view.Update)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(parent)
	defer stop()

	ex, err := send(ctx, ctrl)
	if err != nil {
		return err
	}
	select {
	case <-ex.Done():
	case <-ctx.Done():
		ex.Cancel()
		<-ex.Done()
	}

	reply := ex.Reply()
	switch {
	case reply.Failed:
		return cli.Exit("", ExitBackendError)
	case reply.Cancelled:
		return cli.Exit("", ExitInterrupted)
	}
	return nil
}
