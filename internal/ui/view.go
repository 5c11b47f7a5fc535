// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/util"
)

// View writes streaming assistant turns to a terminal. Update may be called
// from any goroutine.
type View struct {
	out     io.Writer
	theme   *Theme
	md      *Markdown
	printer *locale.Printer
	width   int

	mu    sync.Mutex
	turns map[string]*turnView
}

type turnView struct {
	headed    bool
	written   int
	status    string
	transient bool
	closed    bool
}

// NewView creates a view. A nil md streams plain text as it arrives.
func NewView(out io.Writer, theme *Theme, md *Markdown, printer *locale.Printer) *View {
	return &View{
		out:     out,
		theme:   theme,
		md:      md,
		printer: printer,
		width:   TerminalWidth(out),
		turns:   make(map[string]*turnView),
	}
}

// Update shows the latest snapshot of an assistant turn. Snapshots for a
// turn that was already shown closed are ignored.
func (v *View) Update(e model.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tv, ok := v.turns[e.ID]
	if !ok {
		tv = &turnView{}
		v.turns[e.ID] = tv
	}
	if tv.closed {
		return
	}
	if !tv.headed {
		fmt.Fprintln(v.out, v.theme.Assistant.Render(e.Role.DisplayName()))
		tv.headed = true
	}

	if v.md.Enabled() {
		v.updateRendered(tv, e)
	} else {
		v.updateStreaming(tv, e)
	}
}

// updateStreaming writes new text as it arrives. Status labels are shown
// only until the first fragment.
func (v *View) updateStreaming(tv *turnView, e model.Entry) {
	if e.Failed {
		if tv.written > 0 {
			fmt.Fprintln(v.out)
		}
		fmt.Fprintln(v.out, v.theme.Error.Render(e.Text))
		tv.closed = true
		return
	}

	if e.Status != "" && e.Status != tv.status && tv.written == 0 {
		fmt.Fprintln(v.out, v.theme.Status.Render("» "+e.Status))
	}
	tv.status = e.Status

	if len(e.Text) > tv.written {
		io.WriteString(v.out, e.Text[tv.written:])
		tv.written = len(e.Text)
	}

	if !e.Open {
		if tv.written > 0 && !strings.HasSuffix(e.Text, "\n") {
			fmt.Fprintln(v.out)
		}
		if e.Cancelled {
			fmt.Fprintln(v.out, v.theme.Muted.Render(v.printer.Cancelled()))
		}
		tv.closed = true
	}
}

// updateRendered keeps one progress line while the turn is open and prints
// the rendered reply when it closes.
func (v *View) updateRendered(tv *turnView, e model.Entry) {
	if e.Open {
		label := e.Status
		if label == "" {
			label = v.printer.Thinking()
		}
		if n := utf8.RuneCountInString(e.Text); n > 0 {
			label = fmt.Sprintf("%s (%d)", label, n)
		}
		v.clearTransient(tv)
		io.WriteString(v.out, v.theme.Status.Render(util.TruncateWidth(label, v.width-1)))
		tv.transient = true
		return
	}

	v.clearTransient(tv)
	switch {
	case e.Failed:
		fmt.Fprintln(v.out, v.theme.Error.Render(e.Text))
	default:
		rendered := v.md.Render(e.Text)
		io.WriteString(v.out, rendered)
		if rendered != "" && !strings.HasSuffix(rendered, "\n") {
			fmt.Fprintln(v.out)
		}
		if e.Cancelled {
			fmt.Fprintln(v.out, v.theme.Muted.Render(v.printer.Cancelled()))
		}
	}
	tv.closed = true
}

func (v *View) clearTransient(tv *turnView) {
	if !tv.transient {
		return
	}
	io.WriteString(v.out, "\r")
	v.theme.output.ClearLine()
	tv.transient = false
}
