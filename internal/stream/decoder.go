// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

// =============================================================================
// FRAMING CONSTANTS
// =============================================================================

const (
	// DataPrefix marks an SSE-style data line.
	DataPrefix = "data: "

	// DoneSentinel is the payload of the end-of-stream data line.
	DoneSentinel = "[DONE]"

	// MaxLineSize caps the bytes buffered for a single undelimited line (4MB).
	// A backend that exceeds it is treated as broken.
	MaxLineSize = 4 * 1024 * 1024

	readBufferSize = 32 * 1024
)

// contentFields is the probe order for records without a type discriminator.
var contentFields = []string{"content", "chunk", "response"}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns arbitrarily split byte chunks into events. A chunk boundary
// is not a line boundary: trailing bytes are buffered until their line
// terminator arrives.
//
// Once a terminal event has been produced the decoder ignores all further
// input. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf      []byte
	finished bool
}

// NewDecoder creates a decoder with an empty line buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one chunk and returns the events completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.finished {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	consumed := 0
	for !d.finished {
		i := bytes.IndexByte(d.buf[consumed:], '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[consumed : consumed+i])
		consumed += i + 1

		ev, ok := decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if IsTerminal(ev) {
			d.finish()
		}
	}

	if d.finished {
		return events
	}

	// Compact so the buffer only holds the partial line.
	n := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:n]

	if len(d.buf) > MaxLineSize {
		d.finish()
		events = append(events, Error{Message: fmt.Sprintf("stream frame exceeds %d bytes without a line terminator", MaxLineSize)})
	}
	return events
}

// Finished reports whether a terminal event has been produced.
func (d *Decoder) Finished() bool {
	return d.finished
}

// Pending returns the number of buffered bytes of an unterminated line.
// They are discarded if the input ends.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

func (d *Decoder) finish() {
	d.finished = true
	d.buf = nil
}

// =============================================================================
// LINE CLASSIFICATION
// =============================================================================

// decodeLine classifies one complete line. ok is false for lines that carry
// no event (blank lines, records without a recognised field).
func decodeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, false
	}

	if payload, framed := strings.CutPrefix(line, DataPrefix); framed {
		trimmed := strings.TrimSpace(payload)
		if trimmed == DoneSentinel {
			return Done{}, true
		}
		if trimmed == "" {
			return nil, false
		}
		return classify(payload)
	}

	// Bare JSON record or plain text.
	return classify(line)
}

// classify parses text as a structured record, falling back to raw text.
func classify(text string) (Event, bool) {
	if !gjson.Valid(text) {
		return Content{Text: text}, true
	}
	rec := gjson.Parse(text)
	if !rec.IsObject() {
		return Content{Text: text}, true
	}
	return classifyRecord(rec)
}

// classifyRecord maps a parsed JSON object to an event. An error field wins
// over everything else in the record.
func classifyRecord(rec gjson.Result) (Event, bool) {
	if errField := rec.Get("error"); errField.Exists() && errField.Type != gjson.Null {
		return Error{Message: errorText(errField)}, true
	}

	switch rec.Get("type").String() {
	case "status":
		return Status{Label: rec.Get("message").String()}, true
	case "content":
		if text := rec.Get("content").String(); text != "" {
			return Content{Text: text}, true
		}
		return nil, false
	}

	for _, field := range contentFields {
		if v := rec.Get(field); v.Exists() && v.String() != "" {
			return Content{Text: v.String()}, true
		}
	}
	return nil, false
}

// errorText renders an error field that may be a string or a nested object.
func errorText(v gjson.Result) string {
	if v.IsObject() {
		for _, key := range []string{"message", "error", "detail"} {
			if s := v.Get(key).String(); s != "" {
				return s
			}
		}
		return v.Raw
	}
	if s := v.String(); s != "" {
		return s
	}
	return "unknown error"
}

// =============================================================================
// READER SEQUENCE
// =============================================================================

// ErrSequenceConsumed is reported when an Events sequence is ranged twice.
var ErrSequenceConsumed = errors.New("stream: event sequence already consumed")

// Events returns a lazy, single-use sequence of events read from r.
//
// The sequence always ends with exactly one terminal event: the decoded
// Done or Error, a Done when r reaches EOF without a terminal frame, or an
// Error when reading fails. Ranging it a second time yields only an Error
// wrapping ErrSequenceConsumed.
func Events(r io.Reader) iter.Seq[Event] {
	var used atomic.Bool
	return func(yield func(Event) bool) {
		if used.Swap(true) {
			yield(Error{Message: ErrSequenceConsumed.Error()})
			return
		}

		dec := NewDecoder()
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range dec.Feed(buf[:n]) {
					if !yield(ev) {
						return
					}
				}
				if dec.Finished() {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				// The unterminated tail, if any, is dropped.
				yield(Done{})
				return
			}
			yield(Error{Message: "stream interrupted: " + err.Error()})
			return
		}
	}
}
