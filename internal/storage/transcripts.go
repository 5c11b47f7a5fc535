// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/util"
)

// TranscriptMeta is the listing form of a saved transcript.
type TranscriptMeta struct {
	ID         string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	EntryCount int
}

// SaveTranscript inserts or replaces a transcript. Empty transcripts are
// not stored.
func (s *Store) SaveTranscript(ctx context.Context, t model.Transcript) error {
	if len(t.Entries) == 0 {
		return nil
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, title, created_at, updated_at, entry_count, body)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   updated_at = excluded.updated_at,
		   entry_count = excluded.entry_count,
		   body = excluded.body`,
		t.ID, t.Title, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), len(t.Entries), string(body),
	)
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", t.ID, err)
	}
	return nil
}

// ListTranscripts returns up to limit transcripts, most recent first.
// A limit of zero or less lists everything.
func (s *Store) ListTranscripts(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at, entry_count
		 FROM transcripts ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var metas []TranscriptMeta
	for rows.Next() {
		var (
			m                TranscriptMeta
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.Title, &created, &updated, &m.EntryCount); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// LoadTranscript returns the transcript whose ID equals or uniquely starts
// with id.
func (s *Store) LoadTranscript(ctx context.Context, id string) (model.Transcript, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Transcript{}, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM transcripts
		 WHERE id = ? OR id LIKE ? ESCAPE '\' OR id LIKE ? ESCAPE '\' LIMIT 2`,
		id, escapeLike(id)+"%", "conv-"+escapeLike(id)+"%")
	if err != nil {
		return model.Transcript{}, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return model.Transcript{}, fmt.Errorf("scan transcript: %w", err)
		}
		bodies = append(bodies, body)
	}
	if err := rows.Err(); err != nil {
		return model.Transcript{}, err
	}

	switch len(bodies) {
	case 0:
		return model.Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
	default:
		return model.Transcript{}, fmt.Errorf("transcript id %q is ambiguous", id)
	}

	var t model.Transcript
	if err := json.Unmarshal([]byte(bodies[0]), &t); err != nil {
		return model.Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	return t, nil
}

// DeleteTranscript removes a transcript.
func (s *Store) DeleteTranscript(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// IsNotFound reports whether err means a missing transcript.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatTranscriptList renders transcripts as a table.
func FormatTranscriptList(metas []TranscriptMeta) string {
	if len(metas) == 0 {
		return "No saved conversations."
	}

	var sb strings.Builder
	sb.WriteString(util.PadWidth("ID", 14) + " " + util.PadWidth("Updated", 17) + " " + util.PadWidth("Turns", 6) + " Title\n")
	sb.WriteString(strings.Repeat("-", 60) + "\n")

	for _, m := range metas {
		id := strings.TrimPrefix(m.ID, "conv-")
		sb.WriteString(util.PadWidth(util.TruncateWidth(id, 14), 14) + " " +
			util.PadWidth(m.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			util.PadWidth(strconv.Itoa(m.EntryCount), 6) + " " +
			util.TruncateWidth(m.Title, 40) + "\n")
	}
	return sb.String()
}
