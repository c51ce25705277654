package storage

import (
	"bytes"
	"compress/zlib"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/notevault/notevault/internal/remote"
)

// execer covers both *sql.DB and *sql.Tx so the upsert statements run
// standalone or inside a batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// encodeNote serializes the full note document for the raw column.
func encodeNote(n remote.Note) ([]byte, error) {
	doc, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note %s: %w", n.GUID, err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		return nil, fmt.Errorf("failed to compress note %s: %w", n.GUID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress note %s: %w", n.GUID, err)
	}
	return buf.Bytes(), nil
}

// decodeNote reverses encodeNote.
func decodeNote(raw []byte) (remote.Note, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return remote.Note{}, fmt.Errorf("failed to decompress note: %w", err)
	}
	defer zr.Close()

	doc, err := io.ReadAll(zr)
	if err != nil {
		return remote.Note{}, fmt.Errorf("failed to decompress note: %w", err)
	}

	var n remote.Note
	if err := json.Unmarshal(doc, &n); err != nil {
		return remote.Note{}, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return n, nil
}

// millisToNullString converts a millisecond timestamp to a nullable
// RFC3339 string; zero means unset.
func millisToNullString(ms int64) sql.NullString {
	if ms == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: time.UnixMilli(ms).UTC().Format(time.RFC3339), Valid: true}
}

func upsertNotebook(ctx context.Context, q execer, nb remote.Notebook) error {
	if err := nb.Validate(); err != nil {
		return fmt.Errorf("invalid notebook: %w", err)
	}

	query := `
	INSERT INTO notebooks (guid, name, stack, usn)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		name = excluded.name,
		stack = excluded.stack,
		usn = excluded.usn
	`
	if _, err := q.ExecContext(ctx, query, nb.GUID, nb.Name, nb.Stack, nb.USN); err != nil {
		return fmt.Errorf("failed to upsert notebook %s: %w", nb.GUID, err)
	}
	return nil
}

func upsertNote(ctx context.Context, q execer, n remote.Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	raw, err := encodeNote(n)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(n.TagGUIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal tag guids for note %s: %w", n.GUID, err)
	}

	query := `
	INSERT INTO notes (guid, title, notebook_guid, is_active, usn, tag_guids, created_at, updated_at, raw)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		title = excluded.title,
		notebook_guid = excluded.notebook_guid,
		is_active = excluded.is_active,
		usn = excluded.usn,
		tag_guids = excluded.tag_guids,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		raw = excluded.raw
	`
	_, err = q.ExecContext(ctx, query,
		n.GUID,
		n.Title,
		n.NotebookGUID,
		boolToInt(n.Active),
		n.USN,
		string(tagsJSON),
		millisToNullString(n.Created),
		millisToNullString(n.Updated),
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.GUID, err)
	}
	return nil
}

func upsertTag(ctx context.Context, q execer, tag remote.Tag) error {
	if err := tag.Validate(); err != nil {
		return fmt.Errorf("invalid tag: %w", err)
	}

	query := `
	INSERT INTO tags (guid, name, parent_guid, usn)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		name = excluded.name,
		parent_guid = excluded.parent_guid,
		usn = excluded.usn
	`
	if _, err := q.ExecContext(ctx, query, tag.GUID, tag.Name, tag.ParentGUID, tag.USN); err != nil {
		return fmt.Errorf("failed to upsert tag %s: %w", tag.GUID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertNotebook inserts or updates a notebook row.
func (s *Store) UpsertNotebook(ctx context.Context, nb remote.Notebook) error {
	return upsertNotebook(ctx, s.conn, nb)
}

// UpsertNote inserts or updates a note, storing both the indexed
// columns and the full compressed document.
func (s *Store) UpsertNote(ctx context.Context, n remote.Note) error {
	return upsertNote(ctx, s.conn, n)
}

// UpsertTag inserts or updates a tag row.
func (s *Store) UpsertTag(ctx context.Context, tag remote.Tag) error {
	return upsertTag(ctx, s.conn, tag)
}

// ReplaceTags swaps the whole tag table for the given set in one
// transaction. Tag sync is a full refresh, not a delta.
func (s *Store) ReplaceTags(ctx context.Context, tags []remote.Tag) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tags"); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, tag := range tags {
		if err := upsertTag(ctx, tx, tag); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListNotebooks returns all notebooks ordered by name.
func (s *Store) ListNotebooks(ctx context.Context) ([]remote.Notebook, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT guid, name, stack, usn FROM notebooks ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []remote.Notebook
	for rows.Next() {
		var (
			nb    remote.Notebook
			stack sql.NullString
		)
		if err := rows.Scan(&nb.GUID, &nb.Name, &stack, &nb.USN); err != nil {
			return nil, fmt.Errorf("failed to scan notebook: %w", err)
		}
		nb.Stack = stack.String
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notebooks: %w", err)
	}
	return notebooks, nil
}

// GetNotebook retrieves one notebook. Returns ErrNotFound when the
// GUID is unknown.
func (s *Store) GetNotebook(ctx context.Context, guid string) (remote.Notebook, error) {
	var (
		nb    remote.Notebook
		stack sql.NullString
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT guid, name, stack, usn FROM notebooks WHERE guid = ?", guid).
		Scan(&nb.GUID, &nb.Name, &stack, &nb.USN)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Notebook{}, fmt.Errorf("notebook %s: %w", guid, ErrNotFound)
	}
	if err != nil {
		return remote.Notebook{}, fmt.Errorf("failed to get notebook %s: %w", guid, err)
	}
	nb.Stack = stack.String
	return nb, nil
}

// NotebookExists reports whether a notebook row is present.
func (s *Store) NotebookExists(ctx context.Context, guid string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		"SELECT 1 FROM notebooks WHERE guid = ?", guid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check notebook %s: %w", guid, err)
	}
	return true, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]remote.Tag, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT guid, name, parent_guid, usn FROM tags ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []remote.Tag
	for rows.Next() {
		var (
			tag    remote.Tag
			parent sql.NullString
		)
		if err := rows.Scan(&tag.GUID, &tag.Name, &parent, &tag.USN); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tag.ParentGUID = parent.String
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}

// GetNote retrieves the full note document. Returns ErrNotFound when
// the GUID is unknown.
func (s *Store) GetNote(ctx context.Context, guid string) (remote.Note, error) {
	var raw []byte
	err := s.conn.QueryRowContext(ctx, "SELECT raw FROM notes WHERE guid = ?", guid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Note{}, fmt.Errorf("note %s: %w", guid, ErrNotFound)
	}
	if err != nil {
		return remote.Note{}, fmt.Errorf("failed to get note %s: %w", guid, err)
	}
	return decodeNote(raw)
}

// NotesInNotebook returns the active notes of one notebook ordered by
// title.
func (s *Store) NotesInNotebook(ctx context.Context, notebookGUID string) ([]remote.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT raw FROM notes WHERE notebook_guid = ? AND is_active = 1 ORDER BY title ASC", notebookGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes of notebook %s: %w", notebookGUID, err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// TrashedNotes returns all inactive notes across notebooks ordered by
// title.
func (s *Store) TrashedNotes(ctx context.Context) ([]remote.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT raw FROM notes WHERE is_active = 0 ORDER BY title ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// scanNotes decodes raw note documents from query results.
func scanNotes(rows *sql.Rows) ([]remote.Note, error) {
	var notes []remote.Note
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n, err := decodeNote(raw)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}
