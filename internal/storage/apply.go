package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/notevault/notevault/internal/remote"
)

// Batch is one reconciled unit of server changes: the rows to remove,
// the rows to write, and the watermark that covers them.
type Batch struct {
	Notebooks []remote.Notebook
	Notes     []remote.Note

	// ExpungedNotebooks and ExpungedNotes are GUIDs the server removed
	// permanently. Deleting an absent GUID is a no-op.
	ExpungedNotebooks []string
	ExpungedNotes     []string

	// USN is the watermark after this batch: every server change
	// numbered at or below it is covered by the batch plus what was
	// already on disk.
	USN int64
}

// IsEmpty reports whether the batch changes nothing but the watermark.
func (b Batch) IsEmpty() bool {
	return len(b.Notebooks) == 0 && len(b.Notes) == 0 &&
		len(b.ExpungedNotebooks) == 0 && len(b.ExpungedNotes) == 0
}

// ApplyBatch applies a batch in a single transaction: expunges first,
// then upserts, then the watermark. Either everything lands or nothing
// does, so a crash can never leave the watermark ahead of the data.
//
// Re-applying a batch that ends at the current watermark is allowed
// and idempotent; that is how an interrupted run recovers. A batch
// ending below the current watermark returns ErrStaleBatch.
func (s *Store) ApplyBatch(ctx context.Context, batch Batch) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	var value string
	err = tx.QueryRowContext(ctx, "SELECT value FROM config WHERE name = ?", keyUSN).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return fmt.Errorf("failed to read sync state: %w", err)
	default:
		current, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config %s holds %q, not a number", keyUSN, value)
		}
	}

	if batch.USN < current {
		return fmt.Errorf("%w: batch ends at %d, database is at %d", ErrStaleBatch, batch.USN, current)
	}

	for _, guid := range batch.ExpungedNotebooks {
		if _, err := tx.ExecContext(ctx, "DELETE FROM notebooks WHERE guid = ?", guid); err != nil {
			return fmt.Errorf("failed to expunge notebook %s: %w", guid, err)
		}
	}
	for _, guid := range batch.ExpungedNotes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM notes WHERE guid = ?", guid); err != nil {
			return fmt.Errorf("failed to expunge note %s: %w", guid, err)
		}
	}

	for _, nb := range batch.Notebooks {
		if err := upsertNotebook(ctx, tx, nb); err != nil {
			return err
		}
	}
	for _, n := range batch.Notes {
		if err := upsertNote(ctx, tx, n); err != nil {
			return err
		}
	}

	query := `
	INSERT INTO config (name, value) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`
	if _, err := tx.ExecContext(ctx, query, keyUSN, strconv.FormatInt(batch.USN, 10)); err != nil {
		return fmt.Errorf("failed to advance sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
