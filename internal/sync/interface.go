// Package sync reconciles the local database with the note service.
//
// The service numbers every change with an update sequence number
// (USN). The database remembers a watermark: the highest USN whose
// change is already applied locally. One run pulls chunks of changes
// past the watermark, applies each chunk together with its new
// watermark in a single transaction, and repeats until the server has
// nothing newer. Interrupt it anywhere and the next run continues from
// the committed watermark; re-applying the last chunk is harmless.
package sync

import (
	"context"
	"time"
)

// Syncer runs incremental reconciliation passes.
//
// A Syncer is bound to one database and one note store. Runs must not
// overlap; the process lock in the storage package enforces that
// across processes, and callers (CLI command, daemon tick) call Run
// sequentially within one.
type Syncer interface {
	// Run performs one reconciliation pass and reports what it did.
	//
	// The pass aborts on authentication errors, storage errors, and
	// sync-state inconsistencies (ErrSyncStateRegressed). Transient
	// network failures are already retried inside the client; if one
	// still escalates, the pass aborts with it. Cancellation via ctx
	// is honored at chunk boundaries, so the database is always left
	// at a committed watermark.
	//
	// A nil error means the database now covers every server change up
	// to Result.FinalUSN.
	Run(ctx context.Context) (*Result, error)
}

// Result summarizes one reconciliation pass.
type Result struct {
	// UpToDate is true when the server had nothing newer and the pass
	// ended after the sync-state check.
	UpToDate bool

	// StartUSN and FinalUSN are the watermark before and after.
	StartUSN int64
	FinalUSN int64

	// UpdateCount is the server's change counter when the pass began.
	UpdateCount int64

	// Chunks is how many chunks were applied.
	Chunks int

	// Applied entity counts.
	Notebooks int
	Notes     int
	Tags      int

	// Expunge counts.
	ExpungedNotebooks int
	ExpungedNotes     int

	// SkippedNotes lists GUIDs dropped during the pass: notes whose
	// notebook is unknown, or whose content vanished between the chunk
	// and the fetch.
	SkippedNotes []string

	// Duration is wall-clock time for the pass.
	Duration time.Duration
}

// Progress is one progress event, emitted after the tag refresh and
// after every applied chunk.
type Progress struct {
	// Chunks applied so far.
	Chunks int

	// USN is the committed watermark so far.
	USN int64

	// UpdateCount is the server's change counter, for percent-style
	// displays.
	UpdateCount int64

	// Running totals.
	Notebooks int
	Notes     int
	Tags      int
}
