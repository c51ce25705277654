package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
)

// Config tunes a reconciliation run.
type Config struct {
	// MaxChunkEntries caps how many entries the server may pack into
	// one chunk, and with it the size of each transaction.
	MaxChunkEntries int

	// OnProgress, when set, receives an event after the tag refresh
	// and after each applied chunk.
	OnProgress func(Progress)
}

// DefaultConfig returns the default tuning.
func DefaultConfig() *Config {
	return &Config{
		MaxChunkEntries: 100,
	}
}

// syncer implements the Syncer interface.
type syncer struct {
	store  *storage.Store
	notes  remote.NoteStore
	config *Config
	logger *log.Logger
}

// New creates a Syncer over an initialized database and a note store.
//
// If config is nil, DefaultConfig is used. If logger is nil, a default
// logger writing to stderr is used.
//
// Example:
//
//	store, err := storage.OpenExisting(ctx, dbPath)
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(store, client.NoteStore(shardURL), nil, nil)
//	result, err := syncer.Run(ctx)
func New(store *storage.Store, notes remote.NoteStore, config *Config, logger *log.Logger) Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxChunkEntries <= 0 {
		config.MaxChunkEntries = DefaultConfig().MaxChunkEntries
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		store:  store,
		notes:  notes,
		config: config,
		logger: logger,
	}
}

// Run implements Syncer.Run.
func (s *syncer) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	watermark, err := s.store.USN(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{StartUSN: watermark, FinalUSN: watermark}

	state, err := s.notes.GetSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	result.UpdateCount = state.UpdateCount

	if state.UpdateCount < watermark {
		return nil, fmt.Errorf("%w: server reports update count %d, database is at %d",
			ErrSyncStateRegressed, state.UpdateCount, watermark)
	}
	if state.UpdateCount == watermark {
		s.logger.Printf("Up to date at USN %d", watermark)
		result.UpToDate = true
		result.Duration = time.Since(started)
		return result, nil
	}

	s.logger.Printf("Syncing from USN %d towards %d", watermark, state.UpdateCount)

	// Tags are a full refresh, not part of the chunk stream.
	tags, err := s.notes.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	if err := s.store.ReplaceTags(ctx, tags); err != nil {
		return nil, err
	}
	result.Tags = len(tags)
	s.emit(result, watermark)

	// The update count may climb while we sync (someone is editing),
	// but it must never fall.
	highestSeen := state.UpdateCount

	for {
		// Cancellation lands on chunk boundaries so the database is
		// always left at a committed watermark.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk, err := s.notes.PullChunk(ctx, watermark, s.config.MaxChunkEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to pull chunk after USN %d: %w", watermark, err)
		}

		if chunk.UpdateCount < highestSeen {
			return nil, fmt.Errorf("%w: update count fell from %d to %d mid-run",
				ErrSyncStateRegressed, highestSeen, chunk.UpdateCount)
		}
		if chunk.UpdateCount > highestSeen {
			highestSeen = chunk.UpdateCount
		}

		if chunk.IsEmpty() && chunk.ChunkHighUSN <= watermark {
			s.logger.Printf("WARNING: empty chunk after USN %d with %d changes still pending, stopping",
				watermark, chunk.UpdateCount-watermark)
			break
		}

		batch, err := s.buildBatch(ctx, &chunk, result)
		if err != nil {
			return nil, err
		}

		if err := s.store.ApplyBatch(ctx, batch); err != nil {
			return nil, err
		}

		watermark = chunk.ChunkHighUSN
		result.FinalUSN = watermark
		result.UpdateCount = chunk.UpdateCount
		result.Chunks++
		result.Notebooks += len(batch.Notebooks)
		result.Notes += len(batch.Notes)
		result.ExpungedNotebooks += len(batch.ExpungedNotebooks)
		result.ExpungedNotes += len(batch.ExpungedNotes)
		s.emit(result, watermark)

		s.logger.Printf("Applied chunk %d: %d entries, watermark %d of %d",
			result.Chunks, chunk.EntryCount(), watermark, chunk.UpdateCount)

		if chunk.ChunkHighUSN >= chunk.UpdateCount {
			break
		}
	}

	if err := s.store.SetLastSync(ctx, time.Now()); err != nil {
		return nil, err
	}

	result.Duration = time.Since(started)
	s.logger.Printf("Sync complete: %d notebooks, %d notes, %d tags, %d expunged, %d skipped in %s",
		result.Notebooks, result.Notes, result.Tags,
		result.ExpungedNotebooks+result.ExpungedNotes, len(result.SkippedNotes),
		result.Duration.Round(time.Millisecond))

	return result, nil
}

// buildBatch turns one chunk into a storage batch, fetching full note
// content and dropping notes that cannot be placed or fetched.
func (s *syncer) buildBatch(ctx context.Context, chunk *remote.SyncChunk, result *Result) (storage.Batch, error) {
	batch := storage.Batch{
		Notebooks:         chunk.Notebooks,
		ExpungedNotebooks: chunk.ExpungedNotebooks,
		ExpungedNotes:     chunk.ExpungedNotes,
		USN:               chunk.ChunkHighUSN,
	}

	inChunk := make(map[string]bool, len(chunk.Notebooks))
	for _, nb := range chunk.Notebooks {
		inChunk[nb.GUID] = true
	}

	for _, meta := range chunk.Notes {
		// A note is only as good as its notebook: unknown notebook
		// GUID means the note cannot be filed anywhere.
		if !inChunk[meta.NotebookGUID] {
			known, err := s.store.NotebookExists(ctx, meta.NotebookGUID)
			if err != nil {
				return storage.Batch{}, err
			}
			if !known {
				s.logger.Printf("WARNING: note %s references unknown notebook %s, skipping",
					meta.GUID, meta.NotebookGUID)
				result.SkippedNotes = append(result.SkippedNotes, meta.GUID)
				continue
			}
		}

		// Chunks carry note metadata only; content comes per note.
		full, err := s.notes.GetNote(ctx, meta.GUID)
		if errors.Is(err, remote.ErrNotFound) {
			s.logger.Printf("WARNING: note %s vanished before its content was fetched, skipping", meta.GUID)
			result.SkippedNotes = append(result.SkippedNotes, meta.GUID)
			continue
		}
		if err != nil {
			return storage.Batch{}, fmt.Errorf("failed to fetch note %s: %w", meta.GUID, err)
		}

		batch.Notes = append(batch.Notes, full)
	}

	return batch, nil
}

// emit sends a progress event if a callback is configured.
func (s *syncer) emit(result *Result, watermark int64) {
	if s.config.OnProgress == nil {
		return
	}
	s.config.OnProgress(Progress{
		Chunks:      result.Chunks,
		USN:         watermark,
		UpdateCount: result.UpdateCount,
		Notebooks:   result.Notebooks,
		Notes:       result.Notes,
		Tags:        result.Tags,
	})
}
