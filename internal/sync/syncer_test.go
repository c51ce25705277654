package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
)

// setupStore opens and initializes a database for one test
func setupStore(t *testing.T) *storage.Store {
	t.Helper()

	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

// seedAccount fills a fake with the standard scenario: three
// notebooks, five notes, two tags, account USN 100
func seedAccount(f *remote.Fake) {
	f.AddNotebook(remote.Notebook{GUID: "nb1", Name: "Inbox", USN: 1})
	f.AddNotebook(remote.Notebook{GUID: "nb2", Name: "Projects", Stack: "Work", USN: 2})
	f.AddNotebook(remote.Notebook{GUID: "nb3", Name: "Archive", USN: 3})

	f.AddTag(remote.Tag{GUID: "t1", Name: "urgent", USN: 4})
	f.AddTag(remote.Tag{GUID: "t2", Name: "someday", USN: 5})

	notes := []remote.Note{
		{GUID: "n1", Title: "Shopping list", NotebookGUID: "nb1", Active: true, USN: 10, Content: "<en-note>milk</en-note>", TagGUIDs: []string{"t1"}},
		{GUID: "n2", Title: "Meeting notes", NotebookGUID: "nb2", Active: true, USN: 20, Content: "<en-note>agenda</en-note>"},
		{GUID: "n3", Title: "Old draft", NotebookGUID: "nb3", Active: false, USN: 30, Content: "<en-note>draft</en-note>"},
		{GUID: "n4", Title: "Plan", NotebookGUID: "nb2", Active: true, USN: 40, Content: "<en-note>plan</en-note>", TagGUIDs: []string{"t1", "t2"}},
		{GUID: "n5", Title: "Journal", NotebookGUID: "nb1", Active: true, USN: 100, Content: "<en-note>today</en-note>"},
	}
	for _, n := range notes {
		f.AddNote(n)
	}
}

// TestRun_SingleChunk tests the whole account arriving in one chunk
func TestRun_SingleChunk(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.UpToDate {
		t.Error("UpToDate = true on first sync")
	}
	if result.FinalUSN != 100 {
		t.Errorf("FinalUSN = %d, want 100", result.FinalUSN)
	}
	if result.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", result.Chunks)
	}
	if result.Notebooks != 3 || result.Notes != 5 || result.Tags != 2 {
		t.Errorf("counts = %d notebooks, %d notes, %d tags; want 3, 5, 2",
			result.Notebooks, result.Notes, result.Tags)
	}
	if len(result.SkippedNotes) != 0 {
		t.Errorf("SkippedNotes = %v, want none", result.SkippedNotes)
	}

	if calls := fake.CallCount("getFilteredSyncChunk"); calls != 1 {
		t.Errorf("PullChunk calls = %d, want exactly 1", calls)
	}
	if calls := fake.CallCount("getNote"); calls != 5 {
		t.Errorf("GetNote calls = %d, want 5", calls)
	}

	usn, err := store.USN(ctx)
	if err != nil {
		t.Fatalf("USN() failed: %v", err)
	}
	if usn != 100 {
		t.Errorf("stored watermark = %d, want 100", usn)
	}

	note, err := store.GetNote(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNote(n1) failed: %v", err)
	}
	if note.Content != "<en-note>milk</en-note>" {
		t.Errorf("note content = %q, want fetched body", note.Content)
	}

	last, err := store.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync() failed: %v", err)
	}
	if last.IsZero() {
		t.Error("LastSync not recorded")
	}
}

// TestRun_UpToDate tests that a second pass is a no-op
func TestRun_UpToDate(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	if _, err := New(store, fake, nil, nil).Run(ctx); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	pullsAfterFirst := fake.CallCount("getFilteredSyncChunk")
	fetchesAfterFirst := fake.CallCount("getNote")

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	if !result.UpToDate {
		t.Error("UpToDate = false, want true")
	}
	if result.FinalUSN != 100 || result.StartUSN != 100 {
		t.Errorf("watermarks = %d/%d, want 100/100", result.StartUSN, result.FinalUSN)
	}
	if fake.CallCount("getFilteredSyncChunk") != pullsAfterFirst {
		t.Error("up-to-date pass pulled a chunk")
	}
	if fake.CallCount("getNote") != fetchesAfterFirst {
		t.Error("up-to-date pass fetched a note")
	}
}

// TestRun_MultiChunk tests pagination and per-chunk watermark commits
func TestRun_MultiChunk(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	var watermarks []int64
	config := &Config{
		MaxChunkEntries: 2,
		OnProgress: func(p Progress) {
			watermarks = append(watermarks, p.USN)
		},
	}

	result, err := New(store, fake, config, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// 8 entries at 2 per chunk
	if result.Chunks != 4 {
		t.Errorf("Chunks = %d, want 4", result.Chunks)
	}
	if result.FinalUSN != 100 {
		t.Errorf("FinalUSN = %d, want 100", result.FinalUSN)
	}
	if result.Notebooks != 3 || result.Notes != 5 {
		t.Errorf("counts = %d notebooks, %d notes; want 3, 5", result.Notebooks, result.Notes)
	}

	for i := 1; i < len(watermarks); i++ {
		if watermarks[i] < watermarks[i-1] {
			t.Errorf("watermark regressed in progress events: %v", watermarks)
			break
		}
	}

	usn, err := store.USN(ctx)
	if err != nil {
		t.Fatalf("USN() failed: %v", err)
	}
	if usn != 100 {
		t.Errorf("stored watermark = %d, want 100", usn)
	}
}

// TestRun_Expunge tests that expunged GUIDs disappear locally
func TestRun_Expunge(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	if _, err := New(store, fake, nil, nil).Run(ctx); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	fake.ExpungedNotebooks = []string{"nb3"}
	fake.ExpungedNotes = []string{"n3"}
	fake.USN = 101

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("expunge Run() failed: %v", err)
	}
	if result.ExpungedNotebooks != 1 || result.ExpungedNotes != 1 {
		t.Errorf("expunge counts = %d/%d, want 1/1", result.ExpungedNotebooks, result.ExpungedNotes)
	}
	if result.FinalUSN != 101 {
		t.Errorf("FinalUSN = %d, want 101", result.FinalUSN)
	}

	if _, err := store.GetNotebook(ctx, "nb3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("nb3 still present: err = %v", err)
	}
	if _, err := store.GetNote(ctx, "n3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("n3 still present: err = %v", err)
	}
}

// TestRun_TokenExpired tests the abort-before-write property
func TestRun_TokenExpired(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	fake.TokenExpired = true
	ctx := context.Background()

	_, err := New(store, fake, nil, nil).Run(ctx)
	if !errors.Is(err, remote.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}

	usn, err := store.USN(ctx)
	if err != nil {
		t.Fatalf("USN() failed: %v", err)
	}
	if usn != 0 {
		t.Errorf("watermark = %d, want 0 after aborted run", usn)
	}
	tags, err := store.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("aborted run wrote %d tags", len(tags))
	}
}

// TestRun_Regression tests the fatal sync-inconsistency path
func TestRun_Regression(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	if _, err := New(store, fake, nil, nil).Run(ctx); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	// The server now claims fewer changes than we already applied
	fake.USN = 50

	_, err := New(store, fake, nil, nil).Run(ctx)
	if !errors.Is(err, ErrSyncStateRegressed) {
		t.Fatalf("err = %v, want ErrSyncStateRegressed", err)
	}

	usn, err := store.USN(ctx)
	if err != nil {
		t.Fatalf("USN() failed: %v", err)
	}
	if usn != 100 {
		t.Errorf("watermark = %d, want 100 untouched", usn)
	}
}

// TestRun_SkipsNoteWithUnknownNotebook tests the orphan-note guard
func TestRun_SkipsNoteWithUnknownNotebook(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	fake.AddNotebook(remote.Notebook{GUID: "nb1", Name: "Known", USN: 1})
	fake.AddNote(remote.Note{GUID: "good", Title: "Filed", NotebookGUID: "nb1", Active: true, USN: 2, Content: "<en-note/>"})
	fake.AddNote(remote.Note{GUID: "orphan", Title: "Lost", NotebookGUID: "nb-ghost", Active: true, USN: 3, Content: "<en-note/>"})
	ctx := context.Background()

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(result.SkippedNotes) != 1 || result.SkippedNotes[0] != "orphan" {
		t.Errorf("SkippedNotes = %v, want [orphan]", result.SkippedNotes)
	}
	if result.Notes != 1 {
		t.Errorf("Notes = %d, want 1", result.Notes)
	}
	if result.FinalUSN != 3 {
		t.Errorf("FinalUSN = %d, want 3; a skip must not hold the watermark back", result.FinalUSN)
	}
	if _, err := store.GetNote(ctx, "orphan"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("orphan note stored: err = %v", err)
	}
}

// TestRun_SkipsVanishedNote tests NotFound on the content fetch
func TestRun_SkipsVanishedNote(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	fake.MissingNotes = []string{"n2"}
	ctx := context.Background()

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(result.SkippedNotes) != 1 || result.SkippedNotes[0] != "n2" {
		t.Errorf("SkippedNotes = %v, want [n2]", result.SkippedNotes)
	}
	if result.Notes != 4 {
		t.Errorf("Notes = %d, want 4", result.Notes)
	}
	if _, err := store.GetNote(ctx, "n2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("vanished note stored: err = %v", err)
	}
}

// TestRun_NoProgressGuard tests that a stalled server ends the run
// cleanly instead of looping
func TestRun_NoProgressGuard(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	fake.ServeEmptyChunks = true
	ctx := context.Background()

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.Chunks != 0 {
		t.Errorf("Chunks = %d, want 0", result.Chunks)
	}
	if result.FinalUSN != 0 {
		t.Errorf("FinalUSN = %d, want 0", result.FinalUSN)
	}
	if calls := fake.CallCount("getFilteredSyncChunk"); calls != 1 {
		t.Errorf("PullChunk calls = %d, want 1 (no retry loop)", calls)
	}
}

// TestRun_TransientFailureAborts tests that an escalated transport
// failure surfaces without moving the watermark
func TestRun_TransientFailureAborts(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	fake.FailPulls = 1
	ctx := context.Background()

	_, err := New(store, fake, nil, nil).Run(ctx)
	if err == nil {
		t.Fatal("expected Run to fail")
	}
	if !remote.IsRetryable(err) {
		t.Errorf("err = %v, want a retryable transport error", err)
	}

	usn, err := store.USN(ctx)
	if err != nil {
		t.Fatalf("USN() failed: %v", err)
	}
	if usn != 0 {
		t.Errorf("watermark = %d, want 0", usn)
	}
}

// TestRun_Cancelled tests chunk-boundary cancellation
func TestRun_Cancelled(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, fake, nil, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	usn, usnErr := store.USN(context.Background())
	if usnErr != nil {
		t.Fatalf("USN() failed: %v", usnErr)
	}
	if usn != 0 {
		t.Errorf("watermark = %d, want 0", usn)
	}
}

// TestRun_RecoversAfterRewoundWatermark tests idempotent re-application:
// rows already present, watermark rewound, one pass repairs the state
func TestRun_RecoversAfterRewoundWatermark(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)
	ctx := context.Background()

	if _, err := New(store, fake, nil, nil).Run(ctx); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	// Simulate a restore from an older snapshot of the config row
	if err := store.SetUSN(ctx, 0); err != nil {
		t.Fatalf("SetUSN() failed: %v", err)
	}

	result, err := New(store, fake, nil, nil).Run(ctx)
	if err != nil {
		t.Fatalf("recovery Run() failed: %v", err)
	}
	if result.FinalUSN != 100 {
		t.Errorf("FinalUSN = %d, want 100", result.FinalUSN)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Notebooks != 3 {
		t.Errorf("Notebooks = %d, want 3 (no duplicates)", stats.Notebooks)
	}
	if stats.ActiveNotes+stats.TrashedNotes != 5 {
		t.Errorf("notes = %d, want 5 (no duplicates)", stats.ActiveNotes+stats.TrashedNotes)
	}
}

// TestRun_ProgressEvents tests the callback totals
func TestRun_ProgressEvents(t *testing.T) {
	store := setupStore(t)
	fake := remote.NewFake()
	seedAccount(fake)

	var events []Progress
	config := &Config{
		MaxChunkEntries: 3,
		OnProgress:      func(p Progress) { events = append(events, p) },
	}

	result, err := New(store, fake, config, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// One event for the tag refresh plus one per chunk
	if len(events) != result.Chunks+1 {
		t.Fatalf("events = %d, want %d", len(events), result.Chunks+1)
	}
	first := events[0]
	if first.Chunks != 0 || first.Tags != 2 {
		t.Errorf("first event = %+v, want tag refresh", first)
	}
	last := events[len(events)-1]
	if last.USN != result.FinalUSN || last.Notes != result.Notes {
		t.Errorf("last event = %+v, result = %+v", last, result)
	}
}
