// Package export renders the local note archive to portable formats.
//
// Two formats are supported: ENEX XML documents (one per notebook, or
// one per note) and Markdown files with YAML frontmatter (always one
// per note). Files are written atomically via a temp file and rename
// so a crashed export never leaves a truncated document behind.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/notevault/notevault/internal/remote"
	"github.com/notevault/notevault/internal/storage"
)

// Format selects the export document format.
type Format string

const (
	// FormatENEX produces ENEX XML documents.
	FormatENEX Format = "enex"
	// FormatMarkdown produces Markdown documents with YAML frontmatter.
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name from the command line.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatENEX:
		return FormatENEX, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q (supported: enex, markdown)", s)
	}
}

// Options contains configuration for one export run.
type Options struct {
	Dir          string    // output directory root
	Format       Format    // document format
	SingleNotes  bool      // one ENEX file per note instead of one per notebook
	IncludeTrash bool      // also export inactive notes under a Trash notebook
	Since        time.Time // only notes changed at or after this time; zero exports everything
	Overwrite    bool      // replace existing files instead of skipping them
}

// Result contains statistics about one export run.
type Result struct {
	Notebooks    int      // notebooks that had notes to export
	Notes        int      // notes written into files
	FilesWritten int      // files created or replaced
	FilesSkipped int      // existing files left in place
	Errors       []string // per-file failures
}

// trashNotebookName is the pseudo notebook holding inactive notes.
const trashNotebookName = "Trash"

// Exporter reads the archive and writes export documents.
type Exporter struct {
	store  *storage.Store
	logger *log.Logger
}

// New creates an Exporter over an open archive. A nil logger falls
// back to stderr.
func New(store *storage.Store, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	return &Exporter{store: store, logger: logger}
}

// Run exports the archive once. Per-file failures are collected in
// Result.Errors; the run keeps going so one bad note cannot abort a
// large export.
func (e *Exporter) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if opts.Format != FormatENEX && opts.Format != FormatMarkdown {
		return nil, fmt.Errorf("unknown export format %q", opts.Format)
	}

	tagNames, err := e.tagNames(ctx)
	if err != nil {
		return nil, err
	}

	books, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	names := newNameTable()
	exportedAt := time.Now()

	for _, be := range books {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := opts.Dir
		if be.Notebook.Stack != "" {
			dir = filepath.Join(dir, sanitizeName(be.Notebook.Stack))
		}
		result.Notebooks++

		switch {
		case opts.Format == FormatMarkdown:
			e.exportMarkdown(dir, be, tagNames, names, opts, result)
		case opts.SingleNotes:
			e.exportSingleNotes(dir, be, tagNames, names, opts, exportedAt, result)
		default:
			e.exportNotebook(dir, be, tagNames, names, opts, exportedAt, result)
		}
	}

	e.logger.Printf("Exported %d notes from %d notebooks to %s (%d files written, %d skipped)",
		result.Notes, result.Notebooks, opts.Dir, result.FilesWritten, result.FilesSkipped)

	return result, nil
}

// notebookExport pairs a notebook with the notes selected for export.
type notebookExport struct {
	Notebook remote.Notebook
	Notes    []remote.Note
}

// collect gathers the notebooks that have notes matching the options.
// Empty notebooks produce no files.
func (e *Exporter) collect(ctx context.Context, opts Options) ([]notebookExport, error) {
	notebooks, err := e.store.ListNotebooks(ctx)
	if err != nil {
		return nil, err
	}

	var out []notebookExport
	for _, nb := range notebooks {
		notes, err := e.store.NotesInNotebook(ctx, nb.GUID)
		if err != nil {
			return nil, err
		}
		notes = filterSince(notes, opts.Since)
		if len(notes) == 0 {
			continue
		}
		out = append(out, notebookExport{Notebook: nb, Notes: notes})
	}

	if opts.IncludeTrash {
		trashed, err := e.store.TrashedNotes(ctx)
		if err != nil {
			return nil, err
		}
		trashed = filterSince(trashed, opts.Since)
		if len(trashed) > 0 {
			out = append(out, notebookExport{
				Notebook: remote.Notebook{Name: trashNotebookName},
				Notes:    trashed,
			})
		}
	}

	return out, nil
}

// filterSince keeps notes changed at or after the cutoff. A zero
// cutoff keeps everything. Notes without an update time fall back to
// their creation time.
func filterSince(notes []remote.Note, since time.Time) []remote.Note {
	if since.IsZero() {
		return notes
	}
	kept := notes[:0]
	for _, n := range notes {
		ts := n.Updated
		if ts == 0 {
			ts = n.Created
		}
		if !time.UnixMilli(ts).Before(since) {
			kept = append(kept, n)
		}
	}
	return kept
}

// tagNames loads the GUID to name mapping for tag resolution. Export
// documents carry tag names, not GUIDs.
func (e *Exporter) tagNames(ctx context.Context) (map[string]string, error) {
	tags, err := e.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	byGUID := make(map[string]string, len(tags))
	for _, t := range tags {
		byGUID[t.GUID] = t.Name
	}
	return byGUID, nil
}

// exportNotebook writes one ENEX file holding all of a notebook's
// notes.
func (e *Exporter) exportNotebook(dir string, be notebookExport, tagNames map[string]string, names *nameTable, opts Options, exportedAt time.Time, result *Result) {
	path := names.allocate(dir, sanitizeName(be.Notebook.Name), ".enex")

	data, err := renderENEX(be.Notes, tagNames, exportedAt)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to render notebook %s: %v", be.Notebook.Name, err))
		return
	}

	wrote, err := writeFileAtomic(path, data, opts.Overwrite)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to write %s: %v", path, err))
		return
	}
	if !wrote {
		result.FilesSkipped++
		e.logger.Printf("WARNING: %s exists, skipping", path)
		return
	}
	result.FilesWritten++
	result.Notes += len(be.Notes)
}

// exportSingleNotes writes one ENEX file per note under a notebook
// directory.
func (e *Exporter) exportSingleNotes(dir string, be notebookExport, tagNames map[string]string, names *nameTable, opts Options, exportedAt time.Time, result *Result) {
	nbDir := names.allocate(dir, sanitizeName(be.Notebook.Name), "")

	for _, n := range be.Notes {
		path := names.allocate(nbDir, sanitizeName(n.Title), ".enex")

		data, err := renderENEX([]remote.Note{n}, tagNames, exportedAt)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to render note %s: %v", n.GUID, err))
			continue
		}

		wrote, err := writeFileAtomic(path, data, opts.Overwrite)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to write %s: %v", path, err))
			continue
		}
		if !wrote {
			result.FilesSkipped++
			e.logger.Printf("WARNING: %s exists, skipping", path)
			continue
		}
		result.FilesWritten++
		result.Notes++
	}
}

// exportMarkdown writes one Markdown file per note under a notebook
// directory.
func (e *Exporter) exportMarkdown(dir string, be notebookExport, tagNames map[string]string, names *nameTable, opts Options, result *Result) {
	nbDir := names.allocate(dir, sanitizeName(be.Notebook.Name), "")

	for _, n := range be.Notes {
		path := names.allocate(nbDir, sanitizeName(n.Title), ".md")

		data, err := renderMarkdown(n, be.Notebook, tagNames)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to render note %s: %v", n.GUID, err))
			continue
		}

		wrote, err := writeFileAtomic(path, data, opts.Overwrite)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to write %s: %v", path, err))
			continue
		}
		if !wrote {
			result.FilesSkipped++
			e.logger.Printf("WARNING: %s exists, skipping", path)
			continue
		}
		result.FilesWritten++
		result.Notes++
	}
}

// writeFileAtomic writes data via a temp file and rename. With
// overwrite false an existing file is left untouched and reported as
// not written.
func writeFileAtomic(path string, data []byte, overwrite bool) (bool, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return false, fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return true, nil
}

// nameTable allocates collision-free file names within a run. Lookups
// are case-insensitive so exports stay safe on case-folding file
// systems.
type nameTable struct {
	seen map[string]int
}

func newNameTable() *nameTable {
	return &nameTable{seen: make(map[string]int)}
}

// allocate returns a path for base+ext under dir, suffixing duplicates
// with " (2)", " (3)" and so on.
func (nt *nameTable) allocate(dir, base, ext string) string {
	key := strings.ToLower(filepath.Join(dir, base+ext))
	nt.seen[key]++
	if n := nt.seen[key]; n > 1 {
		base = fmt.Sprintf("%s (%d)", base, n)
	}
	return filepath.Join(dir, base+ext)
}

// fileNameSanitizer strips characters that are hostile to common file
// systems.
var fileNameSanitizer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// maxNameRunes caps file name length below common file system limits.
const maxNameRunes = 120

// sanitizeName makes a notebook or note title safe to use as a file
// name.
func sanitizeName(name string) string {
	name = fileNameSanitizer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)

	if utf8.RuneCountInString(name) > maxNameRunes {
		runes := []rune(name)
		name = string(runes[:maxNameRunes])
	}

	name = strings.Trim(name, " .")
	if name == "" {
		return "Untitled"
	}
	return name
}
