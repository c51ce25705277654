package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/export"
	"github.com/notevault/notevault/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Export the archive to ENEX or Markdown files",
	Long: `Export notes from the archive into a directory tree.

Formats:
  enex       one .enex file per notebook, or per note with --single-notes
  markdown   one .md file per note with YAML frontmatter

Stacked notebooks become subdirectories. Existing files are left in
place unless --overwrite is given, so repeated exports into the same
directory only add what is new.

Example usage:
  nv export ~/backup                          # ENEX, one file per notebook
  nv export ~/notes --format markdown         # Markdown tree
  nv export ~/backup --since "2 weeks ago"    # only recently changed notes
  nv export ~/backup --watch                  # re-export on archive changes`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		opts := export.Options{
			Dir:    args[0],
			Format: format,
		}
		opts.SingleNotes, _ = cmd.Flags().GetBool("single-notes")
		opts.IncludeTrash, _ = cmd.Flags().GetBool("include-trash")
		opts.Overwrite, _ = cmd.Flags().GetBool("overwrite")

		if since, _ := cmd.Flags().GetString("since"); since != "" {
			opts.Since, err = export.ParseSince(since, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		store, err := openArchive(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		exporter := export.New(store, log.New(quietSink(cfg), "[export] ", log.LstdFlags))

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			fmt.Printf("%s Watching %s for changes\n", ui.RenderAccent("🔄"), store.Path())
			fmt.Printf("   Exporting to: %s\n", opts.Dir)
			fmt.Printf("\nPress Ctrl+C to stop\n\n")

			if err := exporter.Watch(ctx, opts, export.DefaultDebounce); err != nil {
				fmt.Fprintf(os.Stderr, "Error watching archive: %v\n", err)
				os.Exit(1)
			}
			return
		}

		result, err := exporter.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during export: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported %d notes from %d notebooks\n", ui.RenderPass("✓"), result.Notes, result.Notebooks)
		fmt.Printf("   Files: %d written, %d skipped\n", result.FilesWritten, result.FilesSkipped)
		fmt.Printf("   Output: %s\n", opts.Dir)

		if len(result.Errors) > 0 {
			fmt.Printf("\n%s %d notes could not be exported:\n", ui.RenderFail("✗"), len(result.Errors))
			for _, msg := range result.Errors {
				fmt.Printf("   %s\n", msg)
			}
			os.Exit(1)
		}
	},
}

func init() {
	exportCmd.Flags().String("format", "enex", "Export format: enex or markdown")
	exportCmd.Flags().Bool("single-notes", false, "One ENEX file per note instead of per notebook")
	exportCmd.Flags().Bool("include-trash", false, "Also export trashed notes under Trash/")
	exportCmd.Flags().String("since", "", `Only notes changed since, e.g. "yesterday" or "2 weeks ago"`)
	exportCmd.Flags().Bool("overwrite", false, "Replace files that already exist")
	exportCmd.Flags().Bool("watch", false, "Keep the export directory current as the archive changes")
	rootCmd.AddCommand(exportCmd)
}
