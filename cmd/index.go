package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/indigobot/indigo/internal/loader"
)

var indexCmd = &cobra.Command{
	Use:   "index [file]...",
	Short: "Index local files into the knowledge store",
	Long: `Index reads local .txt, .md, .html and .pdf files, refines and
chunks them, and upserts the chunks into the knowledge store. Files
whose content is unchanged since the last run are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var indexed, skipped, failed int
	for _, path := range args {
		doc, err := loader.LoadFile(path)
		if err != nil {
			if errors.Is(err, loader.ErrUnsupportedType) {
				a.Logger.Warn("skipping unsupported file", "path", path)
				skipped++
				continue
			}
			a.Logger.Error("loading file failed", "path", path, "error", err)
			failed++
			continue
		}

		novel, err := a.Registry.ShouldProcess(ctx, doc.Source, doc.ContentHash)
		if err != nil {
			return fmt.Errorf("checking registry for %s: %w", path, err)
		}
		if !novel {
			a.Logger.Debug("file unchanged, skipping", "path", path)
			skipped++
			continue
		}
		mirrored, err := a.Registry.SeenContent(ctx, doc.ContentHash)
		if err != nil {
			return fmt.Errorf("checking content for %s: %w", path, err)
		}
		if mirrored {
			a.Logger.Debug("identical content already indexed, skipping", "path", path)
			if _, err := a.Registry.Record(ctx, doc.Source, doc.ContentHash); err != nil {
				return fmt.Errorf("recording %s: %w", path, err)
			}
			skipped++
			continue
		}

		if err := a.Sink.Store(ctx, doc); err != nil {
			a.Logger.Error("indexing file failed", "path", path, "error", err)
			failed++
			continue
		}
		if _, err := a.Registry.Record(ctx, doc.Source, doc.ContentHash); err != nil {
			return fmt.Errorf("recording %s: %w", path, err)
		}
		indexed++
	}

	fmt.Printf("index finished: %d indexed, %d skipped, %d failed\n", indexed, skipped, failed)
	return nil
}
