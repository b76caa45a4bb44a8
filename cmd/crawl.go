package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/indigobot/indigo/internal/crawl"
)

var crawlDepth int

var crawlCmd = &cobra.Command{
	Use:   "crawl [seed URL or sitemap.xml]...",
	Short: "Crawl seed URLs into the knowledge store",
	Long: `Crawl fetches the given seed URLs (sitemap seeds are expanded to
their listed pages), follows same-origin links down to the configured
depth, and indexes novel content. Pages already seen with unchanged
content are skipped, so re-running over an unchanged site is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().IntVar(&crawlDepth, "depth", -1, "override configured max crawl depth")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	// SIGINT/SIGTERM abort the pass; the registry stays consistent
	// because pages are recorded only after their chunks commit.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if crawlDepth >= 0 {
		a.Config.Crawl.MaxDepth = crawlDepth
		crawler, err := crawl.New(crawl.Config{
			Workers:  a.Config.Crawl.Parallelism,
			MaxDepth: crawlDepth,
			Fetcher:  a.Fetcher,
			Registry: a.Registry,
			Sink:     a.Sink,
			Logger:   a.Logger.With("component", "crawl"),
		})
		if err != nil {
			return err
		}
		a.Crawler = crawler
	}

	lock, err := crawl.AcquireLock(a.Config.StateDir)
	if err != nil {
		if errors.Is(err, crawl.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("locking crawl state: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.Logger.Warn("releasing crawl lock", "error", err)
		}
	}()

	seeds := a.Crawler.ExpandSeeds(ctx, args)
	result, err := a.Crawler.Run(ctx, seeds)
	if err != nil {
		return fmt.Errorf("crawl aborted: %w", err)
	}

	fmt.Printf("crawl finished: %d indexed, %d skipped, %d failed, %d links discovered\n",
		result.Refined, result.Skipped, result.Failed, result.Discovered)
	return nil
}
