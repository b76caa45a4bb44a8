// Package crawl implements recursive same-origin link discovery over a
// bounded worker pool.
//
// Tasks move Pending → Fetching → {Refined, Skipped, Failed}. The
// backlog is an unbounded in-memory list guarded by an active-task
// counter: link discovery never blocks, workers sleep on an empty
// backlog, and the pass ends when the last active task retires. Cycle
// safety comes from the seen registry (across passes) and an in-pass
// visited set; the depth bound is a secondary safety net.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/indigobot/indigo/internal/dedup"
	"github.com/indigobot/indigo/internal/fetch"
	"github.com/indigobot/indigo/internal/refine"
)

// Task is one URL scheduled for crawling. DepthRemaining strictly
// decreases along the link graph; 0 is terminal.
type Task struct {
	URL            string
	DepthRemaining int
	Origin         string // host of the seed this task descends from
}

// Fetcher is the slice of the content fetcher the crawler needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Sink receives refined documents for chunking and storage. Store must
// commit durably before returning: the crawler records a page as seen
// only after Store succeeds.
type Sink interface {
	Store(ctx context.Context, doc refine.Document) error
}

// Result tallies terminal task states for one crawl pass.
type Result struct {
	Refined    int // fetched, novel, forwarded to the sink
	Skipped    int // duplicates and empty pages
	Failed     int // permanent fetch errors or retry exhaustion
	Discovered int // links enqueued
}

// Config wires a Crawler.
type Config struct {
	Workers  int
	MaxDepth int
	Fetcher  Fetcher
	Registry dedup.Registry
	Sink     Sink
	Logger   *slog.Logger
}

// Crawler drives fetch → refine → dedup → sink for a set of seeds.
type Crawler struct {
	workers  int
	maxDepth int
	fetcher  Fetcher
	registry dedup.Registry
	sink     Sink
	logger   *slog.Logger
}

// New creates a Crawler.
func New(cfg Config) (*Crawler, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("crawl: fetcher is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("crawl: registry is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("crawl: sink is required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("crawl: max depth must be >= 0, got %d", cfg.MaxDepth)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Crawler{
		workers:  cfg.Workers,
		maxDepth: cfg.MaxDepth,
		fetcher:  cfg.Fetcher,
		registry: cfg.Registry,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
	}, nil
}

// visitedSet is the in-pass cycle breaker, keyed like the registry.
type visitedSet struct {
	mu   sync.Mutex
	urls map[string]bool
}

// markIfNew marks the URL and reports whether it was unmarked before.
func (v *visitedSet) markIfNew(rawURL string) bool {
	key := dedup.URLKey(rawURL)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.urls[key] {
		return false
	}
	v.urls[key] = true
	return true
}

// pass carries the shared state of one crawl run. The backlog grows
// without bound so enqueueing never blocks a worker.
type pass struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []*Task
	active  int
	visited visitedSet
	result  Result
}

func newPass() *pass {
	p := &pass{visited: visitedSet{urls: make(map[string]bool)}}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// push schedules a task. The caller must have claimed the URL in the
// visited set first.
func (p *pass) push(t *Task) {
	p.mu.Lock()
	p.active++
	p.backlog = append(p.backlog, t)
	p.mu.Unlock()
	p.cond.Signal()
}

// pop blocks until a task is available. A nil task means the pass has
// drained: the backlog is empty and no task is still in flight.
func (p *pass) pop() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.backlog) == 0 && p.active > 0 {
		p.cond.Wait()
	}
	if len(p.backlog) == 0 {
		return nil
	}
	t := p.backlog[0]
	p.backlog = p.backlog[1:]
	return t
}

// finish retires a task. Retiring the last active task wakes every
// sleeping worker so it can observe the drained pass.
func (p *pass) finish() {
	p.mu.Lock()
	p.active--
	drained := p.active == 0
	p.mu.Unlock()
	if drained {
		p.cond.Broadcast()
	}
}

// Run crawls from the seeds down to the configured depth. Returns the
// tally and ctx.Err() if the pass was aborted. An aborted pass leaves
// the registry consistent: pages are recorded only after their chunks
// were committed.
func (c *Crawler) Run(ctx context.Context, seeds []string) (Result, error) {
	p := newPass()

	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || !u.IsAbs() {
			c.logger.Warn("skipping malformed seed", "url", seed)
			continue
		}
		if !p.visited.markIfNew(seed) {
			continue
		}
		p.push(&Task{URL: seed, DepthRemaining: c.maxDepth, Origin: u.Host})
	}

	var wg sync.WaitGroup
	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := p.pop(); task != nil; task = p.pop() {
				c.process(ctx, p, task)
			}
		}()
	}
	wg.Wait()

	c.logger.Info("crawl pass finished",
		"refined", p.result.Refined,
		"skipped", p.result.Skipped,
		"failed", p.result.Failed,
		"discovered", p.result.Discovered,
	)
	return p.result, ctx.Err()
}

// process handles one task through its terminal state. It always
// retires the task; the retirement that reaches zero active tasks ends
// the pass.
func (c *Crawler) process(ctx context.Context, p *pass, task *Task) {
	defer p.finish()

	if ctx.Err() != nil {
		return
	}

	page, err := c.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		// Permanent failure or retry exhaustion: logged and abandoned.
		c.logger.Warn("task failed", "url", task.URL, "error", err)
		p.count(func(r *Result) { r.Failed++ })
		return
	}

	doc := refine.Refine(task.URL, page.Body)

	novel, err := c.registry.ShouldProcess(ctx, task.URL, doc.ContentHash)
	if err != nil {
		c.logger.Error("registry check failed", "url", task.URL, "error", err)
		p.count(func(r *Result) { r.Failed++ })
		return
	}
	if !novel {
		c.logger.Debug("duplicate skipped", "url", task.URL)
		p.count(func(r *Result) { r.Skipped++ })
		return
	}

	// Novel content: discover links before handing off, but never
	// below depth 0.
	if task.DepthRemaining > 0 {
		c.enqueueLinks(ctx, p, task, page.Body)
	}

	if doc.Text == "" {
		// Nothing to index; record so the next pass skips it outright.
		if _, err := c.registry.Record(ctx, task.URL, doc.ContentHash); err != nil {
			c.logger.Warn("recording empty page failed", "url", task.URL, "error", err)
		}
		p.count(func(r *Result) { r.Skipped++ })
		return
	}

	// Mirror check: identical content reached through another URL is
	// recorded for this URL but stored only once.
	mirrored, err := c.registry.SeenContent(ctx, doc.ContentHash)
	if err != nil {
		c.logger.Error("content check failed", "url", task.URL, "error", err)
		p.count(func(r *Result) { r.Failed++ })
		return
	}
	if mirrored {
		c.logger.Debug("mirrored content skipped", "url", task.URL)
		if _, err := c.registry.Record(ctx, task.URL, doc.ContentHash); err != nil {
			c.logger.Warn("recording mirrored page failed", "url", task.URL, "error", err)
		}
		p.count(func(r *Result) { r.Skipped++ })
		return
	}

	if err := c.sink.Store(ctx, doc); err != nil {
		// Not recorded as seen: the next pass retries this page.
		c.logger.Error("storing document failed", "url", task.URL, "error", err)
		p.count(func(r *Result) { r.Failed++ })
		return
	}

	won, err := c.registry.Record(ctx, task.URL, doc.ContentHash)
	if err != nil {
		c.logger.Warn("recording seen page failed", "url", task.URL, "error", err)
		p.count(func(r *Result) { r.Failed++ })
		return
	}
	if !won {
		// A concurrent worker committed identical content first; the
		// idempotent upsert made our copy a no-op.
		p.count(func(r *Result) { r.Skipped++ })
		return
	}

	p.count(func(r *Result) { r.Refined++ })
}

// enqueueLinks schedules same-origin outbound links one level deeper.
func (c *Crawler) enqueueLinks(ctx context.Context, p *pass, task *Task, body []byte) {
	for _, link := range ExtractLinks(task.URL, body) {
		if ctx.Err() != nil {
			return
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != task.Origin {
			continue
		}
		if !p.visited.markIfNew(link) {
			continue
		}
		p.push(&Task{
			URL:            link,
			DepthRemaining: task.DepthRemaining - 1,
			Origin:         task.Origin,
		})
		p.count(func(r *Result) { r.Discovered++ })
	}
}

func (p *pass) count(fn func(*Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.result)
}
