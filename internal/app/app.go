// Package app wires configuration into the running pipeline: database
// pool, genkit, embedder, stores, crawler, cache, and engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indigobot/indigo/db"
	"github.com/indigobot/indigo/internal/cache"
	"github.com/indigobot/indigo/internal/config"
	"github.com/indigobot/indigo/internal/crawl"
	"github.com/indigobot/indigo/internal/dedup"
	"github.com/indigobot/indigo/internal/engine"
	"github.com/indigobot/indigo/internal/fetch"
	"github.com/indigobot/indigo/internal/knowledge"
	"github.com/indigobot/indigo/internal/loader"
	"github.com/indigobot/indigo/internal/places"
)

// App holds the wired components for one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Store    *knowledge.Store
	Registry *dedup.Postgres
	Sink     *loader.Sink
	Fetcher  *fetch.Fetcher
	Crawler  *crawl.Crawler
	Cache    cache.Store
	Engine   *engine.Engine

	redisCache *cache.Redis
}

// New wires an App from configuration. Migrations run before any
// component touches the schema.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := db.Migrate(cfg.ConnString()); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Pool: pool}
	if err := a.provideGenkit(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.providePipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.provideEngine(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) provideGenkit(ctx context.Context) error {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit")
	}
	a.Genkit = g
	a.Embedder = googlegenai.GoogleAIEmbedder(g, a.Config.EmbedderModel)
	if a.Embedder == nil {
		return fmt.Errorf("embedder %q not available", a.Config.EmbedderModel)
	}
	a.Logger.Debug("genkit initialized", "model", a.Config.ModelName, "embedder", a.Config.EmbedderModel)
	return nil
}

func (a *App) providePipeline(_ context.Context) error {
	store, err := knowledge.NewStore(a.Pool, a.Embedder, a.Logger.With("component", "knowledge"))
	if err != nil {
		return err
	}
	a.Store = store

	registry, err := dedup.NewPostgres(a.Pool, a.Logger.With("component", "dedup"))
	if err != nil {
		return err
	}
	a.Registry = registry

	splitter, err := loader.NewSplitter(a.Config.Chunk.Size, a.Config.Chunk.Overlap)
	if err != nil {
		return err
	}
	sink, err := loader.NewSink(splitter, store, a.Logger.With("component", "loader"))
	if err != nil {
		return err
	}
	a.Sink = sink

	fetcher, err := fetch.New(fetch.Config{
		Timeout:   a.Config.Crawl.Timeout(),
		HostDelay: a.Config.Crawl.HostDelay(),
		Policy: fetch.RetryPolicy{
			MaxRetries:      a.Config.Crawl.MaxRetries,
			InitialInterval: fetch.DefaultRetryPolicy().InitialInterval,
			MaxInterval:     fetch.DefaultRetryPolicy().MaxInterval,
		},
		Logger: a.Logger.With("component", "fetch"),
	})
	if err != nil {
		return err
	}
	a.Fetcher = fetcher

	crawler, err := crawl.New(crawl.Config{
		Workers:  a.Config.Crawl.Parallelism,
		MaxDepth: a.Config.Crawl.MaxDepth,
		Fetcher:  fetcher,
		Registry: registry,
		Sink:     sink,
		Logger:   a.Logger.With("component", "crawl"),
	})
	if err != nil {
		return err
	}
	a.Crawler = crawler
	return nil
}

func (a *App) provideEngine(ctx context.Context) error {
	// Redis is preferred; a failed connection degrades to an
	// in-process cache rather than blocking startup.
	redisCache, err := cache.NewRedis(ctx,
		a.Config.Cache.RedisAddr,
		a.Config.Cache.RedisPassword,
		a.Config.Cache.RedisDB,
		a.Config.Cache.TTL(),
	)
	if err != nil {
		a.Logger.Warn("redis unavailable, using in-memory cache", "error", err)
		a.Cache = cache.NewMemory(a.Config.Cache.TTL())
	} else {
		a.redisCache = redisCache
		a.Cache = redisCache
	}

	var finder engine.PlaceFinder
	if a.Config.PlacesAPIKey != "" {
		client, err := places.NewClient(a.Config.PlacesAPIKey, a.Logger.With("component", "places"))
		if err != nil {
			return err
		}
		finder = client
	} else {
		a.Logger.Info("GPLACES_API_KEY not set, place lookups disabled")
	}

	completer, err := engine.NewGenkitCompleter(a.Genkit, "googleai/"+a.Config.ModelName)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Cache:     a.Cache,
		Retriever: a.Store,
		Places:    finder,
		Completer: completer,
		TopK:      a.Config.TopK,
		Logger:    a.Logger.With("component", "engine"),
	})
	if err != nil {
		return err
	}
	a.Engine = eng
	return nil
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.Logger.Warn("closing redis", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
