// Package engine assembles retrieval context and produces answers.
//
// The flow per query: response cache (hit short-circuits) → vector
// similarity search → optional places lookup → one prompt → language
// model → cache the answer. The places lookup is optional context and
// degrades silently; a model failure is fatal to the request.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/indigobot/indigo/internal/cache"
	"github.com/indigobot/indigo/internal/knowledge"
	"github.com/indigobot/indigo/internal/places"
)

// Retriever is the slice of the knowledge store the engine needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Result, error)
}

// PlaceFinder resolves place queries. May be absent (nil) entirely.
type PlaceFinder interface {
	Lookup(ctx context.Context, query string) (*places.Place, error)
}

// Completer is the opaque text-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Answer is a produced or cached response.
type Answer struct {
	Text   string
	Cached bool
}

// Config wires an Engine.
type Config struct {
	Cache     cache.Store
	Retriever Retriever
	Places    PlaceFinder // optional
	Completer Completer
	TopK      int
	Logger    *slog.Logger
}

// Engine answers queries with retrieval-augmented generation.
type Engine struct {
	cache     cache.Store
	retriever Retriever
	places    PlaceFinder
	completer Completer
	topK      int
	logger    *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("engine: cache is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("engine: retriever is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("engine: completer is required")
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cache:     cfg.Cache,
		retriever: cfg.Retriever,
		places:    cfg.Places,
		completer: cfg.Completer,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}, nil
}

// Answer produces a response for query within session.
func (e *Engine) Answer(ctx context.Context, query, session string) (Answer, error) {
	key := cache.Key(query, session)

	// Cache failures degrade to a miss; they never fail the query.
	if answer, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("cache get failed, recomputing", "error", err)
	} else if ok {
		e.logger.Debug("cache hit", "session", session)
		return Answer{Text: answer, Cached: true}, nil
	}

	results, err := e.retriever.Search(ctx, query, e.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	var placeInfo string
	if e.places != nil && placeDirected(query) {
		place, err := e.places.Lookup(ctx, query)
		switch {
		case err != nil:
			// Optional context: log and move on.
			e.logger.Warn("places lookup failed, continuing without it", "error", err)
		case place != nil:
			placeInfo = place.Format()
		}
	}

	prompt := buildPrompt(query, results, placeInfo)

	answer, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		// Model failure is fatal: no partial answer, no cache write.
		return Answer{}, fmt.Errorf("language model: %w", err)
	}

	if err := e.cache.Put(ctx, key, answer); err != nil {
		e.logger.Warn("cache put failed", "error", err)
	}

	return Answer{Text: answer}, nil
}

// placeKeywords mark a query as likely place-directed.
var placeKeywords = []string{
	"where", "address", "location", "directions", "near", "nearby",
	"hours", "open", "closed", "phone", "contact",
}

// placeDirected reports whether the query looks like it references a
// place or location.
func placeDirected(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range placeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// buildPrompt assembles the single model prompt from retrieved chunks
// and optional place info.
func buildPrompt(query string, results []knowledge.Result, placeInfo string) string {
	var b strings.Builder
	b.WriteString("You are an assistant for questions about community resources and services.\n")
	b.WriteString("Answer using only the context below. If the context does not contain the answer, say you do not know.\n\n")

	if len(results) > 0 {
		b.WriteString("Context:\n")
		for _, r := range results {
			fmt.Fprintf(&b, "--- (source: %s)\n%s\n", r.Source, r.Content)
		}
		b.WriteString("\n")
	}

	if placeInfo != "" {
		b.WriteString("Place details:\n")
		b.WriteString(placeInfo)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)
	return b.String()
}
