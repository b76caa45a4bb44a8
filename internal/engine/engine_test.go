package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/indigobot/indigo/internal/cache"
	"github.com/indigobot/indigo/internal/knowledge"
	"github.com/indigobot/indigo/internal/log"
	"github.com/indigobot/indigo/internal/places"
)

type fakeRetriever struct {
	results []knowledge.Result
	err     error
	calls   int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ int) ([]knowledge.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakePlaces struct {
	place *places.Place
	err   error
	calls int
}

func (f *fakePlaces) Lookup(_ context.Context, _ string) (*places.Place, error) {
	f.calls++
	return f.place, f.err
}

type fakeCompleter struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// failingCache errors on every operation.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}
func (failingCache) Put(context.Context, string, string) error {
	return errors.New("cache down")
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestAnswer_RetrievesAndCaches(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(0)
	retriever := &fakeRetriever{results: []knowledge.Result{
		{ID: "c1", Source: "https://example.org/doc", Content: "shelter opens at nine", Similarity: 0.9},
	}}
	completer := &fakeCompleter{answer: "The shelter opens at nine."}

	e := newTestEngine(t, Config{
		Cache: store, Retriever: retriever, Completer: completer, TopK: 3,
	})

	answer, err := e.Answer(ctx, "when does the shelter open", "s1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Cached {
		t.Error("first answer should not be cached")
	}
	if answer.Text != "The shelter opens at nine." {
		t.Errorf("Text = %q", answer.Text)
	}

	// Retrieved context reaches the prompt.
	if len(completer.prompts) != 1 {
		t.Fatalf("completer called %d times, want 1", len(completer.prompts))
	}
	if !strings.Contains(completer.prompts[0], "shelter opens at nine") {
		t.Error("retrieved chunk missing from prompt")
	}
	if !strings.Contains(completer.prompts[0], "when does the shelter open") {
		t.Error("query missing from prompt")
	}

	// The answer was cached under the same key.
	key := cache.Key("when does the shelter open", "s1")
	cached, ok, _ := store.Get(ctx, key)
	if !ok || cached != answer.Text {
		t.Errorf("cache entry = (%q, %v)", cached, ok)
	}
}

func TestAnswer_CacheHitShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(0)
	retriever := &fakeRetriever{}
	completer := &fakeCompleter{answer: "fresh"}

	e := newTestEngine(t, Config{Cache: store, Retriever: retriever, Completer: completer})

	key := cache.Key("the question", "s1")
	if err := store.Put(ctx, key, "the cached answer"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	answer, err := e.Answer(ctx, "the question", "s1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !answer.Cached || answer.Text != "the cached answer" {
		t.Errorf("answer = %+v, want cached hit", answer)
	}
	if retriever.calls != 0 {
		t.Error("cache hit must not reach retrieval")
	}
	if len(completer.prompts) != 0 {
		t.Error("cache hit must not reach the model")
	}

	// A different session misses and recomputes.
	answer, err = e.Answer(ctx, "the question", "s2")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Cached || answer.Text != "fresh" {
		t.Errorf("cross-session answer = %+v, want fresh", answer)
	}
}

func TestAnswer_CacheFailureDegradesToMiss(t *testing.T) {
	retriever := &fakeRetriever{}
	completer := &fakeCompleter{answer: "computed anyway"}

	e := newTestEngine(t, Config{
		Cache: failingCache{}, Retriever: retriever, Completer: completer,
	})

	answer, err := e.Answer(context.Background(), "a question", "s1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "computed anyway" {
		t.Errorf("Text = %q", answer.Text)
	}
	if retriever.calls != 1 {
		t.Error("cache failure should fall through to retrieval")
	}
}

func TestAnswer_PlacesLookupMergedIntoPrompt(t *testing.T) {
	finder := &fakePlaces{place: &places.Place{
		Name:    "Community Food Bank",
		Address: "123 Main St",
	}}
	completer := &fakeCompleter{answer: "ok"}

	e := newTestEngine(t, Config{
		Cache:     cache.NewMemory(0),
		Retriever: &fakeRetriever{},
		Places:    finder,
		Completer: completer,
	})

	if _, err := e.Answer(context.Background(), "where is the food bank", "s1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if finder.calls != 1 {
		t.Fatalf("places called %d times, want 1", finder.calls)
	}
	if !strings.Contains(completer.prompts[0], "123 Main St") {
		t.Error("place details missing from prompt")
	}
}

func TestAnswer_PlacesSkippedForNonPlaceQueries(t *testing.T) {
	finder := &fakePlaces{}
	e := newTestEngine(t, Config{
		Cache:     cache.NewMemory(0),
		Retriever: &fakeRetriever{},
		Places:    finder,
		Completer: &fakeCompleter{answer: "ok"},
	})

	if _, err := e.Answer(context.Background(), "summarize the eligibility rules", "s1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if finder.calls != 0 {
		t.Error("places should not be consulted for non-place queries")
	}
}

func TestAnswer_PlacesFailureDegrades(t *testing.T) {
	finder := &fakePlaces{err: errors.New("quota exceeded")}
	completer := &fakeCompleter{answer: "answered without place info"}

	e := newTestEngine(t, Config{
		Cache:     cache.NewMemory(0),
		Retriever: &fakeRetriever{},
		Places:    finder,
		Completer: completer,
	})

	answer, err := e.Answer(context.Background(), "where is the shelter", "s1")
	if err != nil {
		t.Fatalf("Answer should survive a places failure: %v", err)
	}
	if answer.Text != "answered without place info" {
		t.Errorf("Text = %q", answer.Text)
	}
	if strings.Contains(completer.prompts[0], "Place details") {
		t.Error("failed lookup should leave no place section in the prompt")
	}
}

func TestAnswer_ModelFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(0)

	e := newTestEngine(t, Config{
		Cache:     store,
		Retriever: &fakeRetriever{},
		Completer: &fakeCompleter{err: errors.New("model unavailable")},
	})

	if _, err := e.Answer(ctx, "a question", "s1"); err == nil {
		t.Fatal("expected error when the model fails")
	}

	// No partial answer was cached.
	key := cache.Key("a question", "s1")
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Error("failed answer must not be cached")
	}
}

func TestAnswer_RetrievalFailureIsFatal(t *testing.T) {
	e := newTestEngine(t, Config{
		Cache:     cache.NewMemory(0),
		Retriever: &fakeRetriever{err: errors.New("store offline")},
		Completer: &fakeCompleter{answer: "unreachable"},
	})

	if _, err := e.Answer(context.Background(), "a question", "s1"); err == nil {
		t.Fatal("expected error when retrieval fails")
	}
}

func TestPlaceDirected(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"where is the food bank", true},
		{"what are the opening hours", true},
		{"is there a shelter nearby", true},
		{"what's their phone number", true},
		{"summarize the eligibility requirements", false},
		{"how do I apply for assistance", false},
	}
	for _, tt := range tests {
		if got := placeDirected(tt.query); got != tt.want {
			t.Errorf("placeDirected(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
