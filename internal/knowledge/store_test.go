package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/indigobot/indigo/internal/loader"
	"github.com/indigobot/indigo/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	embeddings  []float32
	embedFn     func(text string) []float32
	callCount   int
	lastInput   string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{}}}}, nil
	}
	emb := m.embeddings
	if m.embedFn != nil {
		emb = m.embedFn(m.lastInput)
	}
	if emb == nil {
		emb = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: emb}}}, nil
}

// rowFunc adapts a function to pgx.Row.
type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

// mockQuerier records Exec calls and serves canned QueryRow scans.
type mockQuerier struct {
	execErr  error
	execSQL  []string
	execArgs [][]any
	rowScan  func(dest ...any) error
}

func (m *mockQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return rowFunc(m.rowScan)
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(nil, &mockEmbedder{}, nil); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := NewStore(&mockQuerier{}, nil, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
}

func TestUpsert(t *testing.T) {
	db := &mockQuerier{}
	embedder := &mockEmbedder{}
	store, err := NewStore(db, embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	chunk := loader.Chunk{ID: "chunk_abc", Source: "https://example.org/doc", Text: "chunk body"}
	meta := map[string]string{"source": chunk.Source, "ordinal": "0"}

	if err := store.Upsert(context.Background(), chunk, meta); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if embedder.lastInput != "chunk body" {
		t.Errorf("embedder received %q, want the chunk text", embedder.lastInput)
	}
	if len(db.execSQL) != 1 {
		t.Fatalf("%d Exec calls, want 1", len(db.execSQL))
	}
	args := db.execArgs[0]
	if len(args) != 5 {
		t.Fatalf("Exec got %d args, want 5", len(args))
	}
	if args[0] != "chunk_abc" || args[1] != chunk.Source || args[2] != chunk.Text {
		t.Errorf("Exec args = %v", args[:3])
	}
}

func TestUpsert_EmbedderFailure(t *testing.T) {
	db := &mockQuerier{}
	store, _ := NewStore(db, &mockEmbedder{embedErr: errors.New("quota")}, log.NewNop())

	err := store.Upsert(context.Background(), loader.Chunk{ID: "c", Text: "t"}, nil)
	if err == nil {
		t.Fatal("expected error from failing embedder")
	}
	if len(db.execSQL) != 0 {
		t.Error("no write should happen when embedding fails")
	}
}

func TestUpsert_EmptyEmbedding(t *testing.T) {
	store, _ := NewStore(&mockQuerier{}, &mockEmbedder{returnEmpty: true}, log.NewNop())

	if err := store.Upsert(context.Background(), loader.Chunk{ID: "c", Text: "t"}, nil); err == nil {
		t.Fatal("expected error for empty embedding response")
	}
}

func TestUpsert_ExecFailure(t *testing.T) {
	db := &mockQuerier{execErr: errors.New("connection lost")}
	store, _ := NewStore(db, &mockEmbedder{}, log.NewNop())

	if err := store.Upsert(context.Background(), loader.Chunk{ID: "c", Text: "t"}, nil); err == nil {
		t.Fatal("expected error from failing Exec")
	}
}

func TestSearch_EmbedderFailure(t *testing.T) {
	store, _ := NewStore(&mockQuerier{}, &mockEmbedder{embedErr: errors.New("quota")}, log.NewNop())

	if _, err := store.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("expected error from failing embedder")
	}
}

func TestCount(t *testing.T) {
	db := &mockQuerier{rowScan: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}
	store, _ := NewStore(db, &mockEmbedder{}, log.NewNop())

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 42 {
		t.Errorf("Count = %d, want 42", n)
	}
}

func TestDeleteBySource(t *testing.T) {
	db := &mockQuerier{}
	store, _ := NewStore(db, &mockEmbedder{}, log.NewNop())

	if err := store.DeleteBySource(context.Background(), "https://example.org/doc"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	if len(db.execArgs) != 1 || db.execArgs[0][0] != "https://example.org/doc" {
		t.Errorf("Exec args = %v", db.execArgs)
	}
}
