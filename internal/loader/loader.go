// Package loader normalizes local files and crawled pages into uniform
// chunks sized for embedding.
//
// Chunking is deterministic: the same text and configuration always
// produce the same chunks with the same IDs, which keeps re-indexing
// idempotent at the store (upserts by chunk ID overwrite in place).
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/indigobot/indigo/internal/refine"
)

// ErrUnsupportedType indicates a file type the loader cannot read.
var ErrUnsupportedType = errors.New("unsupported file type")

// Chunk is a bounded slice of document text ready for embedding.
type Chunk struct {
	// ID is derived from source + rune offset, stable across runs.
	ID string

	// Source is the URL or file path of the parent document.
	Source string

	// Ordinal is the chunk's position within its document, from 0.
	Ordinal int

	// Text is the chunk content.
	Text string
}

// Splitter cuts text into overlapping rune windows.
type Splitter struct {
	size    int // window size in runes
	overlap int // runes shared between adjacent windows
}

// NewSplitter creates a splitter. Overlap must be smaller than size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, fmt.Errorf("loader: chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("loader: overlap %d must be in [0, %d)", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split cuts text into chunks. Empty or whitespace-only text yields nil.
func (s *Splitter) Split(source, text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := s.size - s.overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+s.size, len(runes))
		chunks = append(chunks, Chunk{
			ID:      chunkID(source, start),
			Source:  source,
			Ordinal: len(chunks),
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkID derives a stable chunk identifier from the source and the
// chunk's rune offset within the document.
func chunkID(source string, offset int) string {
	sum := sha256.Sum256([]byte(source + "#" + strconv.Itoa(offset)))
	return "chunk_" + hex.EncodeToString(sum[:16])
}

// textExtensions are the local file types read verbatim.
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// htmlExtensions are the local file types routed through the refiner.
var htmlExtensions = map[string]bool{
	".html": true,
	".htm":  true,
}

// LoadFile reads a local file into a refined document. HTML files go
// through the refiner, PDFs through text extraction; plain text is
// normalized and hashed directly.
func LoadFile(path string) (refine.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case textExtensions[ext]:
		raw, err := os.ReadFile(path)
		if err != nil {
			return refine.Document{}, fmt.Errorf("reading %s: %w", path, err)
		}
		text := refine.Normalize(string(raw))
		return refine.Document{
			Source:      path,
			Title:       filepath.Base(path),
			Text:        text,
			ContentHash: refine.HashText(text),
		}, nil

	case htmlExtensions[ext]:
		raw, err := os.ReadFile(path)
		if err != nil {
			return refine.Document{}, fmt.Errorf("reading %s: %w", path, err)
		}
		return refine.Refine(path, raw), nil

	case ext == ".pdf":
		text, err := extractPDFText(path)
		if err != nil {
			return refine.Document{}, err
		}
		text = refine.Normalize(text)
		return refine.Document{
			Source:      path,
			Title:       filepath.Base(path),
			Text:        text,
			ContentHash: refine.HashText(text),
		}, nil

	default:
		return refine.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

// extractPDFText pulls the plain text out of every page of a PDF.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	content, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, content); err != nil {
		return "", fmt.Errorf("reading text of %s: %w", path, err)
	}
	return b.String(), nil
}
