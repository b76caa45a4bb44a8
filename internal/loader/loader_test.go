package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSplitter_Validation(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		wantErr       bool
	}{
		{"valid", 100, 20, false},
		{"zero overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
		{"overlap exceeds size", 100, 150, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSplitter(%d, %d) error = %v, wantErr %v", tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	s, err := NewSplitter(10, 3)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	text := strings.Repeat("abcdefghij", 5)
	a := s.Split("https://example.org/doc", text)
	b := s.Split("https://example.org/doc", text)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same input produced different chunks (-first +second):\n%s", diff)
	}
}

func TestSplit_WindowsAndOverlap(t *testing.T) {
	s, err := NewSplitter(10, 3)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	// 24 runes, step 7: windows at 0, 7 and 14; the third window
	// reaches the end, so no trailing window is emitted.
	text := "abcdefghijklmnopqrstuvwx"
	chunks := s.Split("src", text)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	wantTexts := []string{"abcdefghij", "hijklmnopq", "opqrstuvwx"}
	for i, chunk := range chunks {
		if chunk.Text != wantTexts[i] {
			t.Errorf("chunk %d text = %q, want %q", i, chunk.Text, wantTexts[i])
		}
		if chunk.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, chunk.Ordinal)
		}
		if chunk.Source != "src" {
			t.Errorf("chunk %d source = %q", i, chunk.Source)
		}
	}

	// Adjacent windows share exactly the overlap.
	if got := chunks[0].Text[7:]; got != chunks[1].Text[:3] {
		t.Errorf("overlap mismatch: %q vs %q", got, chunks[1].Text[:3])
	}
}

func TestSplit_StableIDs(t *testing.T) {
	s, _ := NewSplitter(10, 0)

	first := s.Split("src", "abcdefghijklmnopqrst")
	second := s.Split("src", "abcdefghijklmnopqrst")
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d ID changed between runs", i)
		}
		if !strings.HasPrefix(first[i].ID, "chunk_") {
			t.Errorf("chunk ID %q missing prefix", first[i].ID)
		}
	}

	// Different sources yield different IDs for identical text.
	other := s.Split("other", "abcdefghijklmnopqrst")
	if first[0].ID == other[0].ID {
		t.Error("different sources produced the same chunk ID")
	}
}

func TestSplit_ShortAndEmpty(t *testing.T) {
	s, _ := NewSplitter(100, 20)

	if got := s.Split("src", ""); got != nil {
		t.Errorf("empty text produced %d chunks", len(got))
	}
	if got := s.Split("src", "   \n\t "); got != nil {
		t.Errorf("whitespace-only text produced %d chunks", len(got))
	}

	chunks := s.Split("src", "short")
	if len(chunks) != 1 {
		t.Fatalf("short text produced %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "short" {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
}

func TestSplit_MultibyteRunes(t *testing.T) {
	s, _ := NewSplitter(4, 1)

	chunks := s.Split("src", "héllo wörld")
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		r := []rune(chunk.Text)
		if i == 0 {
			rebuilt.WriteString(chunk.Text)
		} else {
			rebuilt.WriteString(string(r[1:])) // drop the overlapped rune
		}
	}
	if rebuilt.String() != "héllo wörld" {
		t.Errorf("chunks do not reassemble: %q", rebuilt.String())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		return path
	}

	t.Run("text file", func(t *testing.T) {
		path := write("notes.txt", "line one\n\nline   two")
		doc, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if doc.Text != "line one line two" {
			t.Errorf("Text = %q", doc.Text)
		}
		if doc.Title != "notes.txt" {
			t.Errorf("Title = %q", doc.Title)
		}
		if doc.ContentHash == "" {
			t.Error("missing content hash")
		}
	})

	t.Run("markdown file", func(t *testing.T) {
		path := write("guide.md", "# Heading\n\nbody text")
		doc, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if !strings.Contains(doc.Text, "body text") {
			t.Errorf("Text = %q", doc.Text)
		}
	})

	t.Run("html file", func(t *testing.T) {
		path := write("page.html",
			"<html><head><title>T</title><script>x()</script></head><body><p>visible words</p></body></html>")
		doc, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if !strings.Contains(doc.Text, "visible words") {
			t.Errorf("Text = %q", doc.Text)
		}
		if strings.Contains(doc.Text, "x()") {
			t.Error("script content leaked into text")
		}
	})

	t.Run("pdf file", func(t *testing.T) {
		path := filepath.Join(dir, "hours.pdf")
		writeSinglePagePDF(t, path, "Community food bank hours")
		doc, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if !strings.Contains(doc.Text, "Community food bank hours") {
			t.Errorf("Text = %q", doc.Text)
		}
		if doc.Title != "hours.pdf" {
			t.Errorf("Title = %q", doc.Title)
		}
		if doc.ContentHash == "" {
			t.Error("missing content hash")
		}
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		path := write("broken.pdf", "%PDF-1.4 truncated before any structure")
		if _, err := LoadFile(path); err == nil {
			t.Error("expected error for corrupt pdf")
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := write("report.docx", "not a document")
		_, err := LoadFile(path)
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("LoadFile returned %v, want ErrUnsupportedType", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(dir, "absent.txt")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

// writeSinglePagePDF writes a one-page PDF showing text in Helvetica.
// Object offsets for the xref table are measured while writing, so the
// file is valid by construction.
func writeSinglePagePDF(t *testing.T, path, text string) {
	t.Helper()

	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)

	if err := os.WriteFile(path, b.Bytes(), 0o600); err != nil {
		t.Fatalf("writing pdf fixture: %v", err)
	}
}
