// Package refine turns raw HTML into clean, hashable text.
//
// Refine is a pure function: the same input bytes always produce the
// same clean text and content hash, which is what makes the hash usable
// as a dedup key. No I/O happens here.
package refine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"
)

// Document is refined page content ready for dedup and chunking.
type Document struct {
	// Source is the URL or file path the content came from.
	Source string

	// Title is the page title, empty if none was found.
	Title string

	// Text is the cleaned, whitespace-collapsed, NFKC-normalized text.
	// Empty Text means "nothing to index", not an error.
	Text string

	// ContentHash is the sha256 hex digest of Text, the dedup key.
	ContentHash string
}

// boilerplateSelector lists elements stripped before text extraction.
const boilerplateSelector = "script, style, noscript, nav, header, footer, aside, form, iframe"

// Refine extracts clean text from raw HTML fetched from source.
// Empty or non-HTML input yields a Document with empty Text.
func Refine(source string, raw []byte) Document {
	doc := Document{Source: source}

	// Plain text and binary payloads are not worth indexing; the loader
	// handles local text files separately.
	if len(raw) == 0 || !bytes.Contains(raw, []byte("<")) {
		doc.ContentHash = HashText("")
		return doc
	}

	title, text := extract(source, raw)
	doc.Title = Normalize(title)
	doc.Text = Normalize(text)
	doc.ContentHash = HashText(doc.Text)
	return doc
}

// extract runs readability first and falls back to stripping
// boilerplate with goquery when readability finds no main content.
func extract(source string, raw []byte) (title, text string) {
	pageURL, err := url.Parse(source)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, article.TextContent
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", ""
	}
	gq.Find(boilerplateSelector).Remove()
	title = gq.Find("title").First().Text()
	text = gq.Find("body").Text()
	if text == "" {
		// Fragment without a body element.
		text = gq.Text()
	}
	return title, text
}

// Normalize applies NFKC unicode normalization and collapses all runs
// of whitespace to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// HashText returns the sha256 hex digest of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
