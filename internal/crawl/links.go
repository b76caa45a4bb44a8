package crawl

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns the absolute http(s) URLs of all anchors in
// body, resolved against baseURL with fragments stripped. Duplicates
// are removed; order follows document order.
func ExtractLinks(baseURL string, body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" {
					continue
				}
				ref, err := url.Parse(href)
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme != "http" && abs.Scheme != "https" {
					continue
				}
				abs.Fragment = ""
				link := abs.String()
				if !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return links
}
