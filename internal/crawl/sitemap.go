package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// urlSet matches the sitemaps.org urlset document.
type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// ParseSitemap extracts page URLs from sitemap XML.
func ParseSitemap(data []byte) ([]string, error) {
	var set urlSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing sitemap: %w", err)
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

// ExpandSeeds replaces sitemap seeds with the page URLs they list.
// Seeds that are not sitemaps pass through unchanged; a sitemap that
// cannot be fetched or parsed is dropped with a log line rather than
// failing the whole pass.
func (c *Crawler) ExpandSeeds(ctx context.Context, seeds []string) []string {
	var out []string
	for _, seed := range seeds {
		if !strings.HasSuffix(strings.ToLower(seed), ".xml") {
			out = append(out, seed)
			continue
		}

		page, err := c.fetcher.Fetch(ctx, seed)
		if err != nil {
			c.logger.Warn("sitemap fetch failed", "url", seed, "error", err)
			continue
		}
		urls, err := ParseSitemap(page.Body)
		if err != nil {
			c.logger.Warn("sitemap parse failed", "url", seed, "error", err)
			continue
		}
		c.logger.Info("sitemap expanded", "url", seed, "pages", len(urls))
		out = append(out, urls...)
	}
	return out
}
