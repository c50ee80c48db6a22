package extract

import (
	"context"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// PageEnricher fills missing metadata fields from the submitted page's
// OpenGraph tags. Enrichment is best-effort: failures are ignored and
// existing fields are never overwritten.
type PageEnricher struct {
	client *http.Client
}

// NewPageEnricher builds an enricher using the given HTTP client.
func NewPageEnricher(client *http.Client) *PageEnricher {
	if client == nil {
		client = http.DefaultClient
	}
	return &PageEnricher{client: client}
}

// Enrich fetches the page and fills empty title/author/thumbnail
// fields from meta tags.
func (p *PageEnricher) Enrich(ctx context.Context, url string, result *domain.ExtractionResult) {
	if result.Title != "" && result.Author != "" && result.Thumbnail != "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return
	}

	if result.Title == "" {
		if v := metaContent(doc, "og:title"); v != "" {
			result.Title = v
		} else {
			result.Title = doc.Find("title").First().Text()
		}
	}
	if result.Author == "" {
		if v := metaContent(doc, "og:site_name"); v != "" {
			result.Author = v
		}
	}
	if result.Thumbnail == "" {
		result.Thumbnail = metaContent(doc, "og:image")
	}
}

// metaContent reads one OpenGraph meta tag's content attribute.
func metaContent(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return content
}
