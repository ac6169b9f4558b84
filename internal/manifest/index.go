package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// IndexEntry is a manifest listing advertised on an HTTP directory index.
type IndexEntry struct {
	Name string
	URL  string
}

// IndexScanner discovers manifest listings on the source's HTTPS directory index.
type IndexScanner struct {
	client *http.Client
	logger *slog.Logger
}

// NewIndexScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewIndexScanner(client *http.Client, logger *slog.Logger) *IndexScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &IndexScanner{client: client, logger: logger}
}

// Discover returns every filelist linked from the index page, in page order.
func (s *IndexScanner) Discover(ctx context.Context, indexURL string) ([]IndexEntry, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index url %s: %w", indexURL, err)
	}

	doc, err := s.fetchDocument(ctx, indexURL)
	if err != nil {
		return nil, err
	}

	var entries []IndexEntry
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isListing(href) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		entries = append(entries, IndexEntry{Name: path.Base(ref.Path), URL: abs})
	})

	if s.logger != nil {
		s.logger.Debug("index scanned", "url", indexURL, "listings", len(entries))
	}
	return entries, nil
}

func (s *IndexScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "PMCMirror/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return doc, nil
}

func isListing(href string) bool {
	name := strings.ToLower(path.Base(strings.TrimSpace(href)))
	return strings.HasSuffix(name, ".filelist.csv") || strings.HasSuffix(name, ".filelist.txt")
}
