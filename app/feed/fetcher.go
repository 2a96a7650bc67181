package feed

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const fetchTimeout = 30 * time.Second

// Fetcher retrieves and parses a feed URL into candidate items. It handles
// both RSS and Atom and tolerates missing optional fields.
type Fetcher struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string
}

func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	return &Fetcher{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		userAgent:  userAgent,
	}
}

// Fetch returns the feed's items in listing order. Items without a usable
// identifier are dropped; a missing publication time falls back to the
// fetch time so ordering stays total.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Item, error) {
	data, err := f.download(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	parsed, err := f.parser.ParseString(string(data))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to parse feed: %w", err)}
	}

	now := time.Now().UTC()
	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		guid := cmp.Or(entry.GUID, entry.Link)
		if guid == "" {
			continue
		}

		item := Item{
			GUID:        guid,
			Title:       entry.Title,
			Link:        entry.Link,
			PublishedAt: now,
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			item.PublishedAt = entry.UpdatedParsed.UTC()
		}
		items = append(items, item)
	}

	return items, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}
