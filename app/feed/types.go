package feed

import (
	"fmt"
	"time"
)

// Item is one candidate entry from a fetched feed. GUID is always set,
// falling back to the item link when the feed carries no guid.
type Item struct {
	GUID        string
	Title       string
	Link        string
	PublishedAt time.Time
}

// FetchError covers network failures, non-2xx responses and unparseable
// content for a single feed. It isolates to that feed within a run.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
