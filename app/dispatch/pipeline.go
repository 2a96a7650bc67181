// Package dispatch runs the per-trigger fetch/dedup/rate-limit/publish
// sequence over every active feed-to-account link.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/feed"
	"github.com/feedtoot/feedtoot/app/mastodon"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Run log summaries keep at most this many lines.
const maxSummaryLines = 40

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Item, error)
}

type Publisher interface {
	PostStatus(ctx context.Context, instanceURL, accessToken, body string) (*mastodon.Status, error)
}

var _ Fetcher = (*feed.Fetcher)(nil)
var _ Publisher = (*mastodon.Client)(nil)

// Result summarizes one completed run.
type Result struct {
	Trigger          string
	StartedAt        time.Time
	Duration         time.Duration
	Published        int
	SkippedCap       int
	SkippedDuplicate int
	Errors           int
	Lines            []string
}

// Pipeline executes runs. It is single-threaded within a run: publisher
// rate limits make parallelism counterproductive, and sequential
// publish-then-record keeps the dedup ledger simple.
type Pipeline struct {
	feeds     database.FeedRepository
	accounts  database.AccountRepository
	items     database.ItemRepository
	runs      database.RunLogRepository
	fetcher   Fetcher
	publisher Publisher
	formatter *feed.Formatter

	postLimit    int
	publishDelay time.Duration
}

func NewPipeline(feeds database.FeedRepository, accounts database.AccountRepository,
	items database.ItemRepository, runs database.RunLogRepository,
	fetcher Fetcher, publisher Publisher, formatter *feed.Formatter,
	postLimit int, publishDelay time.Duration) *Pipeline {
	return &Pipeline{
		feeds:        feeds,
		accounts:     accounts,
		items:        items,
		runs:         runs,
		fetcher:      fetcher,
		publisher:    publisher,
		formatter:    formatter,
		postLimit:    postLimit,
		publishDelay: publishDelay,
	}
}

// Run processes every active link once and appends one run log entry.
// Per-feed and per-item failures are folded into the result; only ledger
// failures abort the run, and already-recorded posted items stay committed.
func (p *Pipeline) Run(ctx context.Context, trigger string) (*Result, error) {
	result := &Result{Trigger: trigger, StartedAt: time.Now().UTC()}

	links, err := p.accounts.ListActiveLinks()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate links: %w", err)
	}
	if len(links) == 0 {
		result.Lines = append(result.Lines, "no active feed-account links")
		return p.finish(result)
	}

	// Fetch each distinct feed once; its cost is amortized across the
	// accounts it fans out to.
	fetched := make(map[int64][]feed.Item)
	fetchFailed := make(map[int64]bool)
	var feedOrder []int64
	for _, link := range links {
		id := link.Feed.ID
		if _, seen := fetched[id]; seen || fetchFailed[id] {
			continue
		}

		items, err := p.fetcher.Fetch(ctx, link.Feed.URL)
		if err != nil {
			slog.Warn("Feed fetch failed", "feed", link.Feed.Name, "url", link.Feed.URL, "error", err)
			fetchFailed[id] = true
			result.Errors++
			result.Lines = append(result.Lines, fmt.Sprintf("✗ fetch failed: %s", link.Feed.URL))
			continue
		}
		fetched[id] = items
		feedOrder = append(feedOrder, id)
	}

	firstPublish := true
	for _, link := range links {
		if fetchFailed[link.Feed.ID] {
			continue
		}
		if err := p.processPair(ctx, link, fetched[link.Feed.ID], result, &firstPublish); err != nil {
			return nil, err
		}
	}

	// Successful fetches advance the baseline; failed ones keep theirs so
	// the next run retries from the same point.
	now := time.Now().UTC()
	for _, id := range feedOrder {
		if err := p.feeds.MarkFetched(id, now); err != nil {
			return nil, err
		}
	}
	for id := range fetchFailed {
		if err := p.feeds.MarkFetchFailed(id); err != nil {
			return nil, err
		}
	}

	return p.finish(result)
}

// processPair handles one (feed, account) pair: drop already-posted items,
// order the rest oldest-first, cap, then publish-and-record one at a time.
func (p *Pipeline) processPair(ctx context.Context, link database.Link, items []feed.Item, result *Result, firstPublish *bool) error {
	label := fmt.Sprintf("%s → %s", link.Feed.Name, link.Account.Handle)

	var unseen []feed.Item
	for _, item := range items {
		posted, err := p.items.IsPosted(link.Feed.ID, link.Account.ID, item.GUID)
		if err != nil {
			return err
		}
		if posted {
			result.SkippedDuplicate++
			continue
		}
		unseen = append(unseen, item)
	}

	sort.SliceStable(unseen, func(i, j int) bool {
		return unseen[i].PublishedAt.Before(unseen[j].PublishedAt)
	})

	toPost := unseen
	if p.postLimit > 0 && len(toPost) > p.postLimit {
		result.SkippedCap += len(toPost) - p.postLimit
		toPost = toPost[:p.postLimit]
	}

	for _, item := range toPost {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pace consecutive publish calls to stay within destination
		// rate limits.
		if !*firstPublish && p.publishDelay > 0 {
			time.Sleep(p.publishDelay)
		}
		*firstPublish = false

		body := p.formatter.Run(link.Feed.Name, item, link.Feed.Hashtags)
		status, err := p.publisher.PostStatus(ctx, link.Account.InstanceURL, link.Account.AccessToken, body)
		if err != nil {
			slog.Warn("Publish failed", "feed", link.Feed.Name, "account", link.Account.Handle, "guid", item.GUID, "error", err)
			result.Errors++
			result.Lines = append(result.Lines, fmt.Sprintf("✗ [%s] %s: %v", label, clip(item.Title, 60), err))
			continue
		}

		// The dedup row must land before the next candidate is even
		// considered; a ledger failure here aborts the run rather than
		// risking a duplicate.
		if err := p.items.MarkPosted(link.Feed.ID, link.Account.ID, item.GUID, time.Now().UTC()); err != nil {
			return err
		}

		result.Published++
		result.Lines = append(result.Lines, fmt.Sprintf("✓ [%s] %s", label, clip(item.Title, 60)))
		slog.Debug("Item published", "feed", link.Feed.Name, "account", link.Account.Handle, "status", status.ID)
	}

	return nil
}

func (p *Pipeline) finish(result *Result) (*Result, error) {
	result.Duration = time.Since(result.StartedAt)

	lines := result.Lines
	if len(lines) > maxSummaryLines {
		lines = lines[:maxSummaryLines]
	}
	_, err := p.runs.Append(database.RunLogEntry{
		Trigger:          result.Trigger,
		StartedAt:        result.StartedAt,
		Duration:         result.Duration,
		Published:        result.Published,
		SkippedCap:       result.SkippedCap,
		SkippedDuplicate: result.SkippedDuplicate,
		Errors:           result.Errors,
		Summary:          strings.Join(lines, "\n"),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Run completed", "trigger", result.Trigger,
		"published", result.Published, "skipped_cap", result.SkippedCap,
		"skipped_duplicate", result.SkippedDuplicate, "errors", result.Errors,
		"duration", result.Duration)

	return result, nil
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
