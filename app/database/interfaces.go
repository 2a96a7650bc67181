package database

import (
	"time"
)

type FeedRepository interface {
	CreateFeed(url, name string, hashtags []string) (int64, error)
	UpsertFeed(url, name string, hashtags []string, active bool) (int64, error)
	UpdateFeed(id int64, url, name string, hashtags []string) error
	SetFeedActive(id int64, active bool) error
	DeleteFeed(id int64) error

	GetFeed(id int64) (*Feed, error)
	GetFeedByURL(url string) (*Feed, error)
	ListFeeds() ([]Feed, error)
	GetFeedCount() (int, error)
	GetActiveFeedCount() (int, error)

	MarkFetched(id int64, fetchedAt time.Time) error
	MarkFetchFailed(id int64) error
}

type AccountRepository interface {
	InsertLinkedAccount(account Account) (int64, error)
	DeleteAccount(id int64) error

	GetAccount(id int64) (*Account, error)
	ListAccounts() ([]Account, error)
	GetLinkedAccountCount() (int, error)

	SetFeedAccounts(feedID int64, accountIDs []int64) error
	GetFeedAccountIDs(feedID int64) ([]int64, error)

	// ListActiveLinks returns the run's work set: every (active feed,
	// linked account) pair, ordered by feed then account.
	ListActiveLinks() ([]Link, error)
}

type ItemRepository interface {
	IsPosted(feedID, accountID int64, guid string) (bool, error)
	MarkPosted(feedID, accountID int64, guid string, postedAt time.Time) error

	GetPostedCount() (int, error)
	GetPostedCountForFeed(feedID int64) (int, error)
}

type SessionRepository interface {
	CreateSession(session LinkSession) (int64, error)

	// ConsumeSession atomically looks up and deletes the session matching
	// instance and nonce, so a nonce can be redeemed at most once even
	// under concurrent callbacks. Returns (nil, nil) when no session
	// matches.
	ConsumeSession(instanceURL, nonce string) (*LinkSession, error)

	PurgeExpiredSessions(olderThan time.Time) (int64, error)
}

type RunLogRepository interface {
	Append(entry RunLogEntry) (int64, error)
	ListRecent(limit int) ([]RunLogEntry, error)
	GetLastEntry() (*RunLogEntry, error)
	GetRunCount() (int, error)
}
