package database

import (
	"time"
)

// Feed is a source feed record. Hashtags are stored comma-separated.
type Feed struct {
	ID            int64
	URL           string
	Name          string
	Hashtags      []string
	Active        bool
	LastStatus    string // pending, ok, error
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Account is a destination account on a federated instance. An account is
// linked once it carries an access token; before that it only exists as a
// pending registration inside a LinkSession.
type Account struct {
	ID           int64
	InstanceURL  string
	ClientID     string
	ClientSecret string
	AccessToken  string
	Handle       string
	ProfileURL   string
	CreatedAt    time.Time
}

func (a *Account) Linked() bool {
	return a.AccessToken != ""
}

// Link is one (feed, account) pair of the run's work set.
type Link struct {
	Feed    Feed
	Account Account
}

// LinkSession is the transient state of one in-progress authorization
// attempt. The nonce is single-use: consuming the session deletes it.
type LinkSession struct {
	ID           int64
	InstanceURL  string
	ClientID     string
	ClientSecret string
	Nonce        string
	CreatedAt    time.Time
}

// RunLogEntry is the immutable record of one completed run.
type RunLogEntry struct {
	ID               int64
	Trigger          string // scheduled, manual
	StartedAt        time.Time
	Duration         time.Duration
	Published        int
	SkippedCap       int
	SkippedDuplicate int
	Errors           int
	Summary          string
}
