package api

import (
	"context"
	"time"

	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/linker"
	"github.com/feedtoot/feedtoot/app/scheduler"
)

type AccountLinker interface {
	Begin(ctx context.Context, instanceURL string) (string, error)
	Complete(ctx context.Context, instanceURL, code, state string) (*database.Account, error)
}

var _ AccountLinker = (*linker.Linker)(nil)

type RunTrigger interface {
	TriggerNow() error
	Status() (time.Time, bool)
}

var _ RunTrigger = (*scheduler.Scheduler)(nil)

type Handler struct {
	feedRepo    database.FeedRepository
	accountRepo database.AccountRepository
	itemRepo    database.ItemRepository
	runRepo     database.RunLogRepository
	linker      AccountLinker
	trigger     RunTrigger
}

type feedRequest struct {
	URL        string   `json:"url" binding:"required"`
	Name       string   `json:"name"`
	Hashtags   []string `json:"hashtags"`
	AccountIDs []int64  `json:"account_ids"`
}

type feedAccountsRequest struct {
	AccountIDs []int64 `json:"account_ids"`
}

type connectRequest struct {
	InstanceURL string `json:"instance_url" binding:"required"`
}

type feedResponse struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Name          string     `json:"name"`
	Hashtags      []string   `json:"hashtags"`
	Active        bool       `json:"active"`
	LastStatus    string     `json:"last_status"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	AccountIDs    []int64    `json:"account_ids"`
	PostedCount   int        `json:"posted_count"`
}

type accountResponse struct {
	ID          int64  `json:"id"`
	InstanceURL string `json:"instance_url"`
	Handle      string `json:"handle"`
	ProfileURL  string `json:"profile_url,omitempty"`
	Linked      bool   `json:"linked"`
}

type runResponse struct {
	ID               int64     `json:"id"`
	Trigger          string    `json:"trigger"`
	StartedAt        time.Time `json:"started_at"`
	DurationMs       int64     `json:"duration_ms"`
	Published        int       `json:"published"`
	SkippedCap       int       `json:"skipped_cap"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	Errors           int       `json:"errors"`
	Summary          string    `json:"summary"`
}
