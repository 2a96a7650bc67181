package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedtoot/feedtoot/app/cfg"
	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/linker"
	"github.com/feedtoot/feedtoot/app/scheduler"
)

const runLogLimit = 100

func NewHandler(feedRepo database.FeedRepository, accountRepo database.AccountRepository,
	itemRepo database.ItemRepository, runRepo database.RunLogRepository,
	accountLinker AccountLinker, trigger RunTrigger) *Handler {
	return &Handler{
		feedRepo:    feedRepo,
		accountRepo: accountRepo,
		itemRepo:    itemRepo,
		runRepo:     runRepo,
		linker:      accountLinker,
		trigger:     trigger,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"version":   cfg.Get().Version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}
	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{}
	if count, err := h.feedRepo.GetFeedCount(); err == nil {
		stats["feeds"] = count
	}
	if count, err := h.feedRepo.GetActiveFeedCount(); err == nil {
		stats["active_feeds"] = count
	}
	if count, err := h.accountRepo.GetLinkedAccountCount(); err == nil {
		stats["linked_accounts"] = count
	}
	if count, err := h.itemRepo.GetPostedCount(); err == nil {
		stats["posted_items"] = count
	}
	if count, err := h.runRepo.GetRunCount(); err == nil {
		stats["runs"] = count
	}
	c.JSON(http.StatusOK, stats)
}

// TriggerRun requests an immediate manual run. An active run is reported
// as a conflict, never queued.
func (h *Handler) TriggerRun(c *gin.Context) {
	if err := h.trigger.TriggerNow(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to trigger run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handler) GetStatus(c *gin.Context) {
	nextRun, running := h.trigger.Status()
	c.JSON(http.StatusOK, gin.H{
		"running":       running,
		"next_run":      nextRun.In(time.Local).Format(time.RFC3339),
		"next_run_ts":   nextRun.Unix(),
		"interval_secs": cfg.Get().IntervalMins * 60,
	})
}

func (h *Handler) ListRuns(c *gin.Context) {
	entries, err := h.runRepo.ListRecent(runLogLimit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	runs := make([]runResponse, 0, len(entries))
	for _, entry := range entries {
		runs = append(runs, runResponse{
			ID:               entry.ID,
			Trigger:          entry.Trigger,
			StartedAt:        entry.StartedAt,
			DurationMs:       entry.Duration.Milliseconds(),
			Published:        entry.Published,
			SkippedCap:       entry.SkippedCap,
			SkippedDuplicate: entry.SkippedDuplicate,
			Errors:           entry.Errors,
			Summary:          entry.Summary,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds, err := h.feedRepo.ListFeeds()
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	responses := make([]feedResponse, 0, len(feeds))
	for i := range feeds {
		responses = append(responses, h.feedToResponse(&feeds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"feeds": responses, "total": len(responses)})
}

func (h *Handler) GetFeed(c *gin.Context) {
	feed, ok := h.feedFromParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.feedToResponse(feed))
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if existing, err := h.feedRepo.GetFeedByURL(req.URL); err == nil && existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "feed URL already exists"})
		return
	}

	id, err := h.feedRepo.CreateFeed(req.URL, req.Name, req.Hashtags)
	if err != nil {
		slog.Error("Database error", "operation", "create_feed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	if len(req.AccountIDs) > 0 {
		if err := h.accountRepo.SetFeedAccounts(id, req.AccountIDs); err != nil {
			slog.Error("Database error", "operation", "set_feed_accounts", "feed_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
	}

	feed, err := h.feedRepo.GetFeed(id)
	if err != nil || feed == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusCreated, h.feedToResponse(feed))
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	feed, ok := h.feedFromParam(c)
	if !ok {
		return
	}

	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.feedRepo.UpdateFeed(feed.ID, req.URL, req.Name, req.Hashtags); err != nil {
		slog.Error("Database error", "operation", "update_feed", "feed_id", feed.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	updated, err := h.feedRepo.GetFeed(feed.ID)
	if err != nil || updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusOK, h.feedToResponse(updated))
}

func (h *Handler) ToggleFeed(c *gin.Context) {
	feed, ok := h.feedFromParam(c)
	if !ok {
		return
	}

	if err := h.feedRepo.SetFeedActive(feed.ID, !feed.Active); err != nil {
		slog.Error("Database error", "operation", "toggle_feed", "feed_id", feed.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": feed.ID, "active": !feed.Active})
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	feed, ok := h.feedFromParam(c)
	if !ok {
		return
	}

	if err := h.feedRepo.DeleteFeed(feed.ID); err != nil {
		slog.Error("Database error", "operation", "delete_feed", "feed_id", feed.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SetFeedAccounts replaces the set of accounts a feed fans out to.
func (h *Handler) SetFeedAccounts(c *gin.Context) {
	feed, ok := h.feedFromParam(c)
	if !ok {
		return
	}

	var req feedAccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, accountID := range req.AccountIDs {
		account, err := h.accountRepo.GetAccount(accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if account == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown account id " + strconv.FormatInt(accountID, 10)})
			return
		}
	}

	if err := h.accountRepo.SetFeedAccounts(feed.ID, req.AccountIDs); err != nil {
		slog.Error("Database error", "operation", "set_feed_accounts", "feed_id", feed.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": feed.ID, "account_ids": req.AccountIDs})
}

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountRepo.ListAccounts()
	if err != nil {
		slog.Error("Database error", "operation", "list_accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	responses := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		responses = append(responses, accountToResponse(&accounts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": responses, "total": len(responses)})
}

// ConnectAccount begins a linking attempt and returns the authorization
// URL the user must visit on their instance.
func (h *Handler) ConnectAccount(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	authorizeURL, err := h.linker.Begin(c.Request.Context(), req.InstanceURL)
	if err != nil {
		slog.Error("Failed to begin account link", "instance", req.InstanceURL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": authorizeURL})
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	account, err := h.accountRepo.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	if err := h.accountRepo.DeleteAccount(id); err != nil {
		slog.Error("Database error", "operation", "delete_account", "account_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// OAuthCallback completes a linking attempt. A stale or replayed state is
// rejected without a token exchange.
func (h *Handler) OAuthCallback(c *gin.Context) {
	instance := c.Query("instance")
	code := c.Query("code")
	state := c.Query("state")
	if instance == "" || code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing instance, code or state"})
		return
	}

	account, err := h.linker.Complete(c.Request.Context(), instance, code, state)
	if err != nil {
		if errors.Is(err, linker.ErrInvalidState) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "authorization session not found or expired"})
			return
		}
		slog.Error("Failed to complete account link", "instance", instance, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := accountToResponse(account)
	c.JSON(http.StatusOK, gin.H{"account": resp, "status": "linked"})
}

func (h *Handler) feedFromParam(c *gin.Context) (*database.Feed, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed id"})
		return nil, false
	}

	feed, err := h.feedRepo.GetFeed(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return nil, false
	}
	if feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return nil, false
	}
	return feed, true
}

func (h *Handler) feedToResponse(feed *database.Feed) feedResponse {
	resp := feedResponse{
		ID:            feed.ID,
		URL:           feed.URL,
		Name:          feed.Name,
		Hashtags:      feed.Hashtags,
		Active:        feed.Active,
		LastStatus:    feed.LastStatus,
		LastFetchedAt: feed.LastFetchedAt,
		AccountIDs:    []int64{},
	}
	if ids, err := h.accountRepo.GetFeedAccountIDs(feed.ID); err == nil && ids != nil {
		resp.AccountIDs = ids
	}
	if count, err := h.itemRepo.GetPostedCountForFeed(feed.ID); err == nil {
		resp.PostedCount = count
	}
	return resp
}

func accountToResponse(account *database.Account) accountResponse {
	return accountResponse{
		ID:          account.ID,
		InstanceURL: account.InstanceURL,
		Handle:      account.Handle,
		ProfileURL:  account.ProfileURL,
		Linked:      account.Linked(),
	}
}
