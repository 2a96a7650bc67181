package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = RunMigrations(db)
	require.NoError(t, err)

	return db
}

func linkedAccount(instance, handle string) Account {
	return Account{
		InstanceURL:  instance,
		ClientID:     "cid",
		ClientSecret: "csecret",
		AccessToken:  "token",
		Handle:       handle,
		ProfileURL:   instance + "/@" + handle,
	}
}

func TestFeedRepositoryCRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeedRepository(db)

	id, err := repo.CreateFeed("https://example.com/rss", "Example", []string{"news", "tech"})
	require.NoError(t, err)
	require.NotZero(t, id)

	feed, err := repo.GetFeed(id)
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, "https://example.com/rss", feed.URL)
	assert.Equal(t, "Example", feed.Name)
	assert.Equal(t, []string{"news", "tech"}, feed.Hashtags)
	assert.True(t, feed.Active)
	assert.Equal(t, "pending", feed.LastStatus)
	assert.Nil(t, feed.LastFetchedAt)

	err = repo.UpdateFeed(id, "https://example.com/atom", "Example Atom", []string{"news"})
	require.NoError(t, err)

	feed, err = repo.GetFeed(id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/atom", feed.URL)
	assert.Equal(t, "Example Atom", feed.Name)
	assert.Equal(t, []string{"news"}, feed.Hashtags)

	err = repo.SetFeedActive(id, false)
	require.NoError(t, err)

	count, err := repo.GetActiveFeedCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = repo.GetFeedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = repo.DeleteFeed(id)
	require.NoError(t, err)

	feed, err = repo.GetFeed(id)
	require.NoError(t, err)
	assert.Nil(t, feed)
}

func TestFeedRepositoryGetByURL(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeedRepository(db)

	_, err := repo.CreateFeed("https://example.com/rss", "Example", nil)
	require.NoError(t, err)

	feed, err := repo.GetFeedByURL("https://example.com/rss")
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Empty(t, feed.Hashtags)

	feed, err = repo.GetFeedByURL("https://other.example/rss")
	require.NoError(t, err)
	assert.Nil(t, feed)
}

func TestFeedRepositoryUpsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeedRepository(db)

	id1, err := repo.UpsertFeed("https://example.com/rss", "First", []string{"a"}, true)
	require.NoError(t, err)

	id2, err := repo.UpsertFeed("https://example.com/rss", "Second", []string{"b"}, false)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	feed, err := repo.GetFeed(id1)
	require.NoError(t, err)
	assert.Equal(t, "Second", feed.Name)
	assert.Equal(t, []string{"b"}, feed.Hashtags)
	assert.False(t, feed.Active)

	count, err := repo.GetFeedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFeedRepositoryFetchStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeedRepository(db)

	id, err := repo.CreateFeed("https://example.com/rss", "Example", nil)
	require.NoError(t, err)

	fetchedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkFetched(id, fetchedAt))

	feed, err := repo.GetFeed(id)
	require.NoError(t, err)
	assert.Equal(t, "ok", feed.LastStatus)
	require.NotNil(t, feed.LastFetchedAt)
	assert.Equal(t, fetchedAt.Unix(), feed.LastFetchedAt.Unix())

	// A failed fetch must not move the baseline.
	require.NoError(t, repo.MarkFetchFailed(id))

	feed, err = repo.GetFeed(id)
	require.NoError(t, err)
	assert.Equal(t, "error", feed.LastStatus)
	require.NotNil(t, feed.LastFetchedAt)
	assert.Equal(t, fetchedAt.Unix(), feed.LastFetchedAt.Unix())
}

func TestAccountRepositoryCRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)

	id, err := repo.InsertLinkedAccount(linkedAccount("https://mastodon.example", "alice"))
	require.NoError(t, err)

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "https://mastodon.example", account.InstanceURL)
	assert.Equal(t, "alice", account.Handle)
	assert.True(t, account.Linked())

	count, err := repo.GetLinkedAccountCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	accounts, err := repo.ListAccounts()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, repo.DeleteAccount(id))

	account, err = repo.GetAccount(id)
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestSetFeedAccountsReplacesAssignments(t *testing.T) {
	db := setupTestDB(t)
	feedRepo := NewFeedRepository(db)
	accountRepo := NewAccountRepository(db)

	feedID, err := feedRepo.CreateFeed("https://example.com/rss", "Example", nil)
	require.NoError(t, err)

	a1, err := accountRepo.InsertLinkedAccount(linkedAccount("https://one.example", "alice"))
	require.NoError(t, err)
	a2, err := accountRepo.InsertLinkedAccount(linkedAccount("https://two.example", "bob"))
	require.NoError(t, err)

	require.NoError(t, accountRepo.SetFeedAccounts(feedID, []int64{a1, a2}))

	ids, err := accountRepo.GetFeedAccountIDs(feedID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1, a2}, ids)

	// Setting again replaces, never accumulates.
	require.NoError(t, accountRepo.SetFeedAccounts(feedID, []int64{a2}))

	ids, err = accountRepo.GetFeedAccountIDs(feedID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a2}, ids)

	require.NoError(t, accountRepo.SetFeedAccounts(feedID, nil))

	ids, err = accountRepo.GetFeedAccountIDs(feedID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListActiveLinks(t *testing.T) {
	db := setupTestDB(t)
	feedRepo := NewFeedRepository(db)
	accountRepo := NewAccountRepository(db)

	activeFeed, err := feedRepo.CreateFeed("https://active.example/rss", "Active", nil)
	require.NoError(t, err)
	pausedFeed, err := feedRepo.CreateFeed("https://paused.example/rss", "Paused", nil)
	require.NoError(t, err)
	require.NoError(t, feedRepo.SetFeedActive(pausedFeed, false))

	accountID, err := accountRepo.InsertLinkedAccount(linkedAccount("https://mastodon.example", "alice"))
	require.NoError(t, err)

	require.NoError(t, accountRepo.SetFeedAccounts(activeFeed, []int64{accountID}))
	require.NoError(t, accountRepo.SetFeedAccounts(pausedFeed, []int64{accountID}))

	links, err := accountRepo.ListActiveLinks()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, activeFeed, links[0].Feed.ID)
	assert.Equal(t, accountID, links[0].Account.ID)
	assert.Equal(t, "alice", links[0].Account.Handle)
}

func TestDeleteFeedCascadesAssignmentsAndLedger(t *testing.T) {
	db := setupTestDB(t)
	feedRepo := NewFeedRepository(db)
	accountRepo := NewAccountRepository(db)
	itemRepo := NewItemRepository(db)

	feedID, err := feedRepo.CreateFeed("https://example.com/rss", "Example", nil)
	require.NoError(t, err)
	accountID, err := accountRepo.InsertLinkedAccount(linkedAccount("https://mastodon.example", "alice"))
	require.NoError(t, err)
	require.NoError(t, accountRepo.SetFeedAccounts(feedID, []int64{accountID}))
	require.NoError(t, itemRepo.MarkPosted(feedID, accountID, "guid-1", time.Now()))

	require.NoError(t, feedRepo.DeleteFeed(feedID))

	ids, err := accountRepo.GetFeedAccountIDs(feedID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	count, err := itemRepo.GetPostedCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestItemRepositoryDedup(t *testing.T) {
	db := setupTestDB(t)
	feedRepo := NewFeedRepository(db)
	accountRepo := NewAccountRepository(db)
	repo := NewItemRepository(db)

	feedID, err := feedRepo.CreateFeed("https://example.com/rss", "Example", nil)
	require.NoError(t, err)
	accountID, err := accountRepo.InsertLinkedAccount(linkedAccount("https://mastodon.example", "alice"))
	require.NoError(t, err)

	posted, err := repo.IsPosted(feedID, accountID, "guid-1")
	require.NoError(t, err)
	assert.False(t, posted)

	require.NoError(t, repo.MarkPosted(feedID, accountID, "guid-1", time.Now()))

	posted, err = repo.IsPosted(feedID, accountID, "guid-1")
	require.NoError(t, err)
	assert.True(t, posted)

	// Marking the same item again is a no-op, not an error.
	require.NoError(t, repo.MarkPosted(feedID, accountID, "guid-1", time.Now()))

	count, err := repo.GetPostedCountForFeed(feedID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same guid for another account is a distinct ledger entry.
	otherID, err := accountRepo.InsertLinkedAccount(linkedAccount("https://other.example", "bob"))
	require.NoError(t, err)
	require.NoError(t, repo.MarkPosted(feedID, otherID, "guid-1", time.Now()))

	count, err = repo.GetPostedCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSessionRepositoryConsumeIsSingleUse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	_, err := repo.CreateSession(LinkSession{
		InstanceURL:  "https://mastodon.example",
		ClientID:     "cid",
		ClientSecret: "csecret",
		Nonce:        "nonce-1",
	})
	require.NoError(t, err)

	session, err := repo.ConsumeSession("https://mastodon.example", "nonce-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "cid", session.ClientID)
	assert.Equal(t, "csecret", session.ClientSecret)

	session, err = repo.ConsumeSession("https://mastodon.example", "nonce-1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestSessionRepositoryConsumeMatchesInstance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	_, err := repo.CreateSession(LinkSession{
		InstanceURL: "https://mastodon.example",
		ClientID:    "cid",
		Nonce:       "nonce-1",
	})
	require.NoError(t, err)

	session, err := repo.ConsumeSession("https://other.example", "nonce-1")
	require.NoError(t, err)
	assert.Nil(t, session)

	// The mismatch attempt must not burn the nonce.
	session, err = repo.ConsumeSession("https://mastodon.example", "nonce-1")
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestPurgeExpiredSessions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)

	_, err := repo.CreateSession(LinkSession{InstanceURL: "https://a.example", Nonce: "old"})
	require.NoError(t, err)
	_, err = repo.CreateSession(LinkSession{InstanceURL: "https://b.example", Nonce: "fresh"})
	require.NoError(t, err)

	purged, err := repo.PurgeExpiredSessions(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	session, err := repo.ConsumeSession("https://b.example", "fresh")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestRunLogRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunLogRepository(db)

	entry, err := repo.GetLastEntry()
	require.NoError(t, err)
	assert.Nil(t, entry)

	for i := 0; i < 3; i++ {
		_, err := repo.Append(RunLogEntry{
			Trigger:   "scheduled",
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Duration:  2 * time.Second,
			Published: i,
			Summary:   "✓ done",
		})
		require.NoError(t, err)
	}

	entry, err = repo.GetLastEntry()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Published)
	assert.Equal(t, 2*time.Second, entry.Duration)

	entries, err := repo.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Published)
	assert.Equal(t, 1, entries[1].Published)

	count, err := repo.GetRunCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
