package linker

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/mastodon"
)

type fakeInstanceClient struct {
	registerCalls int
	exchangeCalls int

	exchangeErr error
	verifyErr   error
}

func (c *fakeInstanceClient) RegisterApp(_ context.Context, instanceURL, appName, redirectURI string) (*mastodon.App, error) {
	c.registerCalls++
	return &mastodon.App{ClientID: "cid", ClientSecret: "csecret"}, nil
}

func (c *fakeInstanceClient) ExchangeToken(_ context.Context, instanceURL, clientID, clientSecret, redirectURI, code string) (string, error) {
	c.exchangeCalls++
	if c.exchangeErr != nil {
		return "", c.exchangeErr
	}
	return "token-xyz", nil
}

func (c *fakeInstanceClient) VerifyCredentials(_ context.Context, instanceURL, accessToken string) (*mastodon.Credentials, error) {
	if c.verifyErr != nil {
		return nil, c.verifyErr
	}
	return &mastodon.Credentials{Handle: "alice", ProfileURL: instanceURL + "/@alice"}, nil
}

func setupLinker(t *testing.T) (*Linker, *fakeInstanceClient, database.AccountRepository) {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	sessions := database.NewSessionRepository(db)
	accounts := database.NewAccountRepository(db)
	client := &fakeInstanceClient{}

	return NewLinker(sessions, accounts, client, "feedtoot", "https://bridge.example/"), client, accounts
}

func stateFromAuthorizeURL(t *testing.T, authorizeURL string) string {
	t.Helper()
	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestBeginReturnsAuthorizeURL(t *testing.T) {
	l, client, _ := setupLinker(t)

	authorizeURL, err := l.Begin(context.Background(), "https://mastodon.example/")
	require.NoError(t, err)
	assert.Equal(t, 1, client.registerCalls)

	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "mastodon.example", parsed.Host)
	assert.Equal(t, "/oauth/authorize", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "cid", query.Get("client_id"))
	assert.Equal(t, mastodon.Scopes, query.Get("scope"))

	// The callback must be able to recover the instance from the
	// registered redirect URI alone.
	redirect := query.Get("redirect_uri")
	assert.True(t, strings.HasPrefix(redirect, "https://bridge.example/oauth/callback?instance="), redirect)
	redirectParsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "https://mastodon.example", redirectParsed.Query().Get("instance"))
}

func TestBeginRejectsInvalidInstanceURL(t *testing.T) {
	l, client, _ := setupLinker(t)

	for _, raw := range []string{"", "mastodon.example", "ftp://mastodon.example", "https://"} {
		_, err := l.Begin(context.Background(), raw)
		assert.Error(t, err, "input %q", raw)
	}
	assert.Zero(t, client.registerCalls)
}

func TestCompleteLinksAccount(t *testing.T) {
	l, _, accounts := setupLinker(t)

	authorizeURL, err := l.Begin(context.Background(), "https://mastodon.example")
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, authorizeURL)

	account, err := l.Complete(context.Background(), "https://mastodon.example", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "https://mastodon.example", account.InstanceURL)
	assert.Equal(t, "alice", account.Handle)
	assert.Equal(t, "token-xyz", account.AccessToken)
	assert.True(t, account.Linked())

	stored, err := accounts.GetAccount(account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "token-xyz", stored.AccessToken)
}

func TestCompleteNonceIsSingleUse(t *testing.T) {
	l, client, _ := setupLinker(t)

	authorizeURL, err := l.Begin(context.Background(), "https://mastodon.example")
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, authorizeURL)

	_, err = l.Complete(context.Background(), "https://mastodon.example", "auth-code", state)
	require.NoError(t, err)

	// A replayed callback must fail without touching the instance again.
	_, err = l.Complete(context.Background(), "https://mastodon.example", "auth-code", state)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, client.exchangeCalls)
}

func TestCompleteUnknownState(t *testing.T) {
	l, client, _ := setupLinker(t)

	_, err := l.Complete(context.Background(), "https://mastodon.example", "auth-code", "never-issued")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, client.exchangeCalls)
}

func TestCompleteExpiredSession(t *testing.T) {
	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	sessions := database.NewSessionRepository(db)
	accounts := database.NewAccountRepository(db)
	client := &fakeInstanceClient{}
	l := NewLinker(sessions, accounts, client, "feedtoot", "https://bridge.example")

	_, err = sessions.CreateSession(database.LinkSession{
		InstanceURL: "https://mastodon.example",
		ClientID:    "cid",
		Nonce:       "stale-nonce",
		CreatedAt:   time.Now().Add(-SessionTTL - time.Minute),
	})
	require.NoError(t, err)

	_, err = l.Complete(context.Background(), "https://mastodon.example", "auth-code", "stale-nonce")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, client.exchangeCalls)
}

func TestCompleteExchangeFailureDoesNotLink(t *testing.T) {
	l, client, accounts := setupLinker(t)
	client.exchangeErr = &mastodon.TokenExchangeError{Step: "exchange", Err: errors.New("invalid_grant")}

	authorizeURL, err := l.Begin(context.Background(), "https://mastodon.example")
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, authorizeURL)

	_, err = l.Complete(context.Background(), "https://mastodon.example", "bad-code", state)
	require.Error(t, err)

	var exchangeErr *mastodon.TokenExchangeError
	assert.ErrorAs(t, err, &exchangeErr)

	count, err := accounts.GetLinkedAccountCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBeginKeepsFreshSessions(t *testing.T) {
	l, _, _ := setupLinker(t)

	authorizeURL, err := l.Begin(context.Background(), "https://mastodon.example")
	require.NoError(t, err)
	firstState := stateFromAuthorizeURL(t, authorizeURL)

	// A later Begin purges only expired sessions; this one is fresh.
	_, err = l.Begin(context.Background(), "https://other.example")
	require.NoError(t, err)

	account, err := l.Complete(context.Background(), "https://mastodon.example", "auth-code", firstState)
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Handle)
}
