// Package linker drives the OAuth authorization-code flow that turns an
// instance URL into a linked destination account. Each linking attempt is a
// short-lived state machine: begin persists a nonce-bound session and hands
// the user an authorization URL; the callback consumes the session exactly
// once and either produces a linked account or fails the attempt.
package linker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/mastodon"
)

// SessionTTL is how long a pending authorization stays redeemable.
const SessionTTL = 15 * time.Minute

// ErrInvalidState is returned when a callback presents a state value with
// no matching, unexpired link session: unknown nonce, already-consumed
// nonce, or an attempt that sat too long.
var ErrInvalidState = errors.New("no matching link session for state")

type InstanceClient interface {
	RegisterApp(ctx context.Context, instanceURL, appName, redirectURI string) (*mastodon.App, error)
	ExchangeToken(ctx context.Context, instanceURL, clientID, clientSecret, redirectURI, code string) (string, error)
	VerifyCredentials(ctx context.Context, instanceURL, accessToken string) (*mastodon.Credentials, error)
}

var _ InstanceClient = (*mastodon.Client)(nil)

type Linker struct {
	sessions database.SessionRepository
	accounts database.AccountRepository
	client   InstanceClient
	appName  string
	baseURL  string
}

func NewLinker(sessions database.SessionRepository, accounts database.AccountRepository,
	client InstanceClient, appName, baseURL string) *Linker {
	return &Linker{
		sessions: sessions,
		accounts: accounts,
		client:   client,
		appName:  appName,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Begin starts a linking attempt: register an application with the
// instance, persist a single-use nonce session, and return the URL the
// user must visit to authorize.
func (l *Linker) Begin(ctx context.Context, instanceURL string) (string, error) {
	instanceURL, err := normalizeInstanceURL(instanceURL)
	if err != nil {
		return "", err
	}

	// Abandoned attempts never get a callback; clear them here rather
	// than running a dedicated sweeper.
	if _, err := l.sessions.PurgeExpiredSessions(time.Now().Add(-SessionTTL)); err != nil {
		return "", fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	redirectURI := l.redirectURI(instanceURL)
	app, err := l.client.RegisterApp(ctx, instanceURL, l.appName, redirectURI)
	if err != nil {
		return "", err
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}

	_, err = l.sessions.CreateSession(database.LinkSession{
		InstanceURL:  instanceURL,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Nonce:        nonce,
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist link session: %w", err)
	}

	return mastodon.AuthorizeURL(instanceURL, app.ClientID, redirectURI, nonce), nil
}

// Complete finishes a linking attempt from the OAuth callback. The session
// is consumed before anything else happens, so a replayed callback cannot
// trigger a second token exchange regardless of the outcome here.
func (l *Linker) Complete(ctx context.Context, instanceURL, code, state string) (*database.Account, error) {
	instanceURL, err := normalizeInstanceURL(instanceURL)
	if err != nil {
		return nil, err
	}

	session, err := l.sessions.ConsumeSession(instanceURL, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume link session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidState
	}
	if time.Since(session.CreatedAt) > SessionTTL {
		return nil, ErrInvalidState
	}

	redirectURI := l.redirectURI(instanceURL)
	token, err := l.client.ExchangeToken(ctx, instanceURL, session.ClientID, session.ClientSecret, redirectURI, code)
	if err != nil {
		return nil, err
	}

	creds, err := l.client.VerifyCredentials(ctx, instanceURL, token)
	if err != nil {
		return nil, err
	}

	account := database.Account{
		InstanceURL:  instanceURL,
		ClientID:     session.ClientID,
		ClientSecret: session.ClientSecret,
		AccessToken:  token,
		Handle:       creds.Handle,
		ProfileURL:   creds.ProfileURL,
	}
	id, err := l.accounts.InsertLinkedAccount(account)
	if err != nil {
		return nil, fmt.Errorf("failed to persist linked account: %w", err)
	}
	account.ID = id

	return &account, nil
}

// redirectURI carries the instance so the callback can find the session;
// it is registered verbatim with the instance, which requires an exact
// match at exchange time.
func (l *Linker) redirectURI(instanceURL string) string {
	return l.baseURL + "/oauth/callback?instance=" + url.QueryEscape(instanceURL)
}

func normalizeInstanceURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("invalid instance URL: %q", raw)
	}
	return raw, nil
}

func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
