package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 15 * time.Second

// Client talks to Mastodon-compatible instances (Mastodon, Pleroma,
// Akkoma, ...). One client serves any number of instances; every call
// takes the instance base URL explicitly.
type Client struct {
	http *resty.Client
}

func NewClient(userAgent string) *Client {
	httpClient := resty.New().
		SetTimeout(requestTimeout).
		SetHeader("User-Agent", userAgent)
	return &Client{http: httpClient}
}

// RegisterApp self-registers an OAuth application on the instance,
// obtaining the per-instance client credentials.
func (c *Client) RegisterApp(ctx context.Context, instanceURL, appName, redirectURI string) (*App, error) {
	var app App
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_name":   appName,
			"redirect_uris": redirectURI,
			"scopes":        Scopes,
		}).
		SetResult(&app).
		SetError(&apiErr).
		Post(endpoint(instanceURL, "/api/v1/apps"))
	if err != nil {
		return nil, &TokenExchangeError{Step: "register", Err: err}
	}
	if resp.IsError() {
		return nil, &TokenExchangeError{Step: "register", Err: responseError(resp, apiErr)}
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return nil, &TokenExchangeError{Step: "register", Err: fmt.Errorf("instance returned no client credentials")}
	}
	return &app, nil
}

// AuthorizeURL builds the redirect URL that sends the user to the instance
// to grant the requested scopes. The state value is the opaque single-use
// nonce of the link session.
func AuthorizeURL(instanceURL, clientID, redirectURI, state string) string {
	query := url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {Scopes},
		"state":         {state},
	}
	return endpoint(instanceURL, "/oauth/authorize") + "?" + query.Encode()
}

// ExchangeToken redeems an authorization code for a durable access token.
func (c *Client) ExchangeToken(ctx context.Context, instanceURL, clientID, clientSecret, redirectURI, code string) (string, error) {
	var token struct {
		AccessToken string `json:"access_token"`
	}
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"client_id":     clientID,
			"client_secret": clientSecret,
			"redirect_uri":  redirectURI,
			"scope":         Scopes,
		}).
		SetResult(&token).
		SetError(&apiErr).
		Post(endpoint(instanceURL, "/oauth/token"))
	if err != nil {
		return "", &TokenExchangeError{Step: "exchange", Err: err}
	}
	if resp.IsError() {
		return "", &TokenExchangeError{Step: "exchange", Err: responseError(resp, apiErr)}
	}
	if token.AccessToken == "" {
		return "", &TokenExchangeError{Step: "exchange", Err: fmt.Errorf("instance returned no access token")}
	}
	return token.AccessToken, nil
}

// VerifyCredentials resolves the token to the account it belongs to.
func (c *Client) VerifyCredentials(ctx context.Context, instanceURL, accessToken string) (*Credentials, error) {
	var creds Credentials
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&creds).
		SetError(&apiErr).
		Get(endpoint(instanceURL, "/api/v1/accounts/verify_credentials"))
	if err != nil {
		return nil, &TokenExchangeError{Step: "verify", Err: err}
	}
	if resp.IsError() {
		return nil, &TokenExchangeError{Step: "verify", Err: responseError(resp, apiErr)}
	}
	if creds.Handle == "" {
		return nil, &TokenExchangeError{Step: "verify", Err: fmt.Errorf("instance returned no account handle")}
	}
	return &creds, nil
}

// PostStatus creates one public post on the destination account.
func (c *Client) PostStatus(ctx context.Context, instanceURL, accessToken, body string) (*Status, error) {
	var status Status
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetFormData(map[string]string{
			"status":     body,
			"visibility": "public",
		}).
		SetResult(&status).
		SetError(&apiErr).
		Post(endpoint(instanceURL, "/api/v1/statuses"))
	if err != nil {
		return nil, &PublishError{Transient: true, Message: err.Error()}
	}
	if resp.IsError() {
		return nil, publishError(resp, apiErr)
	}
	if status.ID == "" {
		return nil, &PublishError{StatusCode: resp.StatusCode(), Transient: false, Message: "instance returned no status id"}
	}
	return &status, nil
}

func publishError(resp *resty.Response, apiErr apiError) *PublishError {
	code := resp.StatusCode()
	transient := code >= 500 || code == http.StatusTooManyRequests

	message := apiErr.Error
	if message == "" {
		message = resp.Status()
	}
	return &PublishError{StatusCode: code, Transient: transient, Message: message}
}

func responseError(resp *resty.Response, apiErr apiError) error {
	if apiErr.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), apiErr.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.Status())
}

func endpoint(instanceURL, path string) string {
	return strings.TrimRight(instanceURL, "/") + path
}
