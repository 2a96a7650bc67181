package mastodon

import (
	"fmt"
)

// Scopes is the full set of OAuth scopes ever requested: creating statuses
// and reading the account's own credentials, nothing more.
const Scopes = "write:statuses read:accounts"

// App is an application registration on one instance.
type App struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Credentials identifies the authorized account.
type Credentials struct {
	Handle     string `json:"acct"`
	ProfileURL string `json:"url"`
}

// Status is a reference to a created post.
type Status struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type apiError struct {
	Error string `json:"error"`
}

// PublishError is a failed status-creation call. Transient failures
// (network, 5xx, rate limiting) are worth retrying on a later run;
// permanent ones (auth, validation) are not.
type PublishError struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (e *PublishError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("publish failed (%s, HTTP %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("publish failed (%s): %s", kind, e.Message)
}

// TokenExchangeError is a failed step of the authorization-code flow.
type TokenExchangeError struct {
	Step string // register, exchange, verify
	Err  error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("oauth %s step failed: %v", e.Step, e.Err)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
