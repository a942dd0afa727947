// Package gigachat classifies post text against a theme vocabulary using
// the GigaChat completion API.
package gigachat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrAuth marks failures of the token endpoint: unreachable, non-OK
// status, or rejected credentials.
var ErrAuth = errors.New("gigachat: authentication failed")

const (
	authScope    = "GIGACHAT_API_B2B"
	expiryBuffer = time.Minute
	tokenTimeout = 10 * time.Second
	refreshGroup = "token"
)

// TokenSource fetches and caches a bearer token for the GigaChat API. The
// cached value is reused until one minute before its declared expiry;
// concurrent refreshes coalesce into a single request.
type TokenSource struct {
	authURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	group        singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source for the given auth endpoint and
// client credentials.
func NewTokenSource(authURL, clientID, clientSecret string) (*TokenSource, error) {
	if strings.TrimSpace(authURL) == "" {
		return nil, errors.New("gigachat: auth url is required")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("gigachat: client credentials are required")
	}

	return &TokenSource{
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: tokenTimeout},
	}, nil
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// value is absent or within the expiry buffer.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	value, err, _ := ts.group.Do(refreshGroup, func() (any, error) {
		// Re-check under the lock: a concurrent caller may have refreshed
		// between the fast-path check and joining the group.
		ts.mu.Lock()
		if ts.token != "" && time.Now().Before(ts.expiresAt) {
			token := ts.token
			ts.mu.Unlock()
			return token, nil
		}
		ts.mu.Unlock()

		return ts.fetch(ctx)
	})
	if err != nil {
		return "", err
	}

	return value.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{"scope": {authScope}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}

	basic := base64.StdEncoding.EncodeToString([]byte(ts.clientID + ":" + ts.clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", fmt.Errorf("%w: token response missing access_token or expires_in", ErrAuth)
	}

	ts.mu.Lock()
	ts.token = tr.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryBuffer)
	ts.mu.Unlock()

	return tr.AccessToken, nil
}
