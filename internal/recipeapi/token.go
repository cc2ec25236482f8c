package recipeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

// tokens are refreshed this long before they expire
const tokenRefreshMargin = 30 * time.Second

const defaultTokenLifetime = time.Hour

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenSource caches an OAuth2 client-credentials access token.
type tokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client, now func() time.Time) *tokenSource {
	return &tokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
		now:          now,
	}
}

// Token returns a cached token, fetching a new one when it is missing or
// within the refresh margin of expiry.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiresAt.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	token, lifetime, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expiresAt = ts.now().Add(lifetime)
	return token, nil
}

// Invalidate drops the cached token so the next request fetches a new one.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}

func (ts *tokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "basic")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, cacheerrors.Wrap(err, cacheerrors.ErrCodeInvalidConfig, "invalid token URL").
			WithComponent("recipeapi")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(ts.clientID, ts.clientSecret)

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", 0, translateTransportError(ctx, err, ts.tokenURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, translateStatus(resp, ts.tokenURL)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", 0, cacheerrors.Wrap(err, cacheerrors.ErrCodeMalformed, "token response has no access_token").
			WithComponent("recipeapi")
	}

	lifetime := defaultTokenLifetime
	if body.ExpiresIn > 0 {
		lifetime = time.Duration(body.ExpiresIn) * time.Second
	}
	return body.AccessToken, lifetime, nil
}
