package recipeapi

import (
	"context"
	"encoding/json"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/recipeapp/recipecache/internal/circuit"
	"github.com/recipeapp/recipecache/internal/config"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/retry"
	"github.com/recipeapp/recipecache/pkg/types"
)

const (
	searchPath       = "/api/recipes/v2"
	instructionsPath = "/api/instructions"

	endpointSearch       = "search"
	endpointInstructions = "instructions"

	defaultSimilarCount = 6
	maxErrorBody        = 512
)

// UpstreamRecorder receives per-request latency and outcome.
type UpstreamRecorder interface {
	RecordUpstreamRequest(endpoint string, duration time.Duration, err error)
}

// Config configures the recipe API client
type Config struct {
	BaseURL string
	AppID   string
	AppKey  string

	// Optional OAuth2 client-credentials grant
	TokenURL     string
	ClientID     string
	ClientSecret string

	Timeout               time.Duration
	Retry                 retry.Config
	CircuitBreaker        circuit.Config
	DisableCircuitBreaker bool

	HTTPClient *http.Client
	Clock      func() time.Time
}

// ConfigFromUpstream maps the upstream section of the service configuration.
func ConfigFromUpstream(u config.UpstreamConfig) Config {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = u.Retry.MaxAttempts
	if u.Retry.BaseDelay > 0 {
		retryCfg.InitialDelay = u.Retry.BaseDelay
	}
	if u.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = u.Retry.MaxDelay
	}

	threshold := u.CircuitBreaker.FailureThreshold
	if threshold < 0 {
		threshold = 0
	}

	return Config{
		BaseURL:      u.BaseURL,
		AppID:        u.AppID,
		AppKey:       u.AppKey,
		TokenURL:     u.TokenURL,
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		Timeout:      u.Timeout,
		Retry:        retryCfg,
		CircuitBreaker: circuit.Config{
			FailureThreshold: uint32(threshold),
			Timeout:          u.CircuitBreaker.Timeout,
		},
		DisableCircuitBreaker: !u.CircuitBreaker.Enabled,
	}
}

// Client is an HTTP implementation of types.RecipeSource for an
// Edamam-style v2 recipe search API.
type Client struct {
	baseURL  string
	appID    string
	appKey   string
	http     *http.Client
	retryer  *retry.Retryer
	breakers *circuit.Manager
	tokens   *tokenSource
	metrics  UpstreamRecorder
	logger   *slog.Logger
}

var _ types.RecipeSource = (*Client)(nil)

// NewClient creates a recipe API client. metrics may be nil.
func NewClient(cfg Config, metrics UpstreamRecorder, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recipeapi")

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeInvalidConfig, "recipe API base URL is invalid").
			WithComponent("recipeapi").
			WithDetail("base_url", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	retryCfg := cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("Retrying recipe API request", "attempt", attempt, "delay", delay, "error", err)
	}

	c := &Client{
		baseURL: base.String(),
		appID:   cfg.AppID,
		appKey:  cfg.AppKey,
		http:    httpClient,
		retryer: retry.New(retryCfg),
		metrics: metrics,
		logger:  logger,
	}

	if !cfg.DisableCircuitBreaker {
		breakerCfg := cfg.CircuitBreaker
		if breakerCfg.Logger == nil {
			breakerCfg.Logger = logger
		}
		if breakerCfg.Clock == nil {
			breakerCfg.Clock = cfg.Clock
		}
		c.breakers = circuit.NewManager(breakerCfg)
	}

	if cfg.TokenURL != "" {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, cacheerrors.NewError(cacheerrors.ErrCodeInvalidConfig,
				"client_id and client_secret are required with token_url").
				WithComponent("recipeapi")
		}
		c.tokens = newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, httpClient, cfg.Clock)
	}

	return c, nil
}

// Breakers exposes the per-endpoint circuit breakers, nil when disabled.
func (c *Client) Breakers() *circuit.Manager {
	return c.breakers
}

// SearchRecipes runs a recipe search
func (c *Client) SearchRecipes(ctx context.Context, query string, opts types.SearchOptions) (*types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "search query is empty").
			WithComponent("recipeapi").
			WithOperation("SearchRecipes")
	}

	params := url.Values{}
	params.Set("type", "public")
	params.Set("q", query)
	if opts.From > 0 {
		params.Set("from", strconv.Itoa(opts.From))
	}
	if opts.To > 0 {
		params.Set("to", strconv.Itoa(opts.To))
	}
	setIf(params, "diet", opts.Diet)
	setIf(params, "health", opts.Health)
	setIf(params, "cuisineType", opts.CuisineType)
	setIf(params, "mealType", opts.MealType)
	setIf(params, "dishType", opts.DishType)

	var resp searchResponse
	if err := c.call(ctx, endpointSearch, searchPath, params, opts.SkipCache, &resp); err != nil {
		return nil, err
	}

	result := &types.SearchResult{
		Recipes: make([]types.Recipe, 0, len(resp.Hits)),
		Total:   resp.Count,
	}
	for _, hit := range resp.Hits {
		recipe := hit.Recipe.toRecipe()
		if recipe.ID == "" {
			continue
		}
		result.Recipes = append(result.Recipes, recipe)
	}
	return result, nil
}

// GetSimilarRecipes searches by the recipe's cuisine, or the main keyword of
// its title, and drops the source recipe from the results.
func (c *Client) GetSimilarRecipes(ctx context.Context, recipe types.Recipe, count int) ([]types.Recipe, error) {
	if count <= 0 {
		count = defaultSimilarCount
	}

	query := mainKeyword(recipe.Title)
	opts := types.SearchOptions{To: count + 1}
	if len(recipe.CuisineType) > 0 && recipe.CuisineType[0] != "" {
		opts.CuisineType = recipe.CuisineType[0]
		if query == "" {
			query = recipe.CuisineType[0]
		}
	}
	if query == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "recipe has no title or cuisine to match on").
			WithComponent("recipeapi").
			WithOperation("GetSimilarRecipes").
			WithDetail("recipe_id", recipe.ID)
	}

	result, err := c.SearchRecipes(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	similar := make([]types.Recipe, 0, count)
	for _, r := range result.Recipes {
		if r.ID == recipe.ID {
			continue
		}
		similar = append(similar, r)
		if len(similar) == count {
			break
		}
	}
	return similar, nil
}

// GetRecipeInstructions fetches cooking steps for a recipe page. Upstream
// failures produce generic fallback steps rather than an error; only an
// empty URL or a cancelled context fails.
func (c *Client) GetRecipeInstructions(ctx context.Context, recipeURL string) (*types.Instructions, error) {
	if strings.TrimSpace(recipeURL) == "" {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeValidationFailed, "recipe URL is empty").
			WithComponent("recipeapi").
			WithOperation("GetRecipeInstructions")
	}

	params := url.Values{}
	params.Set("url", recipeURL)

	var resp instructionsResponse
	err := c.call(ctx, endpointInstructions, instructionsPath, params, false, &resp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("Instructions unavailable, using fallback steps", "url", recipeURL, "error", err)
		return fallbackInstructions(), nil
	}

	steps := make([]string, 0, len(resp.Instructions))
	for _, step := range resp.Instructions {
		if step = strings.TrimSpace(step); step != "" {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return fallbackInstructions(), nil
	}
	return &types.Instructions{Success: true, Steps: steps}, nil
}

func (c *Client) call(ctx context.Context, endpoint, path string, params url.Values, noCache bool, out interface{}) error {
	start := time.Now()

	attempt := func(ctx context.Context) error {
		return c.retryer.Do(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, path, params, noCache, out)
		})
	}

	var err error
	if c.breakers != nil {
		err = c.breakers.GetBreaker(endpoint).Execute(ctx, attempt)
	} else {
		err = attempt(ctx)
	}

	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(endpoint, time.Since(start), err)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values, noCache bool, out interface{}) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.appID != "" {
		q.Set("app_id", c.appID)
		q.Set("app_key", c.appKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeInternalError, "failed to build request").
			WithComponent("recipeapi")
	}
	req.Header.Set("Accept", "application/json")
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return translateTransportError(ctx, err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
			c.tokens.Invalidate()
		}
		return translateStatus(resp, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeMalformed, "failed to decode recipe API response").
			WithComponent("recipeapi").
			WithDetail("path", path)
	}
	return nil
}

func translateTransportError(ctx context.Context, err error, path string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var netErr net.Error
	if stderr.As(err, &netErr) && netErr.Timeout() {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeUpstreamTimeout, "recipe API request timed out").
			WithComponent("recipeapi").
			WithDetail("path", path)
	}
	return cacheerrors.Wrap(err, cacheerrors.ErrCodeUpstreamUnavailable, "recipe API unreachable").
		WithComponent("recipeapi").
		WithDetail("path", path)
}

func translateStatus(resp *http.Response, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return cacheerrors.RateLimited(parseRetryAfter(resp.Header.Get("Retry-After"))).
			WithComponent("recipeapi").
			WithDetail("path", path)
	case resp.StatusCode == http.StatusNotFound:
		return cacheerrors.NewError(cacheerrors.ErrCodeNoResults, "recipe API returned not found").
			WithComponent("recipeapi").
			WithDetail("path", path)
	case resp.StatusCode >= 500:
		return cacheerrors.NewError(cacheerrors.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("recipe API returned %d", resp.StatusCode)).
			WithComponent("recipeapi").
			WithDetail("path", path).
			WithDetail("body", message)
	default:
		return cacheerrors.NewError(cacheerrors.ErrCodeUpstreamFailed,
			fmt.Sprintf("recipe API returned %d", resp.StatusCode)).
			WithComponent("recipeapi").
			WithDetail("path", path).
			WithDetail("body", message)
	}
}

func parseRetryAfter(value string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Minute
}

func setIf(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

// mainKeyword picks the longest word of a title, ignoring short filler words.
func mainKeyword(title string) string {
	best := ""
	for _, word := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r < 0x80
	}) {
		if len(word) > len(best) {
			best = word
		}
	}
	if len(best) < 3 {
		return ""
	}
	return best
}

var genericSteps = []string{
	"Gather and measure all of the ingredients.",
	"Prepare the ingredients as listed: wash, peel, and chop where needed.",
	"Follow the cooking method on the original recipe page.",
	"Taste, adjust the seasoning, and serve.",
}

func fallbackInstructions() *types.Instructions {
	steps := make([]string, len(genericSteps))
	copy(steps, genericSteps)
	return &types.Instructions{Success: true, Steps: steps, Fallback: true}
}
