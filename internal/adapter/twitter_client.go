package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/faveindex/internal/circuitbreaker"
	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/retry"
	"github.com/faveindex/internal/types"
)

// MaxLookupIDs is the most ids the lookup endpoint accepts per call
const MaxLookupIDs = 100

// ClientConfig configures a TwitterClient
type ClientConfig struct {
	BaseURL         string
	PageSize        int
	HydrateBatch    int
	HydrateCooldown time.Duration
	Timeout         time.Duration
}

// TwitterClient calls the favorites and lookup endpoints with a user's OAuth1 token
type TwitterClient struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTwitterClient creates a client that signs requests with the app consumer
// credentials and the user's access token.
func NewTwitterClient(cfg ClientConfig, consumer *oauth1.Config, accessToken, accessSecret string, breaker *circuitbreaker.CircuitBreaker) *TwitterClient {
	httpClient := consumer.Client(context.Background(), oauth1.NewToken(accessToken, accessSecret))
	httpClient.Timeout = cfg.Timeout
	return newTwitterClient(cfg, httpClient, breaker)
}

func newTwitterClient(cfg ClientConfig, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *TwitterClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.HydrateBatch <= 0 || cfg.HydrateBatch > MaxLookupIDs {
		cfg.HydrateBatch = MaxLookupIDs
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TwitterClient{
		cfg:     cfg,
		http:    httpClient,
		breaker: breaker,
		sleep:   retry.Sleep,
	}
}

// FetchFavoritesPage implements ContentSource. The next cursor is the smallest
// id in the page, not the last one, since pages may arrive out of order.
func (c *TwitterClient) FetchFavoritesPage(ctx context.Context, cursor string) (*FavoritesPage, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		params.Set("max_id", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/favorites/list.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build favorites request: %w", err)
	}

	var items []models.Item
	if err := c.do(ctx, "favorites/list", req, &items); err != nil {
		return nil, err
	}

	return &FavoritesPage{
		Items:      items,
		NextCursor: types.MinID(models.ItemIDs(items)),
	}, nil
}

// Hydrate implements ContentSource
func (c *TwitterClient) Hydrate(ctx context.Context, ids []string) ([]models.Item, error) {
	var out []models.Item
	for start := 0; start < len(ids); start += c.cfg.HydrateBatch {
		if start > 0 {
			if err := c.sleep(ctx, c.cfg.HydrateCooldown); err != nil {
				return out, apperrors.NewSourceUnavailableError("statuses/lookup", err)
			}
		}
		end := start + c.cfg.HydrateBatch
		if end > len(ids) {
			end = len(ids)
		}
		items, err := c.Lookup(ctx, ids[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// Lookup implements ContentSource
func (c *TwitterClient) Lookup(ctx context.Context, ids []string) ([]models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxLookupIDs {
		return nil, apperrors.NewInvalidParameterError("ids", fmt.Sprintf("at most %d ids per lookup, got %d", MaxLookupIDs, len(ids)))
	}

	form := url.Values{}
	form.Set("id", strings.Join(ids, ","))
	form.Set("include_entities", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/statuses/lookup.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var items []models.Item
	if err := c.do(ctx, "statuses/lookup", req, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *TwitterClient) do(ctx context.Context, op string, req *http.Request, out interface{}) error {
	call := func(ctx context.Context) error {
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return statusError(op, resp, body)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		var catErr *apperrors.CategorizedError
		if errors.As(err, &catErr) {
			return err
		}
		return apperrors.NewSourceUnavailableError(op, err)
	}
	return nil
}

// statusError maps a non-200 response. Credential and request errors belong
// to one user; only 5xx and 429 signal trouble at the source.
func statusError(op string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.NewUnauthorizedError(fmt.Sprintf("%s: access token rejected", op))
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.NewForbiddenError(fmt.Sprintf("%s: access denied", op))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(retryAfter(resp.Header, time.Now()))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperrors.NewSourceRejectedError(op, resp.StatusCode, truncate(body, 200))
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

// retryAfter reads the wait in seconds from Retry-After, falling back to the
// x-rate-limit-reset epoch the source sends with 429s
func retryAfter(h http.Header, now time.Time) int {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		return secs
	}
	if reset, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64); err == nil {
		if wait := reset - now.Unix(); wait > 0 {
			return int(wait)
		}
	}
	return 0
}

// IsSourceOutage reports whether err says the source itself is failing.
// Errors scoped to one user's token or request do not count.
func IsSourceOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch apperrors.Categorize(err).Category {
	case apperrors.CategoryAuthorization, apperrors.CategoryValidation, apperrors.CategoryNotFound:
		return false
	default:
		return true
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
