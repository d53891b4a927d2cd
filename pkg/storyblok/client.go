package storyblok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/buildinfo"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	SpaceID     string
	Token       string
	PerPage     int
	Concurrency int
	Retry       RetryPolicy

	// Fetcher performs management API calls; Downloader fetches public asset
	// files. Downloader defaults to Fetcher.
	Fetcher    HTTPFetcher
	Downloader HTTPFetcher
}

// Client talks to the management API of one space.
type Client struct {
	baseURL     string
	spaceID     string
	token       string
	perPage     int
	concurrency int
	retry       RetryPolicy
	api         HTTPFetcher
	download    HTTPFetcher
}

// NewClient validates the options and fills defaults.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegion.BaseURL()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if opts.SpaceID == "" {
		return nil, errors.New("space id is required")
	}
	if opts.Token == "" {
		return nil, errors.New("token is required")
	}
	if opts.PerPage <= 0 || opts.PerPage > MaxPerPage {
		opts.PerPage = MaxPerPage
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewRealHTTPFetcher(DefaultHTTPClient(60 * time.Second))
	}
	if opts.Downloader == nil {
		opts.Downloader = opts.Fetcher
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		spaceID:     opts.SpaceID,
		token:       opts.Token,
		perPage:     opts.PerPage,
		concurrency: opts.Concurrency,
		retry:       opts.Retry,
		api:         opts.Fetcher,
		download:    opts.Downloader,
	}, nil
}

// SpaceID returns the space this client is bound to.
func (c *Client) SpaceID() string {
	return c.spaceID
}

func (c *Client) spaceURL(path string, query url.Values) string {
	u := fmt.Sprintf("%s/v1/spaces/%s%s", c.baseURL, url.PathEscape(c.spaceID), path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Ping fetches the space record. Auth and space id problems surface here,
// before anything destructive happens.
func (c *Client) Ping(ctx context.Context) (*Space, error) {
	var body struct {
		Space *Space `json:"space"`
	}
	u := c.spaceURL("", nil)
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.Space == nil {
		return nil, &ParseError{URL: u, Message: "response has no space object"}
	}
	return body.Space, nil
}

// ListAssets returns every asset of the space.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	return listAll[Asset](ctx, c, "/assets", "assets", nil)
}

// ListAssetFolders returns every asset folder of the space.
func (c *Client) ListAssetFolders(ctx context.Context) ([]AssetFolder, error) {
	return listAll[AssetFolder](ctx, c, "/asset_folders", "asset_folders", nil)
}

// ListStories returns every story of the space with its content. Stories whose
// content is not part of the listing are fetched one by one, bounded by the
// client's concurrency.
func (c *Client) ListStories(ctx context.Context) ([]Story, error) {
	raws, err := listAll[json.RawMessage](ctx, c, "/stories", "stories", nil)
	if err != nil {
		return nil, err
	}

	stories := make([]Story, len(raws))
	for i, raw := range raws {
		s, err := decodeStory(raw)
		if err != nil {
			return nil, &ParseError{URL: c.spaceURL("/stories", nil), Message: "story", Wrapped: err}
		}
		stories[i] = s
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range stories {
		if stories[i].HasContent() {
			continue
		}
		g.Go(func() error {
			full, err := c.GetStory(gctx, stories[i].ID)
			if err != nil {
				return fmt.Errorf("story %d (%s): %w", stories[i].ID, stories[i].FullSlug, err)
			}
			stories[i] = full
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stories, nil
}

// GetStory fetches one story including its content.
func (c *Client) GetStory(ctx context.Context, id int64) (Story, error) {
	u := c.spaceURL("/stories/"+strconv.FormatInt(id, 10), nil)
	var body struct {
		Story json.RawMessage `json:"story"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return Story{}, err
	}
	if len(body.Story) == 0 {
		return Story{}, &ParseError{URL: u, Message: "response has no story object"}
	}
	s, err := decodeStory(body.Story)
	if err != nil {
		return Story{}, &ParseError{URL: u, Message: "story", Wrapped: err}
	}
	return s, nil
}

// DownloadAsset streams the public file behind assetURL into w.
func (c *Client) DownloadAsset(ctx context.Context, assetURL string, w io.Writer) (int64, error) {
	u := assetURL
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	resp, err := c.send(ctx, c.download, http.MethodGet, u, false)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &NetworkError{Method: http.MethodGet, URL: u, Wrapped: err}
	}
	return n, nil
}

// DeleteAsset deletes one asset. A missing asset yields an error matching ErrNotFound.
func (c *Client) DeleteAsset(ctx context.Context, id int64) error {
	u := c.spaceURL("/assets/"+strconv.FormatInt(id, 10), nil)
	resp, err := c.send(ctx, c.api, http.MethodDelete, u, true)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	resp, err := c.send(ctx, c.api, http.MethodGet, u, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ParseError{URL: u, Message: "json", Wrapped: err}
	}
	return nil
}

type page struct {
	items []json.RawMessage
	total int // -1 when the Total header is absent
}

func (c *Client) fetchPage(ctx context.Context, path, itemKey string, params url.Values, n int) (page, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(n))
	u := c.spaceURL(path, q)

	logger.Debug("Fetching page", logger.String("path", path), logger.Int("page", n))

	resp, err := c.send(ctx, c.api, http.MethodGet, u, true)
	if err != nil {
		return page{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return page{}, &ParseError{URL: u, Message: path + " page", Wrapped: err}
	}
	rawItems, ok := body[itemKey]
	if !ok {
		keys := make([]string, 0, len(body))
		for k := range body {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return page{}, &ParseError{
			URL:     u,
			Message: fmt.Sprintf("item key %q not in response, possible keys %s", itemKey, strings.Join(keys, ", ")),
		}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return page{}, &ParseError{URL: u, Message: itemKey, Wrapped: err}
	}

	total := -1
	if h := resp.Header.Get("Total"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil && parsed >= 0 {
			total = parsed
		}
	}
	return page{items: items, total: total}, nil
}

// listAll walks every page of a list endpoint. With a Total header the
// remaining pages are fetched concurrently; without it pages are walked until
// a short page. Items come back in page order either way.
func listAll[T any](ctx context.Context, c *Client, path, itemKey string, params url.Values) ([]T, error) {
	first, err := c.fetchPage(ctx, path, itemKey, params, 1)
	if err != nil {
		return nil, err
	}
	pages := [][]json.RawMessage{first.items}

	switch {
	case len(first.items) < c.perPage:
		// single page
	case first.total >= 0:
		pageCount := (first.total + c.perPage - 1) / c.perPage
		if pageCount > 1 {
			rest := make([][]json.RawMessage, pageCount-1)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(c.concurrency)
			for n := 2; n <= pageCount; n++ {
				g.Go(func() error {
					p, err := c.fetchPage(gctx, path, itemKey, params, n)
					if err != nil {
						return err
					}
					rest[n-2] = p.items
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			pages = append(pages, rest...)
		}
	default:
		for n := 2; ; n++ {
			p, err := c.fetchPage(ctx, path, itemKey, params, n)
			if err != nil {
				return nil, err
			}
			pages = append(pages, p.items)
			if len(p.items) < c.perPage {
				break
			}
		}
	}

	var out []T
	for _, items := range pages {
		for _, raw := range items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, &ParseError{URL: c.spaceURL(path, nil), Message: itemKey, Wrapped: err}
			}
			out = append(out, item)
		}
	}
	logger.Debug("Listed items", logger.String("path", path), logger.Int("count", len(out)))
	return out, nil
}

// send performs one logical request, retrying retriable failures with
// backoff. The caller owns the returned body.
func (c *Client) send(ctx context.Context, fetcher HTTPFetcher, method, u string, auth bool) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.sendOnce(ctx, fetcher, method, u, auth)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !IsRetriable(err) || attempt >= c.retry.MaxAttempts {
			return nil, err
		}
		delay := c.retry.Delay(attempt, err)
		logger.Debug("Retrying request",
			logger.String("method", method),
			logger.String("url", u),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return nil, err
		}
	}
}

func (c *Client) sendOnce(ctx context.Context, fetcher HTTPFetcher, method, u string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if auth {
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Accept", "application/json")
	}

	resp, err := fetcher.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Method: method, URL: u, Wrapped: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{URL: u, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{
			Method:  method,
			URL:     u,
			Wrapped: fmt.Errorf("server error: HTTP %d", resp.StatusCode),
		}
	default:
		return nil, &APIError{
			Method:     method,
			URL:        u,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
