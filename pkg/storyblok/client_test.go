package storyblok

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://mapi.example.test"

func newTestClient(t *testing.T, mock *MockHTTPFetcher, perPage int) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:     testBase,
		SpaceID:     "606",
		Token:       "secret",
		PerPage:     perPage,
		Concurrency: 3,
		Retry:       RetryPolicy{MaxAttempts: 3},
		Fetcher:     mock,
	})
	require.NoError(t, err)
	return c
}

func pageURL(path string, page, perPage int) string {
	return fmt.Sprintf("%s/v1/spaces/606%s?page=%d&per_page=%d", testBase, path, page, perPage)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{Token: "t"})
	assert.Error(t, err)
	_, err = NewClient(Options{SpaceID: "1"})
	assert.Error(t, err)

	c, err := NewClient(Options{SpaceID: "1", Token: "t", PerPage: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxPerPage, c.perPage)
	assert.Equal(t, RegionEU.BaseURL(), c.baseURL)
	assert.Equal(t, DefaultRetryPolicy(), c.retry)
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion("US")
	require.NoError(t, err)
	assert.Equal(t, "https://api-us.storyblok.com", r.BaseURL())

	r, err = ParseRegion("au")
	require.NoError(t, err)
	assert.Equal(t, "https://api-ap.storyblok.com", r.BaseURL())

	_, err = ParseRegion("mars")
	assert.ErrorContains(t, err, "au, ca, cn, eu, us")
}

func TestListAssetsSequentialPagination(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddResponse(pageURL("/assets", 1, 2), 200, `{"assets":[{"id":1,"filename":"https://a.storyblok.com/f/606/a.png"},{"id":2,"filename":"https://a.storyblok.com/f/606/b.png"}]}`)
	mock.AddResponse(pageURL("/assets", 2, 2), 200, `{"assets":[{"id":3,"filename":"https://a.storyblok.com/f/606/c.png","asset_folder_id":7,"content_length":42}]}`)

	c := newTestClient(t, mock, 2)
	assets, err := c.ListAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{assets[0].ID, assets[1].ID, assets[2].ID})
	require.NotNil(t, assets[2].AssetFolderID)
	assert.EqualValues(t, 7, *assets[2].AssetFolderID)
	assert.EqualValues(t, 42, assets[2].ContentLength)
	assert.Nil(t, assets[0].AssetFolderID)

	reqs := mock.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "secret", reqs[0].Header.Get("Authorization"))
}

func TestListAssetsConcurrentPaginationKeepsPageOrder(t *testing.T) {
	mock := NewMockHTTPFetcher()
	total := http.Header{"Total": []string{"5"}}
	mock.AddMethodResponse(http.MethodGet, pageURL("/assets", 1, 2), 200, `{"assets":[{"id":1},{"id":2}]}`, total)
	mock.AddMethodResponse(http.MethodGet, pageURL("/assets", 2, 2), 200, `{"assets":[{"id":3},{"id":4}]}`, total)
	mock.AddMethodResponse(http.MethodGet, pageURL("/assets", 3, 2), 200, `{"assets":[{"id":5}]}`, total)

	c := newTestClient(t, mock, 2)
	assets, err := c.ListAssets(context.Background())
	require.NoError(t, err)

	ids := make([]int64, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.Equal(t, 0, mock.CountRequests(http.MethodGet, pageURL("/assets", 4, 2)))
}

func TestListMissingItemKeyIsParseError(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddResponse(pageURL("/asset_folders", 1, 100), 200, `{"folders":[]}`)

	c := newTestClient(t, mock, 100)
	_, err := c.ListAssetFolders(context.Background())
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "possible keys folders")
}

func TestRetryOnServerErrorThenSuccess(t *testing.T) {
	mock := NewMockHTTPFetcher()
	u := pageURL("/asset_folders", 1, 100)
	mock.AddMethodResponse(http.MethodGet, u, 503, "unavailable", nil)
	mock.AddMethodResponse(http.MethodGet, u, 429, "slow down", nil)
	mock.AddMethodResponse(http.MethodGet, u, 200, `{"asset_folders":[{"id":1,"name":"images","parent_id":null}]}`, nil)

	c := newTestClient(t, mock, 100)
	folders, err := c.ListAssetFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "images", folders[0].Name)
	assert.Equal(t, 3, mock.CountRequests(http.MethodGet, u))
}

func TestRetryGivesUp(t *testing.T) {
	mock := NewMockHTTPFetcher()
	u := pageURL("/assets", 1, 100)
	mock.AddMethodResponse(http.MethodGet, u, 500, "boom", nil)

	c := newTestClient(t, mock, 100)
	_, err := c.ListAssets(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
	assert.Equal(t, 3, mock.CountRequests(http.MethodGet, u))
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddMethodResponse(http.MethodGet, testBase+"/v1/spaces/606", 401, `{"error":"Unauthorized"}`, nil)

	c := newTestClient(t, mock, 100)
	_, err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, IsRetriable(err))
	assert.Equal(t, 1, len(mock.Requests()))
}

func TestPing(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddResponse(testBase+"/v1/spaces/606", 200, `{"space":{"id":606,"name":"Marketing"}}`)

	c := newTestClient(t, mock, 100)
	space, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Marketing", space.Name)
}

func TestListStoriesFetchesMissingContent(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddResponse(pageURL("/stories", 1, 100), 200, `{"stories":[
		{"id":10,"name":"Home","full_slug":"home","content":{"component":"page","hero":{"filename":"https://a.storyblok.com/f/606/hero.png"}}},
		{"id":11,"name":"About","full_slug":"about"}
	]}`)
	mock.AddResponse(testBase+"/v1/spaces/606/stories/11", 200, `{"story":{"id":11,"name":"About","full_slug":"about","content":{"body":[{"image":{"id":99}}]}}}`)

	c := newTestClient(t, mock, 100)
	stories, err := c.ListStories(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.True(t, stories[0].HasContent())
	assert.True(t, stories[1].HasContent())
	assert.Equal(t, 1, mock.CountRequests(http.MethodGet, testBase+"/v1/spaces/606/stories/11"))
	assert.Equal(t, 0, mock.CountRequests(http.MethodGet, testBase+"/v1/spaces/606/stories/10"))

	tree, err := stories[1].Tree()
	require.NoError(t, err)
	body := tree.(map[string]any)["content"].(map[string]any)["body"].([]any)
	assert.Equal(t, "99", body[0].(map[string]any)["image"].(map[string]any)["id"].(fmt.Stringer).String())
}

func TestDownloadAsset(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddResponse("https://a.storyblok.com/f/606/banner.png", 200, "PNGDATA")

	c := newTestClient(t, mock, 100)
	var buf bytes.Buffer
	n, err := c.DownloadAsset(context.Background(), "//a.storyblok.com/f/606/banner.png", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, "PNGDATA", buf.String())

	req := mock.Requests()[0]
	assert.Empty(t, req.Header.Get("Authorization"), "public downloads must not carry the token")
}

func TestDownloadAssetTransportError(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddError("https://a.storyblok.com/f/606/gone.png", errors.New("dial tcp: no route"))

	c := newTestClient(t, mock, 100)
	_, err := c.DownloadAsset(context.Background(), "https://a.storyblok.com/f/606/gone.png", &bytes.Buffer{})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, err.Error(), "no route")
}

func TestDeleteAsset(t *testing.T) {
	mock := NewMockHTTPFetcher()
	mock.AddMethodResponse(http.MethodDelete, testBase+"/v1/spaces/606/assets/5", 200, `{}`, nil)
	mock.AddMethodResponse(http.MethodDelete, testBase+"/v1/spaces/606/assets/6", 404, `{"error":"not found"}`, nil)
	mock.AddMethodResponse(http.MethodDelete, testBase+"/v1/spaces/606/assets/7", 422, `{"error":"in use"}`, nil)

	c := newTestClient(t, mock, 100)
	require.NoError(t, c.DeleteAsset(context.Background(), 5))
	assert.ErrorIs(t, c.DeleteAsset(context.Background(), 6), ErrNotFound)

	err := c.DeleteAsset(context.Background(), 7)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.True(t, strings.Contains(apiErr.Body, "in use"))
}

func TestCancelledContextStopsRetries(t *testing.T) {
	mock := NewMockHTTPFetcher()
	u := pageURL("/assets", 1, 100)
	mock.AddMethodResponse(http.MethodGet, u, 503, "unavailable", nil)

	c, err := NewClient(Options{
		BaseURL: testBase, SpaceID: "606", Token: "secret",
		Retry:   RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour},
		Fetcher: mock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ListAssets(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, mock.CountRequests(http.MethodGet, u))
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1, nil))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, nil))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3, nil))
	assert.Equal(t, time.Second, p.Delay(10, nil))
	assert.Equal(t, 700*time.Millisecond, p.Delay(1, &RateLimitError{RetryAfter: 700 * time.Millisecond}))
	assert.Equal(t, time.Second, p.Delay(1, &RateLimitError{RetryAfter: time.Minute}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}
