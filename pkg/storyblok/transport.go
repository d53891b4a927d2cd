package storyblok

import (
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPFetcher abstracts HTTP calls for testability
type HTTPFetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPFetcher wraps http.Client for production use
type RealHTTPFetcher struct {
	client *http.Client
}

// NewRealHTTPFetcher creates a production HTTP fetcher
func NewRealHTTPFetcher(client *http.Client) HTTPFetcher {
	return &RealHTTPFetcher{client: client}
}

// DefaultHTTPClient is the TLS 1.2+ client used for API calls and downloads.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConnsPerHost: 16,
		},
	}
}

func (f *RealHTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	return f.client.Do(req)
}

type mockResponse struct {
	statusCode int
	body       string
	header     http.Header
}

// MockHTTPFetcher simulates HTTP responses for testing. It is safe for
// concurrent use since the client fetches pages in parallel.
type MockHTTPFetcher struct {
	mu        sync.Mutex
	responses map[string][]mockResponse
	errors    map[string]error
	requests  []*http.Request
}

// NewMockHTTPFetcher creates a mock HTTP fetcher
func NewMockHTTPFetcher() *MockHTTPFetcher {
	return &MockHTTPFetcher{
		responses: make(map[string][]mockResponse),
		errors:    make(map[string]error),
	}
}

func mockKey(method, url string) string {
	return strings.ToUpper(method) + " " + url
}

// AddResponse registers a GET response for a URL
func (m *MockHTTPFetcher) AddResponse(url string, statusCode int, body string) {
	m.AddMethodResponse(http.MethodGet, url, statusCode, body, nil)
}

// AddMethodResponse queues a response for method+URL. Queued responses are
// served in order; the last one repeats.
func (m *MockHTTPFetcher) AddMethodResponse(method, url string, statusCode int, body string, header http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if header == nil {
		header = make(http.Header)
	}
	key := mockKey(method, url)
	m.responses[key] = append(m.responses[key], mockResponse{statusCode: statusCode, body: body, header: header})
}

// AddError registers a transport error for a GET URL
func (m *MockHTTPFetcher) AddError(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[mockKey(http.MethodGet, url)] = err
}

// Requests returns the requests seen so far.
func (m *MockHTTPFetcher) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CountRequests counts requests for method+URL.
func (m *MockHTTPFetcher) CountRequests(method, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if strings.EqualFold(r.Method, method) && r.URL.String() == url {
			n++
		}
	}
	return n
}

func (m *MockHTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	key := mockKey(req.Method, req.URL.String())

	if err, ok := m.errors[key]; ok {
		return nil, err
	}

	queue := m.responses[key]
	if len(queue) == 0 {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader("Not Found")),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[key] = queue[1:]
	}
	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     resp.header.Clone(),
		Request:    req,
	}, nil
}
