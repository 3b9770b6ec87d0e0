package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
)

const (
	testOrigin  = "http://localhost:5000"
	testVersion = "money-mgmt-v2"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type reply struct {
	status  int
	body    string
	err     error
	readErr error
}

// fakeNetwork 按 URL 返回预设结果，未登记的地址视为离线。
type fakeNetwork struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{replies: make(map[string]reply), calls: make(map[string]int)}
}

func (f *fakeNetwork) set(rawURL string, status int, body string) {
	f.mu.Lock()
	f.replies[rawURL] = reply{status: status, body: body}
	f.mu.Unlock()
}

// truncate 让响应头正常返回，但正文读到一半中断。
func (f *fakeNetwork) truncate(rawURL string, partial string) {
	f.mu.Lock()
	f.replies[rawURL] = reply{status: http.StatusOK, body: partial, readErr: io.ErrUnexpectedEOF}
	f.mu.Unlock()
}

func (f *fakeNetwork) fail(rawURL string) {
	f.mu.Lock()
	f.replies[rawURL] = reply{err: errOffline}
	f.mu.Unlock()
}

func (f *fakeNetwork) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls[req.URL.String()]++
	r, ok := f.replies[req.URL.String()]
	f.mu.Unlock()
	if !ok || r.err != nil {
		return nil, errOffline
	}
	var body io.Reader = strings.NewReader(r.body)
	if r.readErr != nil {
		body = io.MultiReader(body, iotest.ErrReader(r.readErr))
	}
	return &http.Response{
		Status:     http.StatusText(r.status),
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(body),
		Request:    req,
	}, nil
}

// countingStorage 统计对存储的访问次数，用于断言某些分类完全不触碰缓存。
type countingStorage struct {
	cache.Storage
	opens atomic.Int32
}

func (s *countingStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	s.opens.Add(1)
	return s.Storage.Open(ctx, name)
}

// brokenStorage 的 Put 总是失败，用于验证写入失败被吞掉并触发诊断回调。
type brokenStorage struct {
	cache.Storage
}

type brokenStore struct {
	cache.Store
}

var errDiskFull = errors.New("no space left on device")

func (s brokenStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	store, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return brokenStore{Store: store}, nil
}

func (brokenStore) Put(context.Context, cache.Key, *cache.Response) error {
	return errDiskFull
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRules(t *testing.T) Rules {
	t.Helper()
	origin, err := url.Parse(testOrigin + "/")
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	return Rules{Origin: origin, APIPrefix: "/api/", ExcludedHost: "jsonblob"}
}

func newTestAgent(t *testing.T, storage cache.Storage, network Fetcher, mutate func(*Options)) *Agent {
	t.Helper()
	opts := Options{
		Version:      testVersion,
		Rules:        testRules(t),
		StaticAssets: []string{"/", "/index.html"},
		RemoteAssets: []string{"https://cdn.example.com/chart.js"},
		Storage:      storage,
		Fetcher:      network,
		Logger:       testLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New agent: %v", err)
	}
	return a
}

func getRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func seed(t *testing.T, storage cache.Storage, rawURL, body string) {
	t.Helper()
	store, err := storage.Open(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	entry := &cache.Response{Status: http.StatusOK, StatusText: "OK", Header: http.Header{}, Body: []byte(body), URL: rawURL}
	if err := store.Put(context.Background(), cache.Key{Method: http.MethodGet, URL: rawURL}, entry); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func cached(t *testing.T, storage cache.Storage, rawURL string) (*cache.Response, bool) {
	t.Helper()
	store, err := storage.Open(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	entry, err := store.Match(context.Background(), cache.Key{Method: http.MethodGet, URL: rawURL})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return entry, true
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
