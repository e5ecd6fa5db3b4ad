package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

func testHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "pagemark-test")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	return h
}

func pageWithText(n int) string {
	return fmt.Sprintf("<html><head><title>Len %d</title></head><body><p>%s</p></body></html>", n, strings.Repeat("x", n))
}

func TestPickLonger(t *testing.T) {
	t.Parallel()

	first := snapshot{textLen: 100, title: "first"}
	second := snapshot{textLen: 150, title: "second"}
	third := snapshot{textLen: 120, title: "third"}

	best := pickLonger(first, second)
	assert.Equal(t, "second", best.title)
	best = pickLonger(best, third)
	assert.Equal(t, "second", best.title)
	assert.Equal(t, "second", pickLonger(second, snapshot{textLen: 150, title: "tie"}).title)
}

func TestFetchAdoptsLongestResponse(t *testing.T) {
	t.Parallel()

	lengths := []int{100, 150, 120}
	var (
		hits    atomic.Int32
		mu      sync.Mutex
		cookies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		mu.Lock()
		cookies = append(cookies, r.Header.Get("Cookie"))
		mu.Unlock()
		assert.Equal(t, "pagemark-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, pageWithText(lengths[n%len(lengths)]))
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders(), ScrollCount: 1}, srv.Client(), zap.NewNop())
	page, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "Len 150", page.Title)
	assert.Contains(t, string(page.Body), strings.Repeat("x", 150))
	assert.Equal(t, srv.URL+"/article", page.FinalURL)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "", "scrolled=true; position=0"}, cookies)
}

func TestFetchIgnoresScriptText(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, "<html><body><p>visible text</p></body></html>")
			return
		}
		fmt.Fprint(w, "<html><body><p>visible</p><script>var padding = 'aaaaaaaaaaaaaaaaaaaa';</script></body></html>")
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders()}, srv.Client(), zap.NewNop())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(page.Body), "visible text")
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders()}, srv.Client(), zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestFetchKeepsFirstWhenFollowUpsFail(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, pageWithText(10))
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders(), ScrollCount: 2}, srv.Client(), zap.NewNop())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Len 10", page.Title)
	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchWarmsScriptsAndStyles(t *testing.T) {
	t.Parallel()

	var assets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static/app.js", "/static/site.css":
			assets.Add(1)
			fmt.Fprint(w, "/* asset */")
		default:
			fmt.Fprint(w, `<html><head>
<script src="/static/app.js"></script>
<link rel="stylesheet" href="/static/site.css">
<link rel="icon" href="/favicon.ico">
</head><body><p>hello</p></body></html>`)
		}
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders(), WarmupLimit: 2, Settle: 200 * time.Millisecond}, srv.Client(), zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return assets.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	released := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			released <- struct{}{}
			return
		case <-time.After(3 * time.Second):
		}
		fmt.Fprint(w, pageWithText(1))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := New(Config{Headers: testHeaders()}, srv.Client(), zap.NewNop())
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrTimeout))

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("server still holds the request after Fetch returned")
	}
}

func TestFetchAbandonsWarmupOnReturn(t *testing.T) {
	t.Parallel()

	var (
		started  = make(chan struct{}, 1)
		released = make(chan struct{}, 1)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.js" {
			assert.Equal(t, "pagemark-test", r.Header.Get("User-Agent"))
			started <- struct{}{}
			select {
			case <-r.Context().Done():
				released <- struct{}{}
			case <-time.After(3 * time.Second):
			}
			return
		}
		fmt.Fprint(w, `<html><head><script src="/slow.js"></script></head><body><p>hi</p></body></html>`)
	}))
	defer srv.Close()

	f := New(Config{Headers: testHeaders(), WarmupLimit: 1, Settle: 300 * time.Millisecond}, srv.Client(), zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("warm-up request never reached the server")
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("warm-up request outlived Fetch")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	var (
		result   snapshot
		status   int
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, http.Header{"X-Trace": {"yes"}}, &result, &status, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body", string(result.body))
	assert.Equal(t, "https://example.com/final", result.finalURL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
