package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(crawler.Page), args.Error(1)
}

func (m *MockRenderer) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockPageFetcher struct {
	mock.Mock
}

func (m *MockPageFetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(crawler.Page), args.Error(1)
}

const pageURL = "https://example.com/docs/"

func TestDualPrefersRenderer(t *testing.T) {
	t.Parallel()

	renderer := new(MockRenderer)
	renderer.On("Render", mock.Anything, pageURL).Return(crawler.Page{
		URL:   pageURL,
		Title: "Rendered",
		Body:  []byte(`<html><body><a href="/about">About</a></body></html>`),
	}, nil).Once()
	fallback := new(MockPageFetcher)

	outcome := New(renderer, fallback, zap.NewNop()).Fetch(context.Background(), pageURL)

	require.True(t, outcome.OK())
	assert.Equal(t, crawler.OutcomeRendered, outcome.Kind)
	assert.Equal(t, "Rendered", outcome.Title)
	assert.Contains(t, outcome.HTML, `href="https://example.com/about"`)
	fallback.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestDualFallsBackPerURL(t *testing.T) {
	t.Parallel()

	renderer := new(MockRenderer)
	renderer.On("Render", mock.Anything, "https://example.com/a").
		Return(crawler.Page{}, errors.New("navigation timeout")).Once()
	renderer.On("Render", mock.Anything, "https://example.com/b").
		Return(crawler.Page{Body: []byte("<p>b</p>"), Title: "B"}, nil).Once()
	fallback := new(MockPageFetcher)
	fallback.On("Fetch", mock.Anything, "https://example.com/a").
		Return(crawler.Page{FinalURL: "https://example.com/a/", Body: []byte(`<img src="logo.png">`), Title: "A"}, nil).Once()

	dual := New(renderer, fallback, zap.NewNop())

	first := dual.Fetch(context.Background(), "https://example.com/a")
	require.True(t, first.OK())
	assert.Equal(t, crawler.OutcomeFallbackFetched, first.Kind)
	assert.Contains(t, first.HTML, `src="https://example.com/a/logo.png"`)

	second := dual.Fetch(context.Background(), "https://example.com/b")
	require.True(t, second.OK())
	assert.Equal(t, crawler.OutcomeRendered, second.Kind)

	renderer.AssertExpectations(t)
	fallback.AssertExpectations(t)
}

func TestDualWithoutRenderer(t *testing.T) {
	t.Parallel()

	fallback := new(MockPageFetcher)
	fallback.On("Fetch", mock.Anything, pageURL).Return(crawler.Page{Body: []byte("<p>x</p>")}, nil).Once()

	outcome := New(nil, fallback, zap.NewNop()).Fetch(context.Background(), pageURL)
	require.True(t, outcome.OK())
	assert.Equal(t, crawler.OutcomeFallbackFetched, outcome.Kind)
}

func TestDualAllStrategiesFailed(t *testing.T) {
	t.Parallel()

	renderer := new(MockRenderer)
	renderer.On("Render", mock.Anything, pageURL).Return(crawler.Page{}, crawler.ErrEngineUnavailable).Once()
	fallback := new(MockPageFetcher)
	fallback.On("Fetch", mock.Anything, pageURL).Return(crawler.Page{}, &crawler.HTTPStatusError{Code: 404}).Once()

	outcome := New(renderer, fallback, zap.NewNop()).Fetch(context.Background(), pageURL)

	assert.False(t, outcome.OK())
	assert.Equal(t, crawler.OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, crawler.ErrAllStrategiesFailed)
	assert.ErrorIs(t, outcome.Err, crawler.ErrEngineUnavailable)
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, outcome.Err, &statusErr)
	assert.Equal(t, 404, statusErr.Code)
}

func TestAbsolutizeLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head>
<link rel="stylesheet" href="/css/site.css">
<script src="js/app.js"></script>
</head><body>
<a href="/root">root</a>
<a href="child/page">child</a>
<a href="https://other.test/x">abs</a>
<a href="javascript:void(0)">js</a>
<img src="data:image/png;base64,AAAA">
</body></html>`)

	html, err := AbsolutizeLinks("https://example.com/docs/", body)
	require.NoError(t, err)

	assert.Contains(t, html, `href="https://example.com/css/site.css"`)
	assert.Contains(t, html, `src="https://example.com/docs/js/app.js"`)
	assert.Contains(t, html, `href="https://example.com/root"`)
	assert.Contains(t, html, `href="https://example.com/docs/child/page"`)
	assert.Contains(t, html, `href="https://other.test/x"`)
	assert.Contains(t, html, `href="javascript:void(0)"`)
	assert.Contains(t, html, `src="data:image/png;base64,AAAA"`)
}

func TestDefaultHeaders(t *testing.T) {
	t.Parallel()

	h := DefaultHeaders("")
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
	assert.Equal(t, DefaultAccept, h.Get("Accept"))
	assert.Equal(t, DefaultAcceptLanguage, h.Get("Accept-Language"))
	assert.Equal(t, "custom", DefaultHeaders("custom").Get("User-Agent"))
}

func TestNewHTTPClientDefaults(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient(ClientConfig{})
	assert.Equal(t, DefaultClientTimeout, client.Timeout)
	require.NotNil(t, client.Transport)
}
