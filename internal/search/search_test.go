package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/foibot/internal/detect"
	"github.com/hyperifyio/foibot/internal/extract"
	"github.com/hyperifyio/foibot/internal/fetch"
)

var fixtures = map[string]string{
	"council": "council.html",
	"bins":    "no_pdf.html",
	"roads":   "many.html",
}

// newFixtureServer serves a testdata page chosen by the query parameter and
// counts requests.
func newFixtureServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		name, ok := fixtures[r.URL.Query().Get("query")]
		if !ok {
			_, _ = w.Write([]byte("<html><head><title>Search</title></head><body><p>No results</p></body></html>"))
			return
		}
		b, err := os.ReadFile(filepath.Join("testdata", name))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSearcher(t *testing.T, cfg Config, f Fetcher) *Searcher {
	t.Helper()
	e, err := extract.New(cfg.BaseURL, extract.Options{})
	require.NoError(t, err)
	d, err := detect.New(cfg.BaseURL, detect.Options{})
	require.NoError(t, err)
	s, err := New(cfg, f, e, d)
	require.NoError(t, err)
	return s
}

func fastClient() *fetch.Client {
	return &fetch.Client{MaxAttempts: 3, PerRequestTimeout: 2 * time.Second, Backoff: fetch.Backoff{Initial: time.Millisecond, Multiplier: 2, Max: 10 * time.Millisecond}}
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("network must not be used")
}

func TestSearch_InvalidQueryMakesNoNetworkCall(t *testing.T) {
	rt := &countingTransport{}
	client := &fetch.Client{HTTPClient: &http.Client{Transport: rt}}
	s := newTestSearcher(t, DefaultConfig(), client)

	for _, q := range []string{"", "   ", "\t\n "} {
		out, err := s.Search(context.Background(), q)
		require.ErrorIs(t, err, ErrInvalidQuery, "%q", q)
		assert.Empty(t, out.Results)
	}
	assert.Equal(t, int32(0), rt.calls.Load())
}

func TestSearch_CouncilAttachmentEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	out, err := s.Search(context.Background(), "council")
	require.NoError(t, err)
	require.Len(t, out.Results, 1)

	r := out.Results[0]
	assert.Equal(t, "Council Response", r.Title)
	assert.Equal(t, srv.URL+"/response/99/attach/1/letter.pdf", r.PageURL)
	assert.Equal(t, "see attached", r.Snippet)
	require.NotNil(t, r.Attachment)
	assert.True(t, strings.HasSuffix(r.Attachment.URL, "letter.pdf"))
	assert.Equal(t, detect.AttachmentPath, r.Attachment.Confidence)
	assert.False(t, out.Degraded)
	assert.Equal(t, srv.URL+"/search?query=council", out.URL)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_ResultWithoutDocumentHasNoAttachment(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	out, err := s.Search(context.Background(), "bins")
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Bin collections", out.Results[0].Title)
	assert.Nil(t, out.Results[0].Attachment)
}

func TestSearch_NoMatchesIsNotAnError(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	out, err := s.Search(context.Background(), "nothing matches this")
	require.NoError(t, err)
	assert.True(t, out.NoMatches())
	assert.False(t, out.Degraded)
}

func TestSearch_CapsResultsInPageOrder(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxResults = 2
	s := newTestSearcher(t, cfg, fastClient())

	out, err := s.Search(context.Background(), "roads")
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Truncated)
	assert.Equal(t, "Roads 1", out.Results[0].Title)
	assert.Nil(t, out.Results[0].Attachment)
	assert.Equal(t, "Roads 2", out.Results[1].Title)
	require.NotNil(t, out.Results[1].Attachment)
	assert.Equal(t, "gritting.pdf", out.Results[1].Attachment.Name)
	assert.Equal(t, "75 KB", out.Results[1].Attachment.SizeLabel)
}

func TestSearch_IsDeterministic(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	a, err := s.Search(context.Background(), "roads")
	require.NoError(t, err)
	b, err := s.Search(context.Background(), "roads")
	require.NoError(t, err)
	assert.Equal(t, a.Results, b.Results)
}

func TestSearch_FetchFailedCarriesAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	_, err := s.Search(context.Background(), "council")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.NotErrorIs(t, err, ErrTimeout)

	var ferr *fetch.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 3, ferr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, ferr.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_DeadlineSurfacesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 100 * time.Millisecond
	client := &fetch.Client{MaxAttempts: 5, Backoff: fetch.Backoff{Initial: 10 * time.Second}}
	s := newTestSearcher(t, cfg, client)

	start := time.Now()
	_, err := s.Search(context.Background(), "council")
	require.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrFetchFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSearch_ConcurrentCallsShareNothing(t *testing.T) {
	var calls atomic.Int32
	srv := newFixtureServer(t, &calls)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	s := newTestSearcher(t, cfg, fastClient())

	queries := []string{"council", "bins", "roads", "nothing"}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if _, err := s.Search(context.Background(), q); err != nil {
				errs <- err
			}
		}(queries[i%len(queries)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	assert.Equal(t, int32(20), calls.Load())
}

func TestSearch_FileSource(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestSearcher(t, cfg, &FileSource{Path: filepath.Join("testdata", "council.html")})

	out, err := s.Search(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "https://www.whatdotheyknow.com/response/99/attach/1/letter.pdf", out.Results[0].PageURL)

	missing := newTestSearcher(t, cfg, &FileSource{Path: filepath.Join("testdata", "missing.html")})
	_, err = missing.Search(context.Background(), "anything")
	require.ErrorIs(t, err, ErrFetchFailed)
}

func TestBuildURL(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestSearcher(t, cfg, &FileSource{})

	got, err := s.BuildURL("  police corruption & fraud ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.whatdotheyknow.com/search?query=police+corruption+%26+fraud", got)

	cfg.QueryTemplate = "/search/{query}"
	s = newTestSearcher(t, cfg, &FileSource{})
	got, err = s.BuildURL("police corruption")
	require.NoError(t, err)
	assert.Equal(t, "https://www.whatdotheyknow.com/search/police%20corruption", got)

	_, err = s.BuildURL(" ")
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNew_Validation(t *testing.T) {
	e, err := extract.New(DefaultBaseURL, extract.Options{})
	require.NoError(t, err)
	d, err := detect.New(DefaultBaseURL, detect.Options{})
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, e, d)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.QueryTemplate = "/search"
	_, err = New(cfg, &FileSource{}, e, d)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.BaseURL = "not a url"
	_, err = New(cfg, &FileSource{}, e, d)
	require.Error(t, err)

	s, err := New(Config{}, &FileSource{}, e, d)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxResults, s.Config().MaxResults)
}
