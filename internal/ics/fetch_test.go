package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetchOneUsesETagCache(t *testing.T) {
	var hits atomic.Int32
	var sawConditional atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawConditional.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	f := NewFetcherWithClient(t.TempDir(), srv.Client())
	src := Source{ID: "feed", URL: srv.URL + "/feed.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feedBody, string(first.Body))

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, feedBody, string(second.Body))
	assert.True(t, sawConditional.Load())
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOneFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	f := NewFetcherWithClient(t.TempDir(), srv.Client())
	src := Source{ID: "feed", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feedBody, string(res.Body))
}

func TestFetchOneErrorsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcherWithClient(t.TempDir(), srv.Client())
	_, err := f.FetchOne(context.Background(), Source{ID: "feed", URL: srv.URL})
	assert.Error(t, err)

	_, err = f.FetchOne(context.Background(), Source{ID: "empty"})
	assert.Error(t, err)
}

func TestFetchAllKeepsSourceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.ics" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := NewFetcherWithClient(t.TempDir(), srv.Client())
	sources := []Source{
		{ID: "a", URL: srv.URL + "/a.ics"},
		{ID: "bad", URL: srv.URL + "/bad.ics"},
		{ID: "b", URL: srv.URL + "/b.ics"},
	}

	results, errs := f.FetchAll(context.Background(), sources)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Source.ID)
	assert.Equal(t, "/a.ics", string(results[0].Body))
	assert.Equal(t, "b", results[1].Source.ID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "fetch bad")
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/private/token.ics?key=abc", "https://example.com/...(redacted)"},
		{"https://example.com", "https://example.com/...(redacted)"},
		{"not a url", "ics://...(redacted)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactURL(tt.in))
	}
}

func TestFeedURL(t *testing.T) {
	got, err := feedURL("webcal://example.com/team.ics")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/team.ics", got)

	got, err = feedURL("http://example.com/team.ics")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/team.ics", got)

	_, err = feedURL("ftp://example.com/team.ics")
	assert.Error(t, err)
	_, err = feedURL("  ")
	assert.Error(t, err)
}
