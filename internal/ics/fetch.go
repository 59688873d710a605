package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calgrid/internal/log"
)

const (
	userAgent = "calgrid/0.1 (+ics)"

	// maxBodyBytes bounds a single feed download.
	maxBodyBytes = 32 << 20

	// fetchConcurrency bounds parallel feed downloads in FetchAll.
	fetchConcurrency = 4
)

// Source is one subscribed calendar. Color is the default for its events.
type Source struct {
	ID    string
	Name  string
	URL   string
	Color string
}

// FetchResult is the body of one source, fresh or from the disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests and keeps the last
// good body of each feed on disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir
// (e.g. "/var/lib/calgrid/ics-cache").
func NewFetcher(cacheDir string) *Fetcher {
	return NewFetcherWithClient(cacheDir, &http.Client{Timeout: 15 * time.Second})
}

// NewFetcherWithClient is NewFetcher with a caller-provided HTTP client.
func NewFetcherWithClient(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "calgrid-ics-cache")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// FetchAll fetches sources concurrently. Results keep source order and only
// include sources that produced a body; failures are logged and returned
// without stopping the others.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	slots := make([]*FetchResult, len(sources))
	slotErrs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			res, err := f.FetchOne(gctx, src)
			if err != nil {
				slotErrs[i] = fmt.Errorf("fetch %s: %w", src.ID, err)
				appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
				return nil
			}
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)
	for i := range sources {
		if slots[i] != nil {
			results = append(results, *slots[i])
		}
		if slotErrs[i] != nil {
			errs = append(errs, slotErrs[i])
		}
	}
	return results, errs
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// A cached body stands in when the server is unreachable or answers with an
// error status.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	target, err := feedURL(src.URL)
	if err != nil {
		return FetchResult{}, err
	}

	cache, err := f.cacheFor(target)
	if err != nil {
		return FetchResult{}, err
	}
	meta, cached := cache.load()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if cached != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	logURL := redactURL(target)
	appLog.Debug("ics fetch start", "id", src.ID, "url", logURL)

	fromCache := func(reason string, cause error) (FetchResult, error) {
		if cached == nil || ctx.Err() != nil {
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch "+reason+", using cached body", "id", src.ID, "url", logURL, "error", cause.Error())
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache("network error", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fromCache("read error", fmt.Errorf("read body: %w", err))
		}
		next := cacheEntry{
			URL:          target,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := cache.store(next, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", logURL)
		}
		appLog.Info("ics fetch success", "id", src.ID, "url", logURL, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if cached == nil {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", src.ID, "url", logURL)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	default:
		return fromCache("status "+strconv.Itoa(resp.StatusCode), errors.New(resp.Status))
	}
}

// feedURL validates u and rewrites webcal:// subscriptions to https.
func feedURL(u string) (string, error) {
	if strings.TrimSpace(u) == "" {
		return "", errors.New("source URL is empty")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("source URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "webcal", "webcals":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("source URL: unsupported scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

// feedCache is the on-disk copy of one feed: body.ics plus meta.json.
type feedCache struct {
	dir string
}

func (f *Fetcher) cacheFor(u string) (feedCache, error) {
	sum := sha256.Sum256([]byte(u))
	dir := filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return feedCache{}, fmt.Errorf("ics cache dir: %w", err)
	}
	return feedCache{dir: dir}, nil
}

// load returns the cached metadata and body. A nil body means nothing usable
// is cached.
func (c feedCache) load() (cacheEntry, []byte) {
	body, err := os.ReadFile(filepath.Join(c.dir, "body.ics"))
	if err != nil || len(body) == 0 {
		return cacheEntry{}, nil
	}
	var meta cacheEntry
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

func (c feedCache) store(meta cacheEntry, body []byte) error {
	// Body first, so meta never describes a missing body.
	if err := os.WriteFile(filepath.Join(c.dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host of a feed URL for logging; private
// feed paths often embed access tokens.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redacted = "/...(redacted)"
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redacted
}
