package negotiation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/model"
)

// ProfileFetcher fetches and caches platform profiles.
type ProfileFetcher interface {
	Fetch(ctx context.Context, profileURL string) (*PlatformProfile, error)
}

// DefaultCacheTTL is used when HTTP cache headers don't specify a duration.
const DefaultCacheTTL = 5 * time.Minute

// DefaultFetchTimeout bounds a single profile fetch.
const DefaultFetchTimeout = 5 * time.Second

// MaxCacheEntries limits the number of cached profiles (LRU eviction).
const MaxCacheEntries = 1000

// maxProfileBytes caps the profile body read from the network.
const maxProfileBytes = 1 << 20

// ProfileFetcherConfig contains configuration for the profile fetcher.
type ProfileFetcherConfig struct {
	CacheTTL     time.Duration // Default TTL when not specified by cache headers
	FetchTimeout time.Duration // HTTP timeout for fetching profiles
	MaxEntries   int           // Max cache entries (0 = default)

	// Transport overrides the outbound round tripper, e.g. transport.NewFingerprintTransport.
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
}

// HTTPProfileFetcher fetches platform profiles over HTTP with caching.
// Honors Cache-Control max-age, Expires and ETag revalidation.
type HTTPProfileFetcher struct {
	client     *http.Client
	inflight   singleflight.Group // one network fetch per URL at a time
	cache      map[string]*cacheEntry
	cacheMu    sync.RWMutex
	config     ProfileFetcherConfig
	accessList []string // LRU tracking: most recent at end
}

type cacheEntry struct {
	profile   *PlatformProfile
	expiresAt time.Time
	etag      string
}

// NewHTTPProfileFetcher creates a profile fetcher with default config.
func NewHTTPProfileFetcher() *HTTPProfileFetcher {
	return NewHTTPProfileFetcherWithConfig(ProfileFetcherConfig{})
}

// NewHTTPProfileFetcherWithConfig creates a profile fetcher with custom config.
// Zero values fall back to the package defaults.
func NewHTTPProfileFetcherWithConfig(config ProfileFetcherConfig) *HTTPProfileFetcher {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = MaxCacheEntries
	}

	return &HTTPProfileFetcher{
		client: &http.Client{
			Timeout:   config.FetchTimeout,
			Transport: config.Transport,
		},
		cache:      make(map[string]*cacheEntry),
		config:     config,
		accessList: make([]string, 0, config.MaxEntries),
	}
}

// Fetch retrieves a platform profile, using cache when possible.
// A stale entry is revalidated with its ETag; if the network fails,
// the stale entry is returned.
func (f *HTTPProfileFetcher) Fetch(ctx context.Context, profileURL string) (*PlatformProfile, error) {
	f.cacheMu.RLock()
	entry, exists := f.cache[profileURL]
	f.cacheMu.RUnlock()

	if exists && entry.expiresAt.After(time.Now()) {
		f.recordAccess(profileURL)
		return entry.profile, nil
	}

	// Concurrent misses for the same URL share one request. The shared fetch
	// outlives any single caller's cancellation; the client timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := f.inflight.DoChan(profileURL, func() (any, error) {
		start := time.Now()
		defer func() { f.config.Metrics.ObserveFetch(time.Since(start)) }()
		return f.fetchFromNetwork(fetchCtx, profileURL, entry)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if exists {
			return entry.profile, nil
		}
		return nil, fmt.Errorf("fetch platform profile: %w", res.Err)
	}

	return res.Val.(*PlatformProfile), nil
}

func (f *HTTPProfileFetcher) fetchFromNetwork(ctx context.Context, profileURL string, staleEntry *cacheEntry) (*PlatformProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if staleEntry != nil && staleEntry.etag != "" {
		req.Header.Set("If-None-Match", staleEntry.etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && staleEntry != nil {
		f.updateCacheEntry(profileURL, staleEntry.profile, resp)
		return staleEntry.profile, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, profileURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	doc, err := model.ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	profile := &PlatformProfile{
		Document:   doc,
		ProfileURL: profileURL,
		FetchedAt:  time.Now(),
	}
	f.updateCacheEntry(profileURL, profile, resp)

	return profile, nil
}

func (f *HTTPProfileFetcher) updateCacheEntry(url string, profile *PlatformProfile, resp *http.Response) {
	expiresAt := time.Now().Add(f.parseCacheTTL(resp))

	// Cached profiles are shared between requests; never mutate one in place.
	refreshed := *profile
	refreshed.ExpiresAt = expiresAt

	entry := &cacheEntry{
		profile:   &refreshed,
		expiresAt: expiresAt,
		etag:      resp.Header.Get("ETag"),
	}
	if entry.etag == "" && resp.StatusCode == http.StatusNotModified {
		f.cacheMu.RLock()
		if old, ok := f.cache[url]; ok {
			entry.etag = old.etag
		}
		f.cacheMu.RUnlock()
	}

	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	if _, ok := f.cache[url]; !ok && len(f.cache) >= f.config.MaxEntries {
		f.evictOldest()
	}

	f.cache[url] = entry
	f.recordAccessLocked(url)
}

// parseCacheTTL extracts TTL from HTTP cache headers.
// Priority: no-store, then max-age in Cache-Control, then Expires, then default.
func (f *HTTPProfileFetcher) parseCacheTTL(resp *http.Response) time.Duration {
	cc := resp.Header.Get("Cache-Control")
	if cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			if directive == "no-store" || directive == "no-cache" {
				return 0
			}
			if strings.HasPrefix(directive, "max-age=") {
				if seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil && seconds >= 0 {
					return time.Duration(seconds) * time.Second
				}
			}
		}
	}

	if expires := resp.Header.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			if ttl := time.Until(t); ttl > 0 {
				return ttl
			}
		}
	}

	return f.config.CacheTTL
}

func (f *HTTPProfileFetcher) recordAccess(url string) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.recordAccessLocked(url)
}

func (f *HTTPProfileFetcher) recordAccessLocked(url string) {
	for i, u := range f.accessList {
		if u == url {
			f.accessList = append(f.accessList[:i], f.accessList[i+1:]...)
			break
		}
	}
	f.accessList = append(f.accessList, url)
}

func (f *HTTPProfileFetcher) evictOldest() {
	if len(f.accessList) == 0 {
		return
	}
	oldest := f.accessList[0]
	f.accessList = f.accessList[1:]
	delete(f.cache, oldest)
}

// Len returns the number of cached profiles.
func (f *HTTPProfileFetcher) Len() int {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	return len(f.cache)
}

// ClearCache removes all cached entries.
func (f *HTTPProfileFetcher) ClearCache() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache = make(map[string]*cacheEntry)
	f.accessList = make([]string, 0, f.config.MaxEntries)
}
