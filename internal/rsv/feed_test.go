package rsv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseOverrides(t *testing.T) {
	lookup := map[string]string{}
	input := "_rsv_a | Alpha\nno separator\n_rsv_b|Beta|with pipe\n_rsv_a|Again\n"

	require.NoError(t, ParseOverrides(strings.NewReader(input), lookup))
	assert.Equal(t, map[string]string{
		"_rsv_a": "Again",
		"_rsv_b": "Beta|with pipe",
	}, lookup)
}

func TestHTTPFeed(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/contents", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"name": "global_action.txt", "type": "file"},
			{"name": "global_item.txt", "type": "file", "download_url": "%s/custom/item"},
			{"name": "global_missing.txt", "type": "file"},
			{"name": "korea_action.txt", "type": "file"},
			{"name": "global_dir", "type": "dir"}
		]`, srv.URL)
	})
	mux.HandleFunc("/raw/global_action.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "_rsv_a|Attack\n")
	})
	mux.HandleFunc("/custom/item", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "_rsv_i|Potion\n")
	})
	mux.HandleFunc("/raw/korea_action.txt", func(w http.ResponseWriter, r *http.Request) {
		t.Error("non-prefixed file must not be fetched")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{
		ListURL:           srv.URL + "/contents",
		RawBaseURL:        srv.URL + "/raw/",
		Prefix:            "global_",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
	}, zap.NewNop())

	lookup, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"_rsv_a": "Attack", "_rsv_i": "Potion"}, lookup)
}

func TestHTTPFeedListFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{ListURL: srv.URL, Prefix: "global_", Timeout: time.Second}, zap.NewNop())
	_, err := feed.Fetch(context.Background())
	assert.Error(t, err)
}

func TestMultiFeed(t *testing.T) {
	first := &mapFeed{lookup: map[string]string{"a": "first"}}
	second := &mapFeed{lookup: map[string]string{"a": "second", "b": "second"}}
	broken := &mapFeed{err: errors.New("down")}

	lookup, err := NewMultiFeed(zap.NewNop(), first, broken, second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "first", "b": "second"}, lookup)

	_, err = NewMultiFeed(zap.NewNop(), broken).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFileFeed(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "global_a.txt")
	second := filepath.Join(dir, "global_b.txt")
	require.NoError(t, os.WriteFile(first, []byte("_rsv_a|Alpha\n_rsv_b|Beta\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("_rsv_b|Bravo\n"), 0o644))

	feed := NewFileFeed([]string{first, filepath.Join(dir, "missing.txt"), second}, zap.NewNop())
	lookup, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"_rsv_a": "Alpha", "_rsv_b": "Bravo"}, lookup)
}

type memCache struct {
	mapFeed
	stored map[string]string
	ttl    time.Duration
}

func (c *memCache) Put(_ context.Context, lookup map[string]string, ttl time.Duration) error {
	c.stored = lookup
	c.ttl = ttl
	return nil
}

func TestCachedFeed(t *testing.T) {
	t.Run("cache hit skips origin", func(t *testing.T) {
		cache := &memCache{mapFeed: mapFeed{lookup: map[string]string{"a": "cached"}}}
		origin := &mapFeed{lookup: map[string]string{"a": "origin"}}

		lookup, err := NewCachedFeed(cache, origin, time.Hour, zap.NewNop()).Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached", lookup["a"])
		assert.Equal(t, 0, origin.calls)
	})

	t.Run("miss refills cache", func(t *testing.T) {
		cache := &memCache{mapFeed: mapFeed{err: errors.New("connection refused")}}
		origin := &mapFeed{lookup: map[string]string{"a": "origin"}}

		lookup, err := NewCachedFeed(cache, origin, time.Hour, zap.NewNop()).Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "origin", lookup["a"])
		assert.Equal(t, map[string]string{"a": "origin"}, cache.stored)
		assert.Equal(t, time.Hour, cache.ttl)
	})
}

func TestMaskRedisURL(t *testing.T) {
	assert.Equal(t, "redis://:***@cache:6379/0", maskRedisURL("redis://:secret@cache:6379/0"))
	assert.Equal(t, "redis://cache:6379/0", maskRedisURL("redis://cache:6379/0"))
}
