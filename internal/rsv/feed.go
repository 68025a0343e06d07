package rsv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Feed supplies external key -> value overrides.
type Feed interface {
	Fetch(ctx context.Context) (map[string]string, error)
	Name() string
}

// Cache is a Feed that can also store a lookup table.
type Cache interface {
	Feed
	Put(ctx context.Context, lookup map[string]string, ttl time.Duration) error
}

// MultiFeed merges several feeds; for a key present in more than one feed the
// earlier feed wins. A failing feed is logged and skipped.
type MultiFeed struct {
	feeds  []Feed
	logger *zap.Logger
}

// NewMultiFeed creates a MultiFeed over feeds in priority order.
func NewMultiFeed(logger *zap.Logger, feeds ...Feed) *MultiFeed {
	return &MultiFeed{feeds: feeds, logger: logger}
}

// Name implements Feed.
func (m *MultiFeed) Name() string {
	names := make([]string, len(m.feeds))
	for i, f := range m.feeds {
		names[i] = f.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Fetch implements Feed. It fails only when every feed failed.
func (m *MultiFeed) Fetch(ctx context.Context) (map[string]string, error) {
	merged := make(map[string]string)
	var errs []error

	for _, feed := range m.feeds {
		lookup, err := feed.Fetch(ctx)
		if err != nil {
			m.logger.Warn("Override feed failed, skipping",
				zap.String("feed", feed.Name()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		for k, v := range lookup {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}

	if len(m.feeds) > 0 && len(errs) == len(m.feeds) {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}

// CachedFeed serves lookups from a cache and refills it from an origin feed
// when the cache is empty or unavailable.
type CachedFeed struct {
	cache  Cache
	origin Feed
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedFeed creates a CachedFeed.
func NewCachedFeed(cache Cache, origin Feed, ttl time.Duration, logger *zap.Logger) *CachedFeed {
	return &CachedFeed{cache: cache, origin: origin, ttl: ttl, logger: logger}
}

// Name implements Feed.
func (c *CachedFeed) Name() string {
	return c.cache.Name() + "+" + c.origin.Name()
}

// Fetch implements Feed.
func (c *CachedFeed) Fetch(ctx context.Context) (map[string]string, error) {
	lookup, err := c.cache.Fetch(ctx)
	if err == nil && len(lookup) > 0 {
		c.logger.Debug("Override cache hit", zap.Int("entries", len(lookup)))
		return lookup, nil
	}
	if err != nil {
		c.logger.Warn("Override cache unavailable", zap.Error(err))
	}

	lookup, err = c.origin.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if len(lookup) > 0 {
		if err := c.cache.Put(ctx, lookup, c.ttl); err != nil {
			c.logger.Warn("Failed to refill override cache", zap.Error(err))
		}
	}
	return lookup, nil
}

// ParseOverrides reads "key|value" lines. Lines without a separator are
// ignored; keys and values are trimmed; later lines win.
func ParseOverrides(r io.Reader, into map[string]string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "|")
		if !ok {
			continue
		}
		into[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read overrides: %w", err)
	}
	return nil
}

// FileFeed reads "key|value" override files from local disk. Missing files
// are skipped.
type FileFeed struct {
	Paths  []string
	logger *zap.Logger
}

// NewFileFeed creates a FileFeed over paths; later files win.
func NewFileFeed(paths []string, logger *zap.Logger) *FileFeed {
	return &FileFeed{Paths: paths, logger: logger}
}

// Name implements Feed.
func (f *FileFeed) Name() string { return "file" }

// Fetch implements Feed.
func (f *FileFeed) Fetch(ctx context.Context) (map[string]string, error) {
	lookup := make(map[string]string)
	for _, path := range f.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.read(path, lookup); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				f.logger.Debug("Override file not found", zap.String("path", path))
				continue
			}
			return nil, err
		}
	}
	return lookup, nil
}

func (f *FileFeed) read(path string, into map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ParseOverrides(file, into)
}
