package rsv

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPFeed lists an override directory through a repository contents API
// and downloads every file carrying Prefix.
type HTTPFeed struct {
	ListURL    string
	RawBaseURL string
	Prefix     string

	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// HTTPFeedConfig configures an HTTPFeed.
type HTTPFeedConfig struct {
	ListURL           string        `yaml:"list_url" mapstructure:"list_url"`
	RawBaseURL        string        `yaml:"raw_base_url" mapstructure:"raw_base_url"`
	Prefix            string        `yaml:"prefix" mapstructure:"prefix"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// NewHTTPFeed creates an HTTPFeed.
func NewHTTPFeed(cfg HTTPFeedConfig, logger *zap.Logger) *HTTPFeed {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &HTTPFeed{
		ListURL:    cfg.ListURL,
		RawBaseURL: cfg.RawBaseURL,
		Prefix:     cfg.Prefix,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// Name implements Feed.
func (f *HTTPFeed) Name() string { return "http" }

type contentEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// Fetch implements Feed. A file that fails to download is logged and skipped.
func (f *HTTPFeed) Fetch(ctx context.Context) (map[string]string, error) {
	entries, err := f.list(ctx)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]string)
	fetched := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name, f.Prefix) || (entry.Type != "" && entry.Type != "file") {
			continue
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		url := entry.DownloadURL
		if url == "" {
			url = strings.TrimSuffix(f.RawBaseURL, "/") + "/" + entry.Name
		}
		if err := f.fetchFile(ctx, url, lookup); err != nil {
			f.logger.Warn("Failed to fetch override file",
				zap.String("file", entry.Name),
				zap.Error(err),
			)
			continue
		}
		fetched++
	}

	f.logger.Info("Override files fetched",
		zap.Int("files", fetched),
		zap.Int("entries", len(lookup)),
	)
	return lookup, nil
}

func (f *HTTPFeed) list(ctx context.Context) ([]contentEntry, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := f.get(ctx, f.ListURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer resp.Body.Close()

	var entries []contentEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode override listing: %w", err)
	}
	return entries, nil
}

func (f *HTTPFeed) fetchFile(ctx context.Context, url string, into map[string]string) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return ParseOverrides(resp.Body, into)
}

func (f *HTTPFeed) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp, nil
}
