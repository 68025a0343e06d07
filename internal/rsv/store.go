// Package rsv persists placeholder tokens and resolves them to text.
//
// A token (a cell value starting with "_rsv_") maps to a [primary, fallback]
// pair. Resolution prefers the primary value, then the fallback, then "".
// Tokens never seen before are recorded with an empty pair so they can be
// filled in by hand or from an external override feed.
package rsv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// RootPrefix is prepended to every referenced path.
const RootPrefix = "rawexd/"

// Pair is [primary, fallback].
type Pair [2]string

// Primary returns the hand-maintained value.
func (p Pair) Primary() string { return p[0] }

// Fallback returns the externally sourced value.
func (p Pair) Fallback() string { return p[1] }

// Value returns primary if set, otherwise fallback.
func (p Pair) Value() string {
	if p[0] != "" {
		return p[0]
	}
	return p[1]
}

// Store is the persistent token store plus per-run reference accounting.
type Store struct {
	path     string
	replacer *table.Replacer
	logger   *zap.Logger

	mu        sync.RWMutex
	tokens    map[string]Pair
	refs      map[string]int
	newTokens bool
}

// NewStore creates an empty store persisted at path.
func NewStore(path string, replacer *table.Replacer, logger *zap.Logger) *Store {
	return &Store{
		path:     path,
		replacer: replacer,
		logger:   logger,
		tokens:   make(map[string]Pair),
		refs:     make(map[string]int),
	}
}

// Path returns the persisted document path.
func (s *Store) Path() string { return s.path }

// Load reads the persisted store. A missing file yields an empty store; an
// unreadable one yields an empty store and an error for the caller to log.
// Legacy single-string values become [value, ""].
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]Pair)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("Token store not found, starting empty", zap.String("path", s.path))
			return nil
		}
		return fmt.Errorf("failed to read token store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	tokens, err := decodeTokens(data)
	if err != nil {
		return fmt.Errorf("failed to parse token store %s: %w", s.path, err)
	}
	s.tokens = tokens

	s.logger.Info("Token store loaded",
		zap.String("path", s.path),
		zap.Int("tokens", len(tokens)),
	)
	return nil
}

func decodeTokens(data []byte) (map[string]Pair, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	tokens := make(map[string]Pair, len(raw))
	for token, value := range raw {
		value = bytes.TrimSpace(value)
		switch {
		case len(value) > 0 && value[0] == '[':
			var items []any
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, fmt.Errorf("token %s: %w", token, err)
			}
			var pair Pair
			for i := 0; i < len(items) && i < 2; i++ {
				pair[i] = text(items[i])
			}
			tokens[token] = pair
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return nil, fmt.Errorf("token %s: %w", token, err)
			}
			tokens[token] = Pair{text(v), ""}
		}
	}
	return tokens, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Save persists the store and clears the new-tokens flag.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s.tokens); err != nil {
		return fmt.Errorf("failed to encode token store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create token store directory: %w", err)
		}
	}
	if err := s.replacer.WriteFile(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}

	s.newTokens = false
	s.logger.Info("Token store saved",
		zap.String("path", s.path),
		zap.Int("tokens", len(s.tokens)),
	)
	return nil
}

// Resolve returns the token's value. An unknown token is recorded with an
// empty pair, flags the store as having new tokens and resolves to "".
func (s *Store) Resolve(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pair, ok := s.tokens[token]; ok {
		return pair.Value()
	}
	s.tokens[token] = Pair{}
	s.newTokens = true
	return ""
}

// Discover records token if unknown, without resolving it. It reports
// whether the token was new.
func (s *Store) Discover(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; ok {
		return false
	}
	s.tokens[token] = Pair{}
	s.newTokens = true
	return true
}

// IsUnresolved reports whether token is unknown or has no primary value.
func (s *Store) IsUnresolved(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.tokens[token]
	return !ok || pair.Primary() == ""
}

// Lookup returns the pair stored for token.
func (s *Store) Lookup(token string) (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.tokens[token]
	return pair, ok
}

// Set stores a pair, replacing any previous value.
func (s *Store) Set(token string, pair Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = pair
}

// NewTokensFound reports whether unknown tokens were added since the last
// Save.
func (s *Store) NewTokensFound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newTokens
}

// Len returns the number of known tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Tokens returns a copy of every token and its pair.
func (s *Store) Tokens() map[string]Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Pair, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Unresolved returns the sorted tokens lacking a primary value.
func (s *Store) Unresolved() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for token, pair := range s.tokens {
		if pair.Primary() == "" {
			out = append(out, token)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizePath converts a path relative to the table root into the
// reference form: locale suffix stripped, forward slashes, RootPrefix.
func NormalizePath(relPath string) string {
	clean := table.CanonicalName(strings.ReplaceAll(relPath, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	if !strings.HasPrefix(clean, RootPrefix) {
		clean = RootPrefix + clean
	}
	return clean
}

// RecordReference notes that relPath referenced a token, counting it when the
// token is still unresolved. Every referenced path is tracked, even with a
// zero count.
func (s *Store) RecordReference(relPath string, unresolved bool) {
	key := NormalizePath(relPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.refs[key]
	if unresolved {
		count++
	}
	s.refs[key] = count
}

// IsReferenced reports whether relPath referenced any token this run.
func (s *Store) IsReferenced(relPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.refs[NormalizePath(relPath)]
	return ok
}

// References returns a copy of the per-path unresolved counts.
func (s *Store) References() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.refs))
	for k, v := range s.refs {
		out[k] = v
	}
	return out
}

// ResetReferences clears the per-run reference accounting.
func (s *Store) ResetReferences() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = make(map[string]int)
}

// TransformKey rewrites a token into the key form used by the override feed:
// a fifth "_"-separated segment equal to "6" becomes "1".
func TransformKey(token string) string {
	parts := strings.Split(token, "_")
	if len(parts) > 4 && parts[4] == "6" {
		parts[4] = "1"
		return strings.Join(parts, "_")
	}
	return token
}

// SyncExternalOverrides fills empty fallback values from feed. Primary
// values and non-empty fallbacks are never overwritten. The store is saved
// when anything was filled. It returns the number of filled tokens.
func (s *Store) SyncExternalOverrides(ctx context.Context, feed Feed) (int, error) {
	lookup, err := feed.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch overrides from %s: %w", feed.Name(), err)
	}
	if len(lookup) == 0 {
		s.logger.Info("Override feed returned no entries", zap.String("feed", feed.Name()))
		return 0, nil
	}

	filled := 0
	s.mu.Lock()
	for token, pair := range s.tokens {
		if pair.Fallback() != "" {
			continue
		}
		if value, ok := lookup[TransformKey(token)]; ok && value != "" {
			pair[1] = value
			s.tokens[token] = pair
			filled++
		}
	}
	s.mu.Unlock()

	if filled == 0 {
		return 0, nil
	}

	s.logger.Info("Synced token overrides",
		zap.String("feed", feed.Name()),
		zap.Int("filled", filled),
	)
	if err := s.Save(); err != nil {
		return filled, err
	}
	return filled, nil
}
