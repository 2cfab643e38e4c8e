package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pbaille/tweetpipe/internal/domain"
)

const (
	// HistoryFile is the history document name inside the data directory
	HistoryFile = "tweetpipe.json"

	// KeyLayout is the ISO-8601 form used for history keys (UTC, millisecond precision)
	KeyLayout = "2006-01-02T15:04:05.000Z"

	// DefaultRetention is how long a batch is kept by Prune when no retention is given
	DefaultRetention = 7 * 24 * time.Hour
)

// HistoryStore owns the timestamp-keyed history document
type HistoryStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewHistoryStore creates a store backed by dir/tweetpipe.json
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{
		path: filepath.Join(dir, HistoryFile),
		now:  time.Now,
	}
}

// WithClock replaces the time source, mainly for tests
func (s *HistoryStore) WithClock(now func() time.Time) *HistoryStore {
	s.now = now
	return s
}

// Path returns the backing file location
func (s *HistoryStore) Path() string {
	return s.path
}

// FormatKey renders t as a history key
func FormatKey(t time.Time) string {
	return t.UTC().Format(KeyLayout)
}

// ParseKey parses a history key
func ParseKey(key string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, key)
}

// AppendBatch stores drafts under a new timestamp key and returns that key
func (s *HistoryStore) AppendBatch(ctx context.Context, drafts []domain.Draft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return "", err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	if t, err := ParseKey(latestKey(history)); err == nil && !now.After(t) {
		// Clock went backwards or two runs landed in the same millisecond.
		now = t.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	key := FormatKey(now)

	batch := make([]domain.Draft, len(drafts))
	copy(batch, drafts)
	history[key] = batch

	if err := writeJSON(s.path, history); err != nil {
		return "", err
	}
	return key, nil
}

// ReadAll returns the whole history; an untouched store yields an empty map
func (s *HistoryStore) ReadAll(ctx context.Context) (domain.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// ReadLatest returns the batch stored under the most recent timestamp key
func (s *HistoryStore) ReadLatest(ctx context.Context) ([]domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return nil, err
	}
	key := latestKey(history)
	if key == "" {
		return []domain.Draft{}, nil
	}
	return history[key], nil
}

// Prune removes every batch older than now minus retention.
// A non-positive retention means DefaultRetention. Keys that are not
// timestamps are kept.
func (s *HistoryStore) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-retention)
	removed := 0
	for key := range history {
		t, err := ParseKey(key)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			delete(history, key)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	if err := writeJSON(s.path, history); err != nil {
		return 0, err
	}
	return removed, nil
}

// SortedKeys returns the keys of h oldest first, ordered by the instant they
// name rather than their spelling. Keys that are not timestamps sort first.
func SortedKeys(h domain.History) []string {
	type entry struct {
		key string
		at  time.Time
		ok  bool
	}
	entries := make([]entry, 0, len(h))
	for k := range h {
		t, err := ParseKey(k)
		entries = append(entries, entry{key: k, at: t, ok: err == nil})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ok != b.ok {
			return !a.ok
		}
		if a.ok && !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.key < b.key
	})

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// load must be called with mu held
func (s *HistoryStore) load() (domain.History, error) {
	history := domain.History{}
	exists, err := readJSON(s.path, &history)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := writeJSON(s.path, history); err != nil {
			return nil, err
		}
	}
	if history == nil {
		history = domain.History{}
	}
	return history, nil
}

func latestKey(h domain.History) string {
	keys := SortedKeys(h)
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}
