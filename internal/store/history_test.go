package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out a fixed time that tests move by hand
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestHistory(t *testing.T, start time.Time) (*HistoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: start}
	return NewHistoryStore(t.TempDir()).WithClock(clock.now), clock
}

func batch(n int, prefix string) []domain.Draft {
	out := make([]domain.Draft, n)
	for i := range out {
		out[i] = domain.Draft{ID: fmt.Sprintf("%s-%d", prefix, i), Tweet: fmt.Sprintf("%s tweet %d", prefix, i)}
	}
	return out
}

func TestHistoryStore_EmptyWhenNeverWritten(t *testing.T) {
	s, _ := newTestHistory(t, time.Now())
	ctx := context.Background()

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)

	latest, err := s.ReadLatest(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = os.Stat(s.Path())
	assert.NoError(t, err, "history file should be created on first access")
}

func TestHistoryStore_AppendAndReadLatest(t *testing.T) {
	s, clock := newTestHistory(t, time.Date(2024, 11, 2, 9, 30, 0, 0, time.UTC))
	ctx := context.Background()

	var keys []string
	for i := 0; i < 4; i++ {
		drafts := batch(i+1, fmt.Sprintf("run%d", i))
		key, err := s.AppendBatch(ctx, drafts)
		require.NoError(t, err)
		keys = append(keys, key)

		latest, err := s.ReadLatest(ctx)
		require.NoError(t, err)
		assert.Equal(t, drafts, latest)

		all, err := s.ReadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, i+1)

		clock.advance(30 * time.Minute)
	}

	assert.Equal(t, "2024-11-02T09:30:00.000Z", keys[0])
	assert.Equal(t, keys, SortedKeys(mustReadAll(t, s)))
}

func TestHistoryStore_KeysStrictlyIncreaseOnSameInstant(t *testing.T) {
	s, clock := newTestHistory(t, time.Date(2024, 11, 2, 9, 30, 0, 0, time.UTC))
	ctx := context.Background()

	k1, err := s.AppendBatch(ctx, batch(1, "a"))
	require.NoError(t, err)
	k2, err := s.AppendBatch(ctx, batch(1, "b"))
	require.NoError(t, err)

	clock.advance(-time.Hour)
	k3, err := s.AppendBatch(ctx, batch(1, "c"))
	require.NoError(t, err)

	assert.Less(t, k1, k2)
	assert.Less(t, k2, k3)
	assert.Len(t, mustReadAll(t, s), 3)

	latest, err := s.ReadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-0", latest[0].ID)
}

func TestHistoryStore_PruneKeepsRecentBatches(t *testing.T) {
	start := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	s, clock := newTestHistory(t, start)
	ctx := context.Background()

	for day := 0; day < 10; day++ {
		_, err := s.AppendBatch(ctx, batch(2, fmt.Sprintf("day%d", day)))
		require.NoError(t, err)
		clock.advance(24 * time.Hour)
	}
	before := mustReadAll(t, s)

	removed, err := s.Prune(ctx, 7*24*time.Hour)
	require.NoError(t, err)

	after := mustReadAll(t, s)
	cutoff := clock.now().Add(-7 * 24 * time.Hour)
	assert.Equal(t, len(before)-len(after), removed)

	for key := range after {
		ts, err := ParseKey(key)
		require.NoError(t, err)
		assert.False(t, ts.Before(cutoff), "key %s is older than cutoff", key)
	}
	for key, drafts := range before {
		ts, err := ParseKey(key)
		require.NoError(t, err)
		if !ts.Before(cutoff) {
			assert.Equal(t, drafts, after[key])
		}
	}

	again, err := s.Prune(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, after, mustReadAll(t, s))
}

func TestHistoryStore_PruneDefaultsAndForeignKeys(t *testing.T) {
	now := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)
	s, _ := newTestHistory(t, now)
	ctx := context.Background()

	doc := `{
  "2024-11-01T00:00:00.000Z": [{"id": "old", "tweet": "old"}],
  "2024-11-13T00:00:00.000Z": [{"id": "edge", "tweet": "exactly seven days"}],
  "2024-11-19T08:00:00.000Z": [{"id": "new", "tweet": "new"}],
  "not-a-timestamp": [{"id": "odd", "tweet": "odd"}]
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0644))

	removed, err := s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	after := mustReadAll(t, s)
	assert.Equal(t, []string{"not-a-timestamp", "2024-11-13T00:00:00.000Z", "2024-11-19T08:00:00.000Z"}, SortedKeys(after))
}

func TestHistoryStore_LatestByInstantNotSpelling(t *testing.T) {
	s, _ := newTestHistory(t, time.Date(2026, 10, 17, 12, 0, 0, 500_000_000, time.UTC))
	ctx := context.Background()

	// "Z" sorts above "." so a string comparison would keep the hand-written key on top
	doc := `{
  "2026-10-17T12:00:00Z": [{"id": "seconds", "tweet": "no millis"}],
  "zz-imported": [{"id": "foreign", "tweet": "not a timestamp"}]
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0644))

	key, err := s.AppendBatch(ctx, batch(1, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17T12:00:00.500Z", key)

	latest, err := s.ReadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "fresh-0", latest[0].ID)

	assert.Equal(t, []string{"zz-imported", "2026-10-17T12:00:00Z", "2026-10-17T12:00:00.500Z"}, SortedKeys(mustReadAll(t, s)))
}

func TestHistoryStore_BumpsPastLatestInstant(t *testing.T) {
	s, _ := newTestHistory(t, time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	doc := `{"2026-10-17T13:00:00Z": [{"id": "ahead", "tweet": "written by a clock running ahead"}]}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0644))

	key, err := s.AppendBatch(ctx, batch(1, "next"))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17T13:00:00.001Z", key)

	latest, err := s.ReadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "next-0", latest[0].ID)
}

func TestSortedKeys_OnlyForeignKeys(t *testing.T) {
	h := domain.History{"b": nil, "a": nil}
	assert.Equal(t, []string{"a", "b"}, SortedKeys(h))
	assert.Equal(t, "b", latestKey(h))
	assert.Empty(t, latestKey(domain.History{}))
}

func TestHistoryStore_CorruptDocumentIsStorageError(t *testing.T) {
	s, _ := newTestHistory(t, time.Now())
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[1,2,3]`), 0644))

	_, err := s.ReadAll(context.Background())
	assert.Error(t, err)

	_, err = s.AppendBatch(context.Background(), batch(1, "x"))
	assert.Error(t, err)
}

func mustReadAll(t *testing.T, s *HistoryStore) domain.History {
	t.Helper()
	h, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	return h
}
