package flagstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testFlag(id, date string, articleID int, cutoff time.Time) model.FlaggedItem {
	return model.FlaggedItem{
		ID:        id,
		Date:      date,
		ArticleID: articleID,
		UserID:    "u1",
		Cutoff:    cutoff.Format(time.RFC3339),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Name:      "M1 Herzhaftes",
	}
}

func TestAddIsIdempotent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)

	flag := testFlag("2026-02-10_101", "2026-02-10", 101, time.Now().Add(24*time.Hour))

	added, err := store.Add(flag)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.Add(flag)
	require.NoError(t, err)
	assert.False(t, added, "second add of the same id must be rejected")
	assert.Equal(t, 1, store.Len())
}

func TestRemove(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)

	flag := testFlag("2026-02-10_101", "2026-02-10", 101, time.Now().Add(24*time.Hour))
	_, err = store.Add(flag)
	require.NoError(t, err)

	removed, err := store.Remove(flag.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(flag.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok := store.Get(flag.ID)
	assert.False(t, ok)
}

func TestPruneExpired(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)

	now := time.Now()
	past := testFlag("2026-02-01_202", "2026-02-01", 202, now.Add(-time.Hour))
	future := testFlag("2026-02-10_101", "2026-02-10", 101, now.Add(24*time.Hour))
	for _, f := range []model.FlaggedItem{past, future} {
		_, err := store.Add(f)
		require.NoError(t, err)
	}

	count, err := store.PruneExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok := store.Get(past.ID)
	assert.False(t, ok, "expired flag must be removed")
	_, ok = store.Get(future.ID)
	assert.True(t, ok, "live flag must survive pruning")

	count, err = store.PruneExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "second prune must be a no-op")
}

func TestUnparsableCutoffIsNotPruned(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)

	flag := testFlag("2026-02-10_101", "2026-02-10", 101, time.Now())
	flag.Cutoff = "not a timestamp"
	_, err = store.Add(flag)
	require.NoError(t, err)

	count, err := store.PruneExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFlagsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	log := testLogger()

	store, err := Open(path, log)
	require.NoError(t, err)
	flag := testFlag("2026-02-10_101", "2026-02-10", 101, time.Now().Add(24*time.Hour))
	_, err = store.Add(flag)
	require.NoError(t, err)

	reopened, err := Open(path, log)
	require.NoError(t, err)
	got, ok := reopened.Get(flag.ID)
	require.True(t, ok)
	assert.Equal(t, flag, got)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestMissingFileStartsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)
	assert.Empty(t, store.ListAll())
}

func TestListAllOrderedByID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "flags.json"), testLogger())
	require.NoError(t, err)

	cutoff := time.Now().Add(24 * time.Hour)
	for _, id := range []string{"2026-02-12_303", "2026-02-10_101", "2026-02-11_202"} {
		_, err := store.Add(testFlag(id, id[:10], 1, cutoff))
		require.NoError(t, err)
	}

	all := store.ListAll()
	require.Len(t, all, 3)
	assert.Equal(t, "2026-02-10_101", all[0].ID)
	assert.Equal(t, "2026-02-11_202", all[1].ID)
	assert.Equal(t, "2026-02-12_303", all[2].ID)
}
