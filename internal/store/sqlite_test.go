package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_ImplementsStore(_ *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}

// --- Collections ---

func TestSQLite_Collections_CRUD(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c, err := st.CreateCollection(ctx, "Boulangeries Lyon")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	got, err := st.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Boulangeries Lyon", got.Name)
	assert.Equal(t, 0, got.ItemCount)

	all, err := st.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.DeleteCollection(ctx, c.ID))
	_, err = st.GetCollection(ctx, c.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_DeleteCollection_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.DeleteCollection(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_DeleteCollection_ReleasesFingerprints(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateCollection(ctx, "A")
	require.NoError(t, err)
	b, err := st.CreateCollection(ctx, "B")
	require.NoError(t, err)

	_, inserted, err := st.InsertFingerprint(ctx, "WEB:acme.fr", a.ID, "acme")
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, st.DeleteCollection(ctx, a.ID))

	owner, inserted, err := st.InsertFingerprint(ctx, "WEB:acme.fr", b.ID, "acme")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, b.ID, owner)
}

// --- Records ---

func TestSQLite_PutRecord_UpsertCountsOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c, err := st.CreateCollection(ctx, "Paris")
	require.NoError(t, err)

	rec := &model.Record{Name: "Acme", Phone: "01 23 45 67 89"}
	require.NoError(t, st.PutRecord(ctx, c.ID, "WEB:acme.fr", rec))
	rec.Email = "contact@acme.fr"
	require.NoError(t, st.PutRecord(ctx, c.ID, "WEB:acme.fr", rec))
	require.NoError(t, st.PutRecord(ctx, c.ID, "WEB:other.fr", &model.Record{Name: "Other"}))

	got, err := st.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ItemCount)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	recs, err := st.GetAll(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var acme model.Record
	for _, r := range recs {
		if r.Name == "Acme" {
			acme = r
		}
	}
	assert.Equal(t, "contact@acme.fr", acme.Email)
}

func TestSQLite_HasRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c, err := st.CreateCollection(ctx, "Paris")
	require.NoError(t, err)

	// A claimed fingerprint is not a stored record.
	_, inserted, err := st.InsertFingerprint(ctx, "WEB:acme.fr", c.ID, "acme")
	require.NoError(t, err)
	require.True(t, inserted)

	has, err := st.HasRecord(ctx, c.ID, "WEB:acme.fr")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, st.PutRecord(ctx, c.ID, "WEB:acme.fr", &model.Record{Name: "Acme"}))
	has, err = st.HasRecord(ctx, c.ID, "WEB:acme.fr")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = st.HasRecord(ctx, "other", "WEB:acme.fr")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLite_PutRecord_UnknownCollection(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.PutRecord(context.Background(), "ghost", "fp", &model.Record{Name: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Fingerprints ---

func TestSQLite_InsertFingerprint_FirstWriterWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	owner, inserted, err := st.InsertFingerprint(ctx, "GEO:acme|1rue", "c1", "acme")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "c1", owner)

	owner, inserted, err = st.InsertFingerprint(ctx, "GEO:acme|1rue", "c2", "acme")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "c1", owner)
}

func TestSQLite_InsertFingerprint_SameClaimantIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.InsertFingerprint(ctx, "WEB:acme.fr", "c1", "acme lyon")
	require.NoError(t, err)

	_, inserted, err := st.InsertFingerprint(ctx, "WEB:acme.fr", "c1", "acme lyon")
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = st.InsertFingerprint(ctx, "WEB:acme.fr", "c1", "acme paris")
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSQLite_InsertFingerprint_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, inserted, err := st.InsertFingerprint(ctx, "WEB:race.fr", string(rune('a'+i)), "race")
			if err == nil && inserted {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

// --- Blobs ---

func TestSQLite_Blobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	data, err := st.GetBlob(ctx, "cache:missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, st.PutBlob(ctx, "cache:a", []byte("one")))
	require.NoError(t, st.PutBlob(ctx, "cache:a", []byte("two")))
	require.NoError(t, st.PutBlob(ctx, "cache:b", []byte("three")))
	require.NoError(t, st.PutBlob(ctx, "checkpoint:batch", []byte("cp")))

	data, err = st.GetBlob(ctx, "cache:a")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	all, err := st.ListBlobs(ctx, "cache:")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := st.DeleteBlobs(ctx, "cache:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err = st.GetBlob(ctx, "checkpoint:batch")
	require.NoError(t, err)
	assert.Equal(t, "cp", string(data))

	require.NoError(t, st.DeleteBlob(ctx, "checkpoint:batch"))
	data, err = st.GetBlob(ctx, "checkpoint:batch")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLite_ListBlobs_PrefixIsLiteral(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutBlob(ctx, "a_b", []byte("1")))
	require.NoError(t, st.PutBlob(ctx, "axb", []byte("2")))

	all, err := st.ListBlobs(ctx, "a_")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "a_b")
}

// --- Usage and failures ---

func TestSQLite_Usage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordUsage(ctx, model.UsageEvent{Strategy: "standard", Calls: 3, Cost: 3}))
	require.NoError(t, st.RecordUsage(ctx, model.UsageEvent{Strategy: "standard", Calls: 1, Cost: 1}))
	require.NoError(t, st.RecordUsage(ctx, model.UsageEvent{Strategy: "deep", Calls: 2, Cost: 6}))

	totals, err := st.UsageTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, model.UsageTotal{Strategy: "deep", Calls: 2, Cost: 6}, totals[0])
	assert.Equal(t, model.UsageTotal{Strategy: "standard", Calls: 4, Cost: 4}, totals[1])
}

func TestSQLite_Failures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordFailure(ctx, model.FailedQuery{Query: "acme lyon", Strategy: "standard", Error: "503", ErrorKind: "transient_upstream"}))
	require.NoError(t, st.RecordFailure(ctx, model.FailedQuery{Query: "foo", Strategy: "deep"}))

	list, err := st.ListFailures(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := st.ClearFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err = st.ListFailures(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
