package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/vault"
)

type memBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs { return &memBlobs{data: make(map[string][]byte)} }

func (m *memBlobs) GetBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memBlobs) PutBlob(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("disk full")
	}
	m.data[key] = data
	return nil
}

func (m *memBlobs) DeleteBlob(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobs) ListBlobs(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memBlobs) DeleteBlobs(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memBlobs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testSealer(t *testing.T) *vault.Sealer {
	t.Helper()
	s, err := vault.NewSealer("test-pass", "test-salt", 1000)
	require.NoError(t, err)
	return s
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *memBlobs, *clock) {
	t.Helper()
	blobs := newMemBlobs()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return New(blobs, testSealer(t), opts...), blobs, clk
}

func sampleRecord() model.Record {
	return model.Record{
		Name:    "Boulangerie Dupont",
		Status:  "Ouvert",
		Address: "12 rue de la Paix, Paris",
		Phone:   "01 23 45 67 89",
		Phones:  []string{"01 23 45 67 89"},
		Website: "https://boulangerie-dupont.fr",
	}
}

func TestKey_FoldsQuery(t *testing.T) {
	assert.Equal(t, Key("standard", "  Café   de l'ÉGLISE "), Key("Standard", "cafe de l'eglise"))
	assert.NotEqual(t, Key("standard", "acme"), Key("deep", "acme"))
}

func TestSetGet_RoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	rec := sampleRecord()

	c.Set(ctx, "k", rec)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, rec, *got)
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "k", sampleRecord())

	got, _ := c.Get(ctx, "k")
	got.Phones[0] = "mutated"

	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "01 23 45 67 89", again.Phones[0])
}

func TestGet_ExpiredIsAbsentAndPurged(t *testing.T) {
	c, blobs, clk := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", sampleRecord(), time.Hour)
	require.Equal(t, 1, blobs.len())

	clk.advance(time.Hour)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, blobs.len())
}

func TestGet_PersistentHitPromotes(t *testing.T) {
	blobs := newMemBlobs()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sealer := testSealer(t)
	ctx := context.Background()

	first := New(blobs, sealer, WithClock(clk.now))
	first.Set(ctx, "k", sampleRecord())

	// A fresh instance has an empty memory tier.
	second := New(blobs, sealer, WithClock(clk.now))
	assert.Equal(t, 0, second.mem.Len())
	got, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "Boulangerie Dupont", got.Name)
	assert.Equal(t, 1, second.mem.Len())
}

func TestMemoryTier_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _, _ := newTestCache(t, WithMemoryEntries(2))
	ctx := context.Background()

	c.Set(ctx, "a", model.Record{Name: "a"})
	c.Set(ctx, "b", model.Record{Name: "b"})
	_, _ = c.Get(ctx, "a")
	c.Set(ctx, "c", model.Record{Name: "c"})

	assert.Equal(t, 2, c.mem.Len())
	_, inMem := c.mem.Get("b")
	assert.False(t, inMem)

	// Evicted entries are still served from the persistent tier.
	got, ok := c.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Name)
}

func TestTTLFor_Policy(t *testing.T) {
	c, _, _ := newTestCache(t, WithBaseTTL(24*time.Hour))

	rich := model.Record{Status: "Ouvert", Emails: []string{"a@b.fr"}, DecisionMakers: []model.DecisionMaker{{Name: "Jean"}}}
	plain := model.Record{Status: "Ouvert"}
	notFound := model.Record{Status: model.StatusNotFound}
	failed := model.ErrorRecord("acme", "timeout")

	assert.Equal(t, 7*24*time.Hour, c.TTLFor(rich))
	assert.Equal(t, 24*time.Hour, c.TTLFor(plain))
	assert.Equal(t, time.Hour, c.TTLFor(notFound))
	assert.Equal(t, time.Hour, c.TTLFor(failed))
	assert.GreaterOrEqual(t, c.TTLFor(rich), c.TTLFor(plain))
}

func TestSet_DynamicTTLApplied(t *testing.T) {
	c, _, clk := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "nf", model.Record{Name: "x", Status: model.StatusNotFound})
	clk.advance(61 * time.Minute)
	_, ok := c.Get(ctx, "nf")
	assert.False(t, ok)
}

func TestSet_PersistentFailureIsSwallowed(t *testing.T) {
	c, blobs, _ := newTestCache(t)
	blobs.failPut = true
	ctx := context.Background()

	c.Set(ctx, "k", sampleRecord())
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "Boulangerie Dupont", got.Name)
}

func TestGet_PlainJSONFallback(t *testing.T) {
	c, blobs, clk := newTestCache(t)
	ctx := context.Background()

	entry := model.CacheEntry{Key: "k", Record: sampleRecord(), CreatedAt: clk.t, ExpiresAt: clk.t.Add(time.Hour)}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	blobs.data[blobKey("k")] = raw

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "Boulangerie Dupont", got.Name)
	assert.True(t, vault.IsSealed(blobs.data[blobKey("k")]), "legacy entry should be re-sealed")
}

func TestGet_LegacyBareRecord(t *testing.T) {
	c, blobs, _ := newTestCache(t)
	raw, err := json.Marshal(sampleRecord())
	require.NoError(t, err)
	blobs.data[blobKey("k")] = raw

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "12 rue de la Paix, Paris", got.Address)
}

func TestGet_GarbageIsAbsent(t *testing.T) {
	c, blobs, _ := newTestCache(t)
	blobs.data[blobKey("k")] = []byte("PV1 not really sealed")

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestListAll_NewestFirstSkipsExpired(t *testing.T) {
	c, blobs, clk := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "old", model.Record{Name: "old"}, time.Hour)
	clk.advance(10 * time.Minute)
	c.Set(ctx, "mid", model.Record{Name: "mid"}, 48*time.Hour)
	clk.advance(10 * time.Minute)
	c.Set(ctx, "new", model.Record{Name: "new"}, 48*time.Hour)

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].Key, all[1].Key, all[2].Key})

	clk.advance(time.Hour)
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, blobs.len())
}

func TestClear(t *testing.T) {
	c, blobs, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "a", model.Record{Name: "a"})
	c.Set(ctx, "b", model.Record{Name: "b"})
	require.NoError(t, c.Clear(ctx))

	assert.Equal(t, 0, blobs.len())
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNilBlobStore_MemoryOnly(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	c.Set(ctx, "k", model.Record{Name: "mem"})
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "mem", got.Name)
	require.NoError(t, c.Clear(ctx))
}
