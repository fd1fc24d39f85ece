// Package cache holds lookup results in a bounded in-memory tier backed by
// sealed blobs in the persistent store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/normalize"
	"github.com/sells-group/prospect-cli/internal/vault"
)

const (
	// DefaultMemoryEntries bounds the in-memory tier.
	DefaultMemoryEntries = 100
	// DefaultBaseTTL applies to ordinary records.
	DefaultBaseTTL = 24 * time.Hour

	blobPrefix = "cache:"
)

// BlobStore is the persistent tier. Missing keys return nil, nil.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, data []byte) error
	DeleteBlob(ctx context.Context, key string) error
	ListBlobs(ctx context.Context, prefix string) (map[string][]byte, error)
	DeleteBlobs(ctx context.Context, prefix string) (int, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMemoryEntries sets the in-memory tier capacity.
func WithMemoryEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithBaseTTL sets the base TTL the dynamic policy scales from.
func WithBaseTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.baseTTL = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the two-tier lookup cache. The memory tier is safe for
// concurrent use; the persistent tier is best effort.
type Cache struct {
	blobs    BlobStore
	sealer   *vault.Sealer
	mem      *lru[string, model.CacheEntry]
	capacity int
	baseTTL  time.Duration
	now      func() time.Time
}

// New creates a Cache. A nil sealer stores plain JSON.
func New(blobs BlobStore, sealer *vault.Sealer, opts ...Option) *Cache {
	c := &Cache{
		blobs:    blobs,
		sealer:   sealer,
		capacity: DefaultMemoryEntries,
		baseTTL:  DefaultBaseTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.mem = newLRU[string, model.CacheEntry](c.capacity)
	return c
}

// Key builds the lookup key for a query under a strategy.
func Key(strategy, query string) string {
	return strings.ToLower(strings.TrimSpace(strategy)) + "|" + normalize.Fold(query)
}

// TTLFor applies the dynamic TTL policy: contactable records with decision
// makers live 7x base, negative outcomes live base/24.
func (c *Cache) TTLFor(rec model.Record) time.Duration {
	hasEmail := rec.Email != "" || len(rec.Emails) > 0
	switch {
	case hasEmail && len(rec.DecisionMakers) > 0:
		return 7 * c.baseTTL
	case strings.TrimSpace(rec.Status) != "" && model.IsNegativeStatus(rec.Status):
		return c.baseTTL / 24
	default:
		return c.baseTTL
	}
}

// Get returns the cached record for key. Expired entries are purged and
// reported absent.
func (c *Cache) Get(ctx context.Context, key string) (*model.Record, bool) {
	now := c.now()

	if entry, ok := c.mem.Get(key); ok {
		if !entry.Expired(now) {
			rec := entry.Record.Clone()
			return &rec, true
		}
		c.mem.Delete(key)
		c.deleteBlob(ctx, key)
		return nil, false
	}

	if c.blobs == nil {
		return nil, false
	}
	data, err := c.blobs.GetBlob(ctx, blobKey(key))
	if err != nil {
		zap.L().Warn("cache: persistent read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	entry, migrated, err := c.decode(data)
	if err != nil {
		zap.L().Warn("cache: unreadable entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if entry.Key == "" {
		entry.Key = key
	}
	if entry.Expired(now) {
		c.deleteBlob(ctx, key)
		return nil, false
	}
	if migrated {
		c.putBlob(ctx, entry)
	}

	c.mem.Set(key, entry)
	rec := entry.Record.Clone()
	return &rec, true
}

// Set writes rec to both tiers. With no ttl the dynamic policy applies.
// Persistent write failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, rec model.Record, ttl ...time.Duration) {
	d := c.TTLFor(rec)
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}
	now := c.now()
	entry := model.CacheEntry{
		Key:       key,
		Record:    rec.Clone(),
		CreatedAt: now,
		ExpiresAt: now.Add(d),
	}
	c.mem.Set(key, entry)
	c.putBlob(ctx, entry)
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mem.Delete(key)
	c.deleteBlob(ctx, key)
}

// ListAll returns live entries, newest first. Expired persistent entries
// are purged along the way.
func (c *Cache) ListAll(ctx context.Context) ([]model.CacheEntry, error) {
	now := c.now()
	byKey := make(map[string]model.CacheEntry)

	if c.blobs != nil {
		blobs, err := c.blobs.ListBlobs(ctx, blobPrefix)
		if err != nil {
			return nil, eris.Wrap(err, "cache: list")
		}
		for bk, data := range blobs {
			entry, _, err := c.decode(data)
			if err != nil {
				zap.L().Debug("cache: skipping unreadable entry", zap.String("blob", bk), zap.Error(err))
				continue
			}
			if entry.Expired(now) {
				if err := c.blobs.DeleteBlob(ctx, bk); err != nil {
					zap.L().Debug("cache: purge failed", zap.String("blob", bk), zap.Error(err))
				}
				continue
			}
			byKey[entryID(entry, bk)] = entry
		}
	}

	for _, entry := range c.mem.Values() {
		if entry.Expired(now) {
			continue
		}
		byKey[entryID(entry, blobKey(entry.Key))] = entry
	}

	out := make([]model.CacheEntry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Count returns the number of live entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	all, err := c.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Clear wipes both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	c.mem.Purge()
	if c.blobs == nil {
		return nil
	}
	n, err := c.blobs.DeleteBlobs(ctx, blobPrefix)
	if err != nil {
		return eris.Wrap(err, "cache: clear")
	}
	zap.L().Info("cache: cleared", zap.Int("entries", n))
	return nil
}

// decode opens a persistent entry. Blobs that fail to decrypt are retried
// as plain JSON, either a CacheEntry or a bare Record from older stores;
// migrated reports that the entry should be re-sealed.
func (c *Cache) decode(data []byte) (model.CacheEntry, bool, error) {
	var entry model.CacheEntry
	if c.sealer != nil {
		err := c.sealer.Open(data, &entry)
		if err == nil {
			return entry, false, nil
		}
		if !errors.Is(err, vault.ErrDecrypt) {
			return entry, false, err
		}
	}

	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, false, eris.Wrap(err, "cache: decode plain entry")
	}
	if entry.ExpiresAt.IsZero() {
		var rec model.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return entry, false, eris.Wrap(err, "cache: decode legacy record")
		}
		now := c.now()
		entry = model.CacheEntry{Record: rec, CreatedAt: now, ExpiresAt: now.Add(c.TTLFor(rec))}
	}
	return entry, c.sealer != nil, nil
}

func (c *Cache) putBlob(ctx context.Context, entry model.CacheEntry) {
	if c.blobs == nil {
		return
	}
	var (
		data []byte
		err  error
	)
	if c.sealer != nil {
		data, err = c.sealer.Seal(entry)
	} else {
		data, err = json.Marshal(entry)
	}
	if err == nil {
		err = c.blobs.PutBlob(ctx, blobKey(entry.Key), data)
	}
	if err != nil {
		zap.L().Warn("cache: persistent write failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

func (c *Cache) deleteBlob(ctx context.Context, key string) {
	if c.blobs == nil {
		return
	}
	if err := c.blobs.DeleteBlob(ctx, blobKey(key)); err != nil {
		zap.L().Debug("cache: purge failed", zap.String("key", key), zap.Error(err))
	}
}

func blobKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return blobPrefix + hex.EncodeToString(sum[:])
}

func entryID(e model.CacheEntry, fallback string) string {
	if e.Key != "" {
		return blobKey(e.Key)
	}
	return fallback
}
