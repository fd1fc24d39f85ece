package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/cache"
	"github.com/sells-group/prospect-cli/internal/checkpoint"
	"github.com/sells-group/prospect-cli/internal/lookup"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/registry"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/internal/usage"
)

// fakeResolver is a deterministic lookup collaborator. A query resolves to
// a record named after it unless listed in fail.
type fakeResolver struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]error
	custom map[string]model.Record
	// onResolve runs inside Resolve, before returning.
	onResolve func(query string)
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:  make(map[string]int),
		fail:   make(map[string]error),
		custom: make(map[string]model.Record),
	}
}

func (f *fakeResolver) Resolve(_ context.Context, query string, _ model.Strategy) (model.Record, error) {
	f.mu.Lock()
	f.calls[query]++
	err := f.fail[query]
	rec, custom := f.custom[query]
	hook := f.onResolve
	f.mu.Unlock()

	if hook != nil {
		hook(query)
	}
	if err != nil {
		return model.Record{}, err
	}
	if custom {
		rec.SearchedTerm = query
		return rec, nil
	}
	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")
	return model.Record{
		Name:         strings.ToUpper(query[:1]) + query[1:],
		SearchedTerm: query,
		Status:       "Ouvert",
		Address:      fmt.Sprintf("%d rue de la Paix, Paris", len(query)),
		Website:      fmt.Sprintf("https://%s.fr", slug),
		Phones:       []string{"01 02 03 04 05"},
	}, nil
}

func (f *fakeResolver) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type harness struct {
	store    *store.SQLiteStore
	cache    *cache.Cache
	cps      *checkpoint.Store
	ledger   *usage.Ledger
	resolver *fakeResolver
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "prospect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{
		store:    st,
		cache:    cache.New(st, nil),
		cps:      checkpoint.New(st, nil, resilience.RetryConfig{MaxAttempts: 1}),
		ledger:   usage.NewLedger(st),
		resolver: newFakeResolver(),
	}
	h.orch = h.newOrchestrator(DefaultWaveSize)
	return h
}

func (h *harness) newOrchestrator(waveSize int) *Orchestrator {
	return New(Deps{
		Cache:       h.cache,
		Registry:    registry.New(h.store),
		Store:       h.store,
		Checkpoints: h.cps,
		Ledger:      h.ledger,
		Strategies:  usage.NewStrategies(nil),
		Resolver:    h.resolver,
	}, Config{
		WaveSize: waveSize,
		Throttle: time.Millisecond,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
}

func (h *harness) collection(t *testing.T, name string) model.RunConfig {
	t.Helper()
	c, err := h.store.CreateCollection(context.Background(), name)
	require.NoError(t, err)
	return model.RunConfig{Strategy: "standard", CollectionID: c.ID, CollectionName: c.Name}
}

func transient() error {
	return lookup.FromStatus(503, fmt.Errorf("upstream down"))
}

// failingPutStore fails PutRecord once for each listed search term.
type failingPutStore struct {
	*store.SQLiteStore
	mu    sync.Mutex
	terms map[string]bool
}

func (f *failingPutStore) PutRecord(ctx context.Context, collectionID, fingerprint string, rec *model.Record) error {
	f.mu.Lock()
	fail := f.terms[rec.SearchedTerm]
	delete(f.terms, rec.SearchedTerm)
	f.mu.Unlock()
	if fail {
		return resilience.NewStorageError(fmt.Errorf("disk full"))
	}
	return f.SQLiteStore.PutRecord(ctx, collectionID, fingerprint, rec)
}
