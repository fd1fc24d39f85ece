// Package pipeline drives batches of business queries through cache,
// lookup, duplicate registration and persistence in bounded waves.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/registry"
)

// DefaultWaveSize is the number of lookups in flight per wave.
const DefaultWaveSize = 3

// Errors returned by the orchestrator before any wave runs.
var (
	ErrBusy         = eris.New("pipeline: a batch is already running")
	ErrNoQueries    = eris.New("pipeline: no queries")
	ErrBadIndex     = eris.New("pipeline: start index out of range")
	ErrNoCheckpoint = eris.New("pipeline: no checkpoint to resume")
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// Resolver looks one query up under a strategy.
type Resolver interface {
	Resolve(ctx context.Context, query string, st model.Strategy) (model.Record, error)
}

// Cache is the two-tier lookup cache.
type Cache interface {
	Get(ctx context.Context, key string) (*model.Record, bool)
	Set(ctx context.Context, key string, rec model.Record, ttl ...time.Duration)
}

// Registry arbitrates fingerprint ownership across collections.
type Registry interface {
	Blocked(rec model.Record) string
	Register(ctx context.Context, collectionID string, rec model.Record) registry.Result
}

// Store is the subset of the persistent store used by batches.
type Store interface {
	CreateCollection(ctx context.Context, name string) (*model.Collection, error)
	GetCollection(ctx context.Context, id string) (*model.Collection, error)
	PutRecord(ctx context.Context, collectionID, fingerprint string, rec *model.Record) error
	HasRecord(ctx context.Context, collectionID, fingerprint string) (bool, error)
	RecordFailure(ctx context.Context, fq model.FailedQuery) error
}

// Checkpoints is the single-slot batch checkpoint store.
type Checkpoints interface {
	Save(ctx context.Context, cp *model.Checkpoint) error
	Load(ctx context.Context) (*model.Checkpoint, error)
	Clear(ctx context.Context) error
}

// Ledger charges genuine upstream calls.
type Ledger interface {
	Charge(ctx context.Context, st model.Strategy, collectionID string, calls int) float64
}

// Strategies resolves strategy names.
type Strategies interface {
	Lookup(name string) (model.Strategy, error)
}

// Deps are the collaborators of an Orchestrator. Checkpoints and Ledger may
// be nil.
type Deps struct {
	Cache       Cache
	Registry    Registry
	Store       Store
	Checkpoints Checkpoints
	Ledger      Ledger
	Strategies  Strategies
	Resolver    Resolver
}

// Config tunes wave execution.
type Config struct {
	WaveSize int
	// Throttle is the pause between two waves.
	Throttle time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Request describes a batch run. StartIndex and Results are set when
// re-entering from a checkpoint.
type Request struct {
	Queries    []string
	Config     model.RunConfig
	StartIndex int
	Results    []model.Record
}

// Orchestrator runs one batch at a time.
type Orchestrator struct {
	deps Deps
	cfg  Config

	cancelled atomic.Bool

	mu       sync.Mutex
	state    State
	progress *Progress
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.WaveSize <= 0 {
		cfg.WaveSize = DefaultWaveSize
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Orchestrator{deps: deps, cfg: cfg, state: StateIdle}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastProgress returns the latest committed progress, or nil.
func (o *Orchestrator) LastProgress() *Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress == nil {
		return nil
	}
	p := o.progress.clone()
	return &p
}

// Cancel asks the running batch to stop at the next wave boundary. Results
// of the wave in flight are discarded.
func (o *Orchestrator) Cancel() {
	if o.State() == StateRunning {
		o.cancelled.Store(true)
		zap.L().Info("pipeline: cancel requested")
	}
}

// ResumeAvailable returns the stored checkpoint, or nil when none exists.
func (o *Orchestrator) ResumeAvailable(ctx context.Context) (*model.Checkpoint, error) {
	if o.deps.Checkpoints == nil {
		return nil, nil
	}
	cp, err := o.deps.Checkpoints.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load checkpoint")
	}
	if cp == nil || cp.Remaining() == 0 {
		return nil, nil
	}
	return cp, nil
}

// Resume re-enters the checkpointed batch at its next unprocessed index.
func (o *Orchestrator) Resume(ctx context.Context, onProgress func(Progress)) (*Report, error) {
	cp, err := o.ResumeAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNoCheckpoint
	}
	zap.L().Info("pipeline: resuming batch",
		zap.Int("next_index", cp.NextIndex),
		zap.Int("total", len(cp.Queries)),
		zap.String("collection_id", cp.Config.CollectionID),
	)
	return o.RunBatch(ctx, Request{
		Queries:    cp.Queries,
		Config:     cp.Config,
		StartIndex: cp.NextIndex,
		Results:    cp.Results,
	}, onProgress)
}

// RunBatch processes req.Queries from req.StartIndex in waves. Per-item
// failures are recorded and never abort the batch; only Cancel or ctx
// cancellation stop it early, in which case the report state is Stopped.
func (o *Orchestrator) RunBatch(ctx context.Context, req Request, onProgress func(Progress)) (*Report, error) {
	if len(req.Queries) == 0 {
		return nil, ErrNoQueries
	}
	if req.StartIndex < 0 || req.StartIndex > len(req.Queries) {
		return nil, eris.Wrapf(ErrBadIndex, "pipeline: start %d of %d", req.StartIndex, len(req.Queries))
	}
	st, err := o.deps.Strategies.Lookup(req.Config.Strategy)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: strategy")
	}

	if err := o.begin(); err != nil {
		return nil, err
	}
	final := StateIdle
	defer func() { o.finish(final) }()

	runCfg, err := o.ensureCollection(ctx, req.Config)
	if err != nil {
		return nil, err
	}
	runCfg.Strategy = st.Name

	r := newRun(req, runCfg, st, o.cfg.WaveSize, true)
	// The new batch takes the checkpoint slot before any lookup runs.
	o.checkpoint(ctx, r, req.StartIndex)
	log := zap.L().With(
		zap.String("collection_id", runCfg.CollectionID),
		zap.String("strategy", st.Name),
	)
	log.Info("pipeline: batch started",
		zap.Int("total", len(req.Queries)),
		zap.Int("start_index", req.StartIndex),
	)

	for next := req.StartIndex; next < len(req.Queries); {
		if o.stopRequested(ctx) {
			log.Info("pipeline: batch stopped", zap.Int("next_index", next))
			final = StateStopped
			return r.finishReport(StateStopped), nil
		}

		end := min(next+o.cfg.WaveSize, len(req.Queries))
		outs := o.resolveWave(ctx, r, next, end)

		if o.stopRequested(ctx) {
			log.Info("pipeline: wave discarded after cancel",
				zap.Int("wave_start", next),
				zap.Int("wave_end", end),
			)
			final = StateStopped
			return r.finishReport(StateStopped), nil
		}

		// ctx may be cancelled by now; the commit still completes.
		commitCtx := context.WithoutCancel(ctx)
		o.commitWave(commitCtx, r, outs)
		next = end
		o.checkpoint(commitCtx, r, next)
		o.emit(r, next, onProgress)

		log.Debug("pipeline: wave committed",
			zap.Int("next_index", next),
			zap.Int("persisted", r.report.Persisted),
			zap.Int("errors", r.report.Errors),
		)

		if next < len(req.Queries) && o.cfg.Throttle > 0 {
			if err := o.cfg.Sleep(ctx, o.cfg.Throttle); err != nil {
				log.Debug("pipeline: throttle interrupted", zap.Error(err))
			}
		}
	}

	if o.deps.Checkpoints != nil {
		if err := o.deps.Checkpoints.Clear(context.WithoutCancel(ctx)); err != nil {
			log.Warn("pipeline: clear checkpoint", zap.Error(err))
		}
	}
	final = StateCompleted
	rep := r.finishReport(StateCompleted)
	log.Info("pipeline: batch completed",
		zap.Int("processed", rep.Processed),
		zap.Int("persisted", rep.Persisted),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("blacklisted", rep.Blacklisted),
		zap.Int("errors", rep.Errors),
		zap.Int("cache_hits", rep.CacheHits),
		zap.Float64("cost", rep.Cost),
	)
	return rep, nil
}

// RunSingle looks one query up through the same wave pipeline with a wave
// of one and no checkpoint. With an empty collection in cfg the record is
// resolved and cached but neither registered nor persisted.
func (o *Orchestrator) RunSingle(ctx context.Context, query string, cfg model.RunConfig) (model.Record, error) {
	st, err := o.deps.Strategies.Lookup(cfg.Strategy)
	if err != nil {
		return model.Record{}, eris.Wrap(err, "pipeline: strategy")
	}
	if cfg.CollectionID != "" || cfg.CollectionName != "" {
		if cfg, err = o.ensureCollection(ctx, cfg); err != nil {
			return model.Record{}, err
		}
	}
	cfg.Strategy = st.Name

	r := newRun(Request{Queries: []string{query}}, cfg, st, 1, false)
	outs := o.resolveWave(ctx, r, 0, 1)
	o.commitWave(context.WithoutCancel(ctx), r, outs)
	if len(r.results) == 0 {
		return model.Record{}, eris.New("pipeline: single lookup produced no result")
	}
	rec := r.results[0]
	if outs[0].err != nil {
		return rec, outs[0].err
	}
	return rec, nil
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		return ErrBusy
	}
	o.state = StateRunning
	o.progress = nil
	o.cancelled.Store(false)
	return nil
}

func (o *Orchestrator) finish(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.cancelled.Store(false)
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// ensureCollection resolves or creates the target collection.
func (o *Orchestrator) ensureCollection(ctx context.Context, cfg model.RunConfig) (model.RunConfig, error) {
	if cfg.CollectionID != "" {
		c, err := o.deps.Store.GetCollection(ctx, cfg.CollectionID)
		if err != nil {
			return cfg, eris.Wrapf(err, "pipeline: collection %s", cfg.CollectionID)
		}
		cfg.CollectionName = c.Name
		return cfg, nil
	}
	name := cfg.CollectionName
	if name == "" {
		name = fmt.Sprintf("Batch %s", time.Now().Format("2006-01-02 15:04"))
	}
	c, err := o.deps.Store.CreateCollection(ctx, name)
	if err != nil {
		return cfg, eris.Wrap(err, "pipeline: create collection")
	}
	cfg.CollectionID = c.ID
	cfg.CollectionName = c.Name
	return cfg, nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, r *run, next int) {
	if !r.checkpointed || o.deps.Checkpoints == nil {
		return
	}
	cp := &model.Checkpoint{
		Queries:   r.queries,
		NextIndex: next,
		Results:   cloneRecords(r.results),
		Config:    r.cfg,
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.deps.Checkpoints.Save(ctx, cp); err != nil {
		zap.L().Warn("pipeline: checkpoint save failed", zap.Int("next_index", next), zap.Error(err))
	}
}

func (o *Orchestrator) emit(r *run, next int, onProgress func(Progress)) {
	p := Progress{
		CurrentIndex: next,
		Total:        len(r.queries),
		Results:      cloneRecords(r.results),
	}
	o.mu.Lock()
	o.progress = &p
	o.mu.Unlock()
	if onProgress != nil {
		onProgress(p.clone())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
