package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/cache"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/normalize"
	"github.com/sells-group/prospect-cli/internal/reconcile"
	"github.com/sells-group/prospect-cli/internal/registry"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// maxDiagnostic bounds the diagnostic carried in an error record.
const maxDiagnostic = 300

// run is the mutable state of one batch. Only the orchestrator goroutine
// touches it outside resolveWave.
type run struct {
	queries      []string
	cfg          model.RunConfig
	strategy     model.Strategy
	checkpointed bool

	results []model.Record
	// claims maps a fingerprint to the first batch position that persisted it.
	claims map[string]int
	owners map[string]string
	report Report
}

func newRun(req Request, cfg model.RunConfig, st model.Strategy, waveSize int, checkpointed bool) *run {
	r := &run{
		queries:      req.Queries,
		cfg:          cfg,
		strategy:     st,
		checkpointed: checkpointed,
		results:      cloneRecords(req.Results),
		claims:       make(map[string]int),
		owners:       map[string]string{cfg.CollectionID: cfg.CollectionName},
	}
	for i, rec := range r.results {
		if rec.Fingerprint == "" || rec.IsError() || registry.IsDuplicate(rec) {
			continue
		}
		if _, ok := r.claims[rec.Fingerprint]; !ok {
			r.claims[rec.Fingerprint] = i
		}
	}
	r.report.Strategy = st.Name
	r.report.CollectionID = cfg.CollectionID
	r.report.WaveSize = waveSize
	return r
}

// outcome is the settled result of one wave member.
type outcome struct {
	index  int
	query  string
	rec    model.Record
	cached bool
	err    error
}

// resolveWave resolves queries [start, end) concurrently and waits for all
// of them to settle.
func (o *Orchestrator) resolveWave(ctx context.Context, r *run, start, end int) []outcome {
	outs := make([]outcome, end-start)

	var g errgroup.Group
	g.SetLimit(o.cfg.WaveSize)
	for i := start; i < end; i++ {
		slot := i - start
		query := r.queries[i]
		g.Go(func() error {
			outs[slot] = o.resolveOne(ctx, r.strategy, i, query)
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

func (o *Orchestrator) resolveOne(ctx context.Context, st model.Strategy, index int, query string) outcome {
	out := outcome{index: index, query: query}

	if hit, ok := o.deps.Cache.Get(ctx, cache.Key(st.Name, query)); ok {
		rec := hit.Clone()
		rec.Cached = true
		if rec.SearchedTerm == "" {
			rec.SearchedTerm = query
		}
		out.rec = rec
		out.cached = true
		return out
	}

	rec, err := o.deps.Resolver.Resolve(ctx, query, st)
	if err != nil {
		zap.L().Warn("pipeline: lookup failed",
			zap.String("query", query),
			zap.String("kind", string(resilience.Classify(err))),
			zap.Error(err),
		)
		out.err = err
		out.rec = model.ErrorRecord(query, normalize.Truncate(err.Error(), maxDiagnostic))
		return out
	}
	rec.Normalize()
	if rec.SearchedTerm == "" {
		rec.SearchedTerm = query
	}
	out.rec = rec
	return out
}

// commitWave applies the settled wave in input order: validation, blacklist
// and registry tagging, reconciliation, persistence, cache refresh, failure
// log and usage charge.
func (o *Orchestrator) commitWave(ctx context.Context, r *run, outs []outcome) {
	genuine := 0
	for _, out := range outs {
		rec := out.rec
		r.report.Processed++

		if out.err != nil {
			r.report.Errors++
			o.recordFailure(ctx, r, out.query, out.err)
			r.results = reconcile.MergeAt(r.results, out.index, rec)
			continue
		}

		if out.cached {
			r.report.CacheHits++
		}
		raw := rec.Clone()
		raw.Cached = false

		if domain := o.deps.Registry.Blocked(rec); domain != "" {
			registry.TagBlacklisted(&rec, domain)
			r.report.Blacklisted++
		} else {
			if !out.cached {
				genuine++
			}
			rec = o.admit(ctx, r, out, rec)
		}

		o.deps.Cache.Set(ctx, cache.Key(r.strategy.Name, out.query), raw)
		r.results = reconcile.MergeAt(r.results, out.index, rec)
	}

	if genuine > 0 && o.deps.Ledger != nil {
		r.report.Calls += genuine
		r.report.Cost += o.deps.Ledger.Charge(ctx, r.strategy, r.cfg.CollectionID, genuine)
	}
}

// admit validates rec, registers it and persists it when it is the first
// claim of its fingerprint. It returns the record to display.
func (o *Orchestrator) admit(ctx context.Context, r *run, out outcome, rec model.Record) model.Record {
	if strings.TrimSpace(rec.Name) == "" {
		err := resilience.NewValidationError(eris.New("pipeline: record has no name"))
		return o.itemError(ctx, r, out.query, rec, err)
	}
	if r.cfg.CollectionID == "" {
		return rec
	}

	res := o.deps.Registry.Register(ctx, r.cfg.CollectionID, rec)
	switch res.Outcome {
	case registry.Blacklisted:
		registry.TagBlacklisted(&rec, res.Domain)
		r.report.Blacklisted++
		return rec
	case registry.Failed:
		return o.itemError(ctx, r, out.query, rec, res.Err)
	case registry.Duplicate:
		rec.Fingerprint = res.Fingerprint
		if res.OwnerID == r.cfg.CollectionID && o.unstored(ctx, r, res.Fingerprint) {
			// The claim outlived a failed write; this record fills it.
			break
		}
		registry.TagDuplicate(&rec, o.ownerName(ctx, r, res.OwnerID))
		r.report.Duplicates++
		return rec
	}

	rec.Fingerprint = res.Fingerprint
	if first, ok := r.claims[res.Fingerprint]; ok && first != out.index {
		registry.TagDuplicate(&rec, r.cfg.CollectionName)
		r.report.Duplicates++
		return rec
	}

	stored := rec.Clone()
	stored.Cached = false
	if err := o.deps.Store.PutRecord(ctx, r.cfg.CollectionID, res.Fingerprint, &stored); err != nil {
		return o.itemError(ctx, r, out.query, rec, err)
	}
	r.claims[res.Fingerprint] = out.index
	r.report.Persisted++
	return rec
}

// unstored reports whether the run's collection holds the claim on fp
// without a stored record for it.
func (o *Orchestrator) unstored(ctx context.Context, r *run, fp string) bool {
	if _, ok := r.claims[fp]; ok {
		return false
	}
	has, err := o.deps.Store.HasRecord(ctx, r.cfg.CollectionID, fp)
	if err != nil {
		zap.L().Warn("pipeline: check stored record", zap.String("fingerprint", fp), zap.Error(err))
		return false
	}
	return !has
}

// itemError tags rec as an error, keeping its data for display.
func (o *Orchestrator) itemError(ctx context.Context, r *run, query string, rec model.Record, err error) model.Record {
	zap.L().Warn("pipeline: item not persisted",
		zap.String("query", query),
		zap.String("kind", string(resilience.Classify(err))),
		zap.Error(err),
	)
	r.report.Errors++
	o.recordFailure(ctx, r, query, err)
	rec.Status = model.StatusError
	if model.IsNoValue(rec.Address) {
		rec.Address = normalize.Truncate(err.Error(), maxDiagnostic)
	}
	return rec
}

func (o *Orchestrator) recordFailure(ctx context.Context, r *run, query string, err error) {
	fq := resilience.NewFailedQuery(query, r.strategy.Name, err)
	r.report.Failures = append(r.report.Failures, fq)
	if o.deps.Store == nil {
		return
	}
	if serr := o.deps.Store.RecordFailure(ctx, fq); serr != nil {
		zap.L().Warn("pipeline: record failure", zap.String("query", query), zap.Error(serr))
	}
}

func (o *Orchestrator) ownerName(ctx context.Context, r *run, ownerID string) string {
	if name, ok := r.owners[ownerID]; ok && name != "" {
		return name
	}
	c, err := o.deps.Store.GetCollection(ctx, ownerID)
	if err != nil || c.Name == "" {
		zap.L().Debug("pipeline: owner collection lookup", zap.String("owner_id", ownerID), zap.Error(err))
		return ownerID
	}
	r.owners[ownerID] = c.Name
	return c.Name
}

func cloneRecords(in []model.Record) []model.Record {
	if in == nil {
		return nil
	}
	out := make([]model.Record, len(in))
	for i, rec := range in {
		out[i] = rec.Clone()
	}
	return out
}
