// Package lookup resolves one free-text query into an enriched record by
// searching the web and extracting structured facts from the answer.
package lookup

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/usage"
)

// Payload is the raw search answer for one query.
type Payload struct {
	Query        string
	Strategy     string
	Text         string
	Citations    []string
	SearchTokens int
}

// Enrichment is the structured record extracted from a Payload.
type Enrichment struct {
	Record model.Record
	// Diagnostic is a non-fatal note about the extraction, such as truncation.
	Diagnostic   string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Searcher performs the web search step.
type Searcher interface {
	Search(ctx context.Context, query string, st model.Strategy) (*Payload, error)
}

// Enricher performs the extraction step.
type Enricher interface {
	Enrich(ctx context.Context, p *Payload) (*Enrichment, error)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRateLimit caps upstream lookups per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ResolverOption {
	return func(r *Resolver) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCircuitBreaker guards upstream calls with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ResolverOption {
	return func(r *Resolver) { r.breaker = cb }
}

// WithCalculator enables per-lookup spend logging.
func WithCalculator(c *usage.Calculator) ResolverOption {
	return func(r *Resolver) { r.calc = c }
}

// Resolver composes a Searcher and an Enricher into a single lookup.
type Resolver struct {
	searcher Searcher
	enricher Enricher
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	calc     *usage.Calculator
}

// NewResolver creates a Resolver limited to 2 lookups per second.
func NewResolver(s Searcher, e Enricher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		searcher: s,
		enricher: e,
		limiter:  rate.NewLimiter(rate.Limit(2), 3),
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks query up under st. Errors carry a resilience Kind.
func (r *Resolver) Resolve(ctx context.Context, query string, st model.Strategy) (model.Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Record{}, resilience.NewValidationError(eris.New("lookup: empty query"))
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return model.Record{}, eris.Wrap(err, "lookup: rate limiter")
		}
	}

	start := time.Now()
	call := func(ctx context.Context) (*Enrichment, error) {
		p, err := r.searcher.Search(ctx, query, st)
		if err != nil {
			return nil, err
		}
		enr, err := r.enricher.Enrich(ctx, p)
		if err != nil {
			return nil, err
		}
		r.logSpend(query, st, p, enr, time.Since(start))
		return enr, nil
	}

	var (
		enr *Enrichment
		err error
	)
	if r.breaker != nil {
		enr, err = resilience.ExecuteVal(ctx, r.breaker, call)
	} else {
		enr, err = call(ctx)
	}
	if err != nil {
		return model.Record{}, err
	}

	rec := enr.Record
	rec.SearchedTerm = query
	if rec.Name == "" {
		rec.Name = query
	}
	if rec.Status == "" {
		rec.Status = model.NoValue
	}
	return rec, nil
}

func (r *Resolver) logSpend(query string, st model.Strategy, p *Payload, enr *Enrichment, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("query", query),
		zap.String("strategy", st.Name),
		zap.Int("search_tokens", p.SearchTokens),
		zap.Int64("input_tokens", enr.InputTokens),
		zap.Int64("output_tokens", enr.OutputTokens),
		zap.Duration("elapsed", elapsed),
	}
	if enr.Diagnostic != "" {
		fields = append(fields, zap.String("diagnostic", enr.Diagnostic))
	}
	if r.calc != nil {
		spend := r.calc.PerplexityQuery() + r.calc.Claude(enr.Model, enr.InputTokens, enr.OutputTokens)
		fields = append(fields, zap.Float64("estimated_cost_usd", spend))
	}
	zap.L().Debug("lookup: resolved", fields...)
}
