package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// failureScanLimit caps how many failed queries one collection reads.
const failureScanLimit = 10_000

// MetricsSnapshot holds a point-in-time view of lookup health.
type MetricsSnapshot struct {
	// Failed queries recorded within the lookback window.
	FailedQueries  int            `json:"failed_queries"`
	FailuresByKind map[string]int `json:"failures_by_kind"`

	// Accumulated strategy credits charged by the usage ledger.
	TotalCalls   int     `json:"total_calls"`
	TotalCredits float64 `json:"total_credits"`
	// Credits charged since the previous snapshot. Zero on the first one.
	CreditDelta  float64 `json:"credit_delta"`

	BatchState string `json:"batch_state,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of the store the collector reads.
type Source interface {
	ListFailures(ctx context.Context, limit int) ([]model.FailedQuery, error)
	UsageTotals(ctx context.Context) ([]model.UsageTotal, error)
}

// Collector gathers metrics from the store and, optionally, the running
// orchestrator.
type Collector struct {
	src   Source
	state func() string
	now   func() time.Time

	mu       sync.Mutex
	lastCredits float64
	primed   bool
}

// NewCollector creates a new metrics collector. state reports the batch
// lifecycle state and may be nil.
func NewCollector(src Source, state func() string) *Collector {
	return &Collector{src: src, state: state, now: time.Now}
}

// Collect gathers a snapshot of lookup metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		FailuresByKind: make(map[string]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	failures, err := c.src.ListFailures(ctx, failureScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failures")
	}
	for _, f := range failures {
		if f.CreatedAt.Before(cutoff) {
			continue
		}
		snap.FailedQueries++
		kind := f.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		snap.FailuresByKind[kind]++
	}

	totals, err := c.src.UsageTotals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: usage totals")
	}
	for _, t := range totals {
		snap.TotalCalls += t.Calls
		snap.TotalCredits += t.Cost
	}

	c.mu.Lock()
	if c.primed && snap.TotalCredits > c.lastCredits {
		snap.CreditDelta = snap.TotalCredits - c.lastCredits
	}
	c.lastCredits = snap.TotalCredits
	c.primed = true
	c.mu.Unlock()

	if c.state != nil {
		snap.BatchState = c.state()
	}
	return snap, nil
}
