// Package usage tracks the paid lookup volume of a batch against the
// per-call cost of its strategy.
package usage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

// ErrUnknownStrategy is returned by Strategies.Lookup for unknown names.
var ErrUnknownStrategy = eris.New("usage: unknown strategy")

// DefaultStrategies returns the built-in lookup strategies.
func DefaultStrategies() map[string]model.Strategy {
	return map[string]model.Strategy{
		"standard": {Name: "standard", Cost: 1, SearchContext: "low"},
		"deep":     {Name: "deep", Cost: 3, SearchContext: "high"},
	}
}

// Strategies is the registry of configured strategies.
type Strategies struct {
	byName map[string]model.Strategy
}

// NewStrategies builds the registry from configured strategies layered
// over DefaultStrategies. Map keys name the strategy.
func NewStrategies(configured map[string]model.Strategy) *Strategies {
	s := &Strategies{byName: DefaultStrategies()}
	for name, st := range configured {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		st.Name = name
		s.byName[name] = st
	}
	return s
}

// DefaultStrategy is used when no strategy is named.
const DefaultStrategy = "standard"

// Lookup returns the strategy named name. An empty name selects
// DefaultStrategy.
func (s *Strategies) Lookup(name string) (model.Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultStrategy
	}
	st, ok := s.byName[name]
	if !ok {
		return model.Strategy{}, eris.Wrapf(ErrUnknownStrategy, "usage: %q", name)
	}
	return st, nil
}

// Names returns the sorted strategy names.
func (s *Strategies) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Recorder persists usage events.
type Recorder interface {
	RecordUsage(ctx context.Context, ev model.UsageEvent) error
}

// Ledger counts genuine upstream calls. It is safe for concurrent use
// although the orchestrator is its only writer.
type Ledger struct {
	mu       sync.Mutex
	recorder Recorder
	calls    int
	total    float64
}

// NewLedger creates a Ledger. recorder may be nil.
func NewLedger(recorder Recorder) *Ledger {
	return &Ledger{recorder: recorder}
}

// Charge adds calls paid lookups under st and returns the charged amount.
// Persistence failures are logged and do not undo the charge.
func (l *Ledger) Charge(ctx context.Context, st model.Strategy, collectionID string, calls int) float64 {
	if calls <= 0 {
		return 0
	}
	amount := float64(calls) * st.Cost

	l.mu.Lock()
	l.calls += calls
	l.total += amount
	l.mu.Unlock()

	if l.recorder != nil {
		ev := model.UsageEvent{
			Strategy:     st.Name,
			CollectionID: collectionID,
			Calls:        calls,
			Cost:         amount,
			CreatedAt:    time.Now().UTC(),
		}
		if err := l.recorder.RecordUsage(ctx, ev); err != nil {
			zap.L().Warn("usage: record failed",
				zap.String("strategy", st.Name),
				zap.Int("calls", calls),
				zap.Error(err),
			)
		}
	}
	return amount
}

// Calls returns the number of paid calls charged so far.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Total returns the charged amount so far.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
