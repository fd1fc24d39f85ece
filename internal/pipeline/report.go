package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Progress is emitted once per committed wave.
type Progress struct {
	CurrentIndex int            `json:"current_index"`
	Total        int            `json:"total"`
	Results      []model.Record `json:"results"`
}

func (p Progress) clone() Progress {
	p.Results = cloneRecords(p.Results)
	return p
}

// Report summarises a batch run.
type Report struct {
	State        State               `json:"state"`
	CollectionID string              `json:"collection_id"`
	Strategy     string              `json:"strategy"`
	WaveSize     int                 `json:"wave_size"`
	Processed    int                 `json:"processed"`
	Persisted    int                 `json:"persisted"`
	Duplicates   int                 `json:"duplicates"`
	Blacklisted  int                 `json:"blacklisted"`
	Errors       int                 `json:"errors"`
	CacheHits    int                 `json:"cache_hits"`
	Calls        int                 `json:"calls"`
	Cost         float64             `json:"cost"`
	Results      []model.Record      `json:"results"`
	Failures     []model.FailedQuery `json:"failures,omitempty"`
}

func (r *run) finishReport(s State) *Report {
	rep := r.report
	rep.State = s
	rep.Results = cloneRecords(r.results)
	return &rep
}

// Format renders a short human-readable summary.
func (r *Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s (collection %s, strategy %s)\n", r.State, r.CollectionID, r.Strategy)
	fmt.Fprintf(&b, "- Processed: %d\n", r.Processed)
	fmt.Fprintf(&b, "- Persisted: %d\n", r.Persisted)
	fmt.Fprintf(&b, "- Duplicates: %d\n", r.Duplicates)
	fmt.Fprintf(&b, "- Blacklisted: %d\n", r.Blacklisted)
	fmt.Fprintf(&b, "- Errors: %d\n", r.Errors)
	fmt.Fprintf(&b, "- Cache hits: %d\n", r.CacheHits)
	fmt.Fprintf(&b, "- Paid calls: %d (cost %.2f)\n", r.Calls, r.Cost)
	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- %s [%s]: %s\n", f.Query, f.ErrorKind, f.Error)
		}
	}
	return b.String()
}
