package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/pipeline"
)

// progressPrinter returns a progress callback writing one line per wave.
func progressPrinter(out io.Writer) func(pipeline.Progress) {
	return func(p pipeline.Progress) {
		pct := 0
		if p.Total > 0 {
			pct = p.CurrentIndex * 100 / p.Total
		}
		_, _ = fmt.Fprintf(out, "[%d/%d] %d%%\n", p.CurrentIndex, p.Total, pct)
	}
}

// formatRecord writes one record as aligned label/value lines.
func formatRecord(out io.Writer, rec model.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	line := func(label, value string) {
		if value != "" {
			_, _ = fmt.Fprintf(w, "%s:\t%s\n", label, value)
		}
	}
	line("Name", rec.Name)
	line("Query", rec.SearchedTerm)
	line("Status", rec.Status)
	line("Address", rec.Address)
	line("Hours", rec.Hours)
	line("Phones", strings.Join(rec.Phones, ", "))
	line("Emails", strings.Join(rec.Emails, ", "))
	line("Website", rec.Website)
	line("Category", rec.Category)
	for _, dm := range rec.DecisionMakers {
		line("Contact", strings.TrimSpace(dm.Name+" "+dm.Title))
	}
	line("Source", rec.SourceURI)
	if rec.Cached {
		line("Cached", "yes")
	}
	_ = w.Flush()
}

// formatRecords writes a tabular list of records.
func formatRecords(out io.Writer, recs []model.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tNAME\tSTATUS\tPHONE\tWEBSITE")
	_, _ = fmt.Fprintln(w, "-\t----\t------\t-----\t-------")
	for i, rec := range recs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i+1,
			clip(rec.Name, 40),
			clip(rec.Status, 40),
			rec.Phone,
			rec.Website,
		)
	}
	_ = w.Flush()
}

// formatCollections writes a tabular list of collections.
func formatCollections(out io.Writer, cols []model.Collection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tITEMS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------")
	for _, c := range cols {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			truncateID(c.ID),
			clip(c.Name, 40),
			c.ItemCount,
			c.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatCacheEntries writes a tabular list of cache entries.
func formatCacheEntries(out io.Writer, entries []model.CacheEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tSTATUS\tEXPIRES")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			clip(e.Key, 50),
			clip(e.Record.Name, 40),
			clip(e.Record.Status, 30),
			e.ExpiresAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatUsage writes per-strategy usage totals and their sum.
func formatUsage(out io.Writer, totals []model.UsageTotal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STRATEGY\tCALLS\tCOST")
	_, _ = fmt.Fprintln(w, "--------\t-----\t----")
	var calls int
	var cost float64
	for _, t := range totals {
		calls += t.Calls
		cost += t.Cost
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2f\n", t.Strategy, t.Calls, t.Cost)
	}
	_, _ = fmt.Fprintf(w, "total\t%d\t%.2f\n", calls, cost)
	_ = w.Flush()
}

// formatFailures writes a tabular list of failed queries.
func formatFailures(out io.Writer, failures []model.FailedQuery) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUERY\tSTRATEGY\tKIND\tERROR\tAT")
	_, _ = fmt.Fprintln(w, "-----\t--------\t----\t-----\t--")
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			clip(f.Query, 40),
			f.Strategy,
			f.ErrorKind,
			clip(f.Error, 60),
			f.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// clip shortens s to n runes with a trailing ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
