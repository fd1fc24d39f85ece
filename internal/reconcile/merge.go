// Package reconcile folds a newly observed record into an existing one using
// field-level precedence rules.
package reconcile

import (
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Merge combines existing with incoming. It never mutates its arguments and
// is idempotent for records that satisfy the contact-set invariant:
// Merge(x, x) == x.
//
// Precedence:
//   - Status: incoming only replaces a negative existing status.
//   - Address, Hours: incoming only replaces the "no value" sentinel.
//   - Website, Email, Category, SourceURI, CustomField: first non-empty wins.
//   - Phones, Emails: set union.
//   - Socials: key-wise union, existing wins.
//   - DecisionMakers: replaced only by a non-empty incoming list.
func Merge(existing, incoming model.Record) model.Record {
	out := existing.Clone()
	in := incoming.Clone()

	if model.IsNegativeStatus(out.Status) && strings.TrimSpace(in.Status) != "" {
		out.Status = in.Status
	}

	out.Address = sentinelFallback(out.Address, in.Address)
	out.Hours = sentinelFallback(out.Hours, in.Hours)

	out.Name = firstNonEmpty(out.Name, in.Name)
	out.SearchedTerm = firstNonEmpty(out.SearchedTerm, in.SearchedTerm)
	out.Website = firstNonEmpty(out.Website, in.Website)
	out.Category = firstNonEmpty(out.Category, in.Category)
	out.SourceURI = firstNonEmpty(out.SourceURI, in.SourceURI)
	out.CustomField = firstNonEmpty(out.CustomField, in.CustomField)
	out.Fingerprint = firstNonEmpty(out.Fingerprint, in.Fingerprint)

	out.Phone = firstNonEmpty(out.Phone, in.Phone)
	out.Email = firstNonEmpty(out.Email, in.Email)
	out.Phones = append(out.Phones, in.Phones...)
	out.Emails = append(out.Emails, in.Emails...)
	out.Normalize()

	out.Socials = mergeSocials(out.Socials, in.Socials)

	if len(in.DecisionMakers) > 0 {
		out.DecisionMakers = in.DecisionMakers
	}

	out.Cached = existing.Cached && incoming.Cached

	return out
}

// MergeAt folds rec into results at position i, appending when i is past the
// end of the list. The running result list of a batch is positional: slot i
// holds the record for query i.
func MergeAt(results []model.Record, i int, rec model.Record) []model.Record {
	if i < 0 {
		return results
	}
	if i < len(results) {
		results[i] = Merge(results[i], rec)
		return results
	}
	for len(results) < i {
		// Gaps only appear when a caller skips indices; keep them visible.
		results = append(results, model.Record{Status: model.StatusNotFound})
	}
	return append(results, rec)
}

func sentinelFallback(existing, incoming string) string {
	if model.IsNoValue(existing) && strings.TrimSpace(incoming) != "" {
		return incoming
	}
	return existing
}

func firstNonEmpty(existing, incoming string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	return incoming
}

func mergeSocials(existing, incoming map[string]string) map[string]string {
	if len(incoming) == 0 {
		return existing
	}
	out := make(map[string]string, len(existing)+len(incoming))
	for k, v := range incoming {
		out[k] = v
	}
	for k, v := range existing {
		out[k] = v
	}
	return out
}
