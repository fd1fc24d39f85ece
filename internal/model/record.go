package model

import (
	"strings"

	"github.com/sells-group/prospect-cli/internal/normalize"
)

// NoValue is the sentinel written by the enrichment step when a scalar
// field could not be found. An empty string is treated the same way.
const NoValue = "Non trouvé"

// Well-known status values.
const (
	StatusError    = "Erreur"
	StatusNotFound = "Non trouvé"
)

// negativeStatusMarkers are folded substrings denoting a "not found" or
// "error" terminal status.
var negativeStatusMarkers = []string{
	"erreur",
	"error",
	"not found",
	"non trouve",
	"introuvable",
	"inconnu",
	"unknown",
}

// DecisionMaker is a named contact at the business.
type DecisionMaker struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Email string `json:"email,omitempty"`
}

// Record is the enriched business record produced for one query.
type Record struct {
	Name           string            `json:"name"`
	SearchedTerm   string            `json:"searched_term"`
	Status         string            `json:"status"`
	Address        string            `json:"address"`
	Hours          string            `json:"hours,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Phones         []string          `json:"phones,omitempty"`
	Email          string            `json:"email,omitempty"`
	Emails         []string          `json:"emails,omitempty"`
	Socials        map[string]string `json:"socials,omitempty"`
	Website        string            `json:"website,omitempty"`
	SourceURI      string            `json:"source_uri,omitempty"`
	Category       string            `json:"category,omitempty"`
	DecisionMakers []DecisionMaker   `json:"decision_makers,omitempty"`
	CustomField    string            `json:"custom_field,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	Cached         bool              `json:"cached,omitempty"`
}

// IsNoValue reports whether a scalar field holds the "no value" sentinel.
func IsNoValue(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || normalize.Fold(s) == normalize.Fold(NoValue)
}

// IsNegativeStatus reports whether status denotes a negative terminal state
// (not found, error or equivalent). An empty status counts as negative.
func IsNegativeStatus(status string) bool {
	folded := normalize.Fold(status)
	if folded == "" {
		return true
	}
	for _, m := range negativeStatusMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// IsError reports whether the record is a synthetic error record.
func (r *Record) IsError() bool {
	return r.Status == StatusError
}

// ErrorRecord builds the synthetic record displayed for a failed lookup.
// The diagnostic message is carried in the address field.
func ErrorRecord(query, diagnostic string) Record {
	return Record{
		Name:         query,
		SearchedTerm: query,
		Status:       StatusError,
		Address:      diagnostic,
	}
}

// Normalize enforces the contact-set invariant: Phones and Emails hold no
// duplicate values and, when non-empty, their head equals the scalar
// Phone / Email field.
func (r *Record) Normalize() {
	r.Phones = dedupe(prepend(r.Phone, r.Phones), normalize.Digits)
	r.Emails = dedupe(prepend(r.Email, r.Emails), normalize.Email)
	r.Phone = head(r.Phones)
	r.Email = head(r.Emails)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Phones != nil {
		out.Phones = append([]string(nil), r.Phones...)
	}
	if r.Emails != nil {
		out.Emails = append([]string(nil), r.Emails...)
	}
	if r.DecisionMakers != nil {
		out.DecisionMakers = append([]DecisionMaker(nil), r.DecisionMakers...)
	}
	if r.Socials != nil {
		out.Socials = make(map[string]string, len(r.Socials))
		for k, v := range r.Socials {
			out.Socials[k] = v
		}
	}
	return out
}

// prepend puts scalar at the front of set when it is missing from it.
func prepend(scalar string, set []string) []string {
	scalar = strings.TrimSpace(scalar)
	if scalar == "" {
		return set
	}
	for _, v := range set {
		if strings.TrimSpace(v) == scalar {
			// Move the scalar to the head, keeping the rest in order.
			out := make([]string, 0, len(set))
			out = append(out, scalar)
			for _, w := range set {
				if strings.TrimSpace(w) != scalar {
					out = append(out, w)
				}
			}
			return out
		}
	}
	return append([]string{scalar}, set...)
}

// dedupe drops blank values and values whose comparison key was already seen.
func dedupe(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || IsNoValue(v) {
			continue
		}
		k := key(v)
		if k == "" {
			k = v
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func head(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
