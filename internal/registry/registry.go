// Package registry decides whether a reconciled record may be persisted to
// a collection: blacklisted directory hosts are rejected before
// fingerprinting, and the fingerprint index arbitrates first-writer-wins
// ownership across collections.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/fingerprint"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/normalize"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// Outcome is the result class of a registration attempt.
type Outcome string

const (
	Added       Outcome = "added"
	Duplicate   Outcome = "duplicate"
	Blacklisted Outcome = "blacklisted"
	Failed      Outcome = "failed"
)

// FingerprintIndex is the atomic insert-if-absent primitive backing the
// registry. inserted must be true only for the first writer, or for a
// repeat claim by the same collection and claimant.
type FingerprintIndex interface {
	InsertFingerprint(ctx context.Context, fingerprint, collectionID, claimant string) (owner string, inserted bool, err error)
}

// Result describes one registration.
type Result struct {
	Outcome     Outcome
	Fingerprint string
	// OwnerID is the collection holding the fingerprint (Added or Duplicate).
	OwnerID string
	// Domain is the matched blocklist entry (Blacklisted).
	Domain string
	Err    error
}

// Option configures a Registry.
type Option func(*Registry)

// WithBlocklist adds domains to the disallow-list. A trailing ".*" matches
// any public suffix, e.g. "yelp.*" matches yelp.fr and fr.yelp.ca.
func WithBlocklist(domains ...string) Option {
	return func(r *Registry) {
		for _, d := range domains {
			d = strings.ToLower(strings.TrimSpace(d))
			d = strings.TrimPrefix(d, "www.")
			if d != "" {
				r.blocklist = append(r.blocklist, d)
			}
		}
	}
}

// Registry registers records against the fingerprint index.
type Registry struct {
	idx       FingerprintIndex
	blocklist []string
}

// New creates a Registry seeded with DefaultBlocklist.
func New(idx FingerprintIndex, opts ...Option) *Registry {
	r := &Registry{idx: idx}
	WithBlocklist(DefaultBlocklist...)(r)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Blocked returns the blocklist entry matching rec's website, or "".
func (r *Registry) Blocked(rec model.Record) string {
	host := fingerprint.Host(rec.Website)
	if host == "" {
		return ""
	}
	for _, pattern := range r.blocklist {
		if matchPattern(host, pattern) {
			return pattern
		}
	}
	return ""
}

// Register attempts to claim rec's fingerprint for collectionID.
func (r *Registry) Register(ctx context.Context, collectionID string, rec model.Record) Result {
	if domain := r.Blocked(rec); domain != "" {
		return Result{Outcome: Blacklisted, Domain: domain}
	}

	fp := rec.Fingerprint
	if fp == "" {
		fp = fingerprint.Compute(rec)
	}
	if fp == fingerprint.GeoPrefix+"|" {
		return Result{
			Outcome: Failed,
			Err:     resilience.NewValidationError(eris.New("registry: record has no identity to fingerprint")),
		}
	}

	claimant := normalize.Fold(rec.SearchedTerm)
	owner, inserted, err := r.idx.InsertFingerprint(ctx, fp, collectionID, claimant)
	if err != nil {
		zap.L().Warn("registry: insert fingerprint failed",
			zap.String("fingerprint", fp),
			zap.String("collection_id", collectionID),
			zap.Error(err),
		)
		return Result{Outcome: Failed, Fingerprint: fp, Err: eris.Wrap(err, "registry: register")}
	}
	if !inserted {
		return Result{Outcome: Duplicate, Fingerprint: fp, OwnerID: owner}
	}
	return Result{Outcome: Added, Fingerprint: fp, OwnerID: owner}
}

const duplicatePrefix = "Doublon ("

// TagDuplicate marks rec as a duplicate of an entry owned by ownerName.
func TagDuplicate(rec *model.Record, ownerName string) {
	rec.Status = fmt.Sprintf("%s%s)", duplicatePrefix, ownerName)
}

// IsDuplicate reports whether rec carries a duplicate tag.
func IsDuplicate(rec model.Record) bool {
	return strings.HasPrefix(rec.Status, duplicatePrefix)
}

// TagBlacklisted marks rec as coming from a blacklisted directory domain
// and strips its contact fields.
func TagBlacklisted(rec *model.Record, domain string) {
	rec.Status = fmt.Sprintf("Annuaire exclu (%s)", domain)
	rec.Phone = ""
	rec.Phones = nil
	rec.Email = ""
	rec.Emails = nil
	rec.Socials = nil
	rec.DecisionMakers = nil
}

func matchPattern(host, pattern string) bool {
	base, wildcard := strings.CutSuffix(pattern, ".*")
	if !wildcard {
		return fingerprint.MatchDomain(host, pattern)
	}
	labels := strings.Split(host, ".")
	for i, l := range labels {
		// "<base>.<tld>" or "<base>.<sld>.<tld>"
		if l == base && i < len(labels)-1 && len(labels)-i-1 <= 2 {
			return true
		}
	}
	return false
}
