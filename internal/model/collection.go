package model

import "time"

// Collection is a named container of stored records.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheEntry is one lookup result held by the cache.
type CacheEntry struct {
	Key       string    `json:"key"`
	Record    Record    `json:"record"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Strategy is a named lookup configuration with a per-call cost.
type Strategy struct {
	Name          string  `json:"name" yaml:"name" mapstructure:"name"`
	Cost          float64 `json:"cost" yaml:"cost" mapstructure:"cost"`
	Model         string  `json:"model,omitempty" yaml:"model" mapstructure:"model"`
	SearchContext string  `json:"search_context,omitempty" yaml:"search_context" mapstructure:"search_context"`
}

// UsageEvent records the paid calls made by one committed wave.
type UsageEvent struct {
	ID           string    `json:"id"`
	Strategy     string    `json:"strategy"`
	CollectionID string    `json:"collection_id,omitempty"`
	Calls        int       `json:"calls"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageTotal aggregates usage per strategy.
type UsageTotal struct {
	Strategy string  `json:"strategy"`
	Calls    int     `json:"calls"`
	Cost     float64 `json:"cost"`
}

// FailedQuery is a query whose lookup failed and is eligible for a future re-run.
type FailedQuery struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Strategy  string    `json:"strategy"`
	Error     string    `json:"error"`
	ErrorKind string    `json:"error_kind"`
	CreatedAt time.Time `json:"created_at"`
}
