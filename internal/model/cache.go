package model

import "time"

// CacheEntry is an immutable snapshot of one tile's cached data
type CacheEntry struct {
	Value      any
	FetchedAt  time.Time
	TTL        time.Duration
	LastError  error
	ErrorAt    time.Time
	Failures   int
	Generation uint64
}

// HasValue reports whether a successful fetch has ever been recorded
func (e CacheEntry) HasValue() bool {
	return !e.FetchedAt.IsZero()
}
