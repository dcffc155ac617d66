package cache

import "time"

// ExpiryPolicy decides when a cached entry must be dropped and rebuilt.
type ExpiryPolicy interface {
	Expired(e *Entry, now time.Time) bool
}

// NeverExpire keeps entries for the lifetime of the process.
type NeverExpire struct{}

func (NeverExpire) Expired(*Entry, time.Time) bool { return false }

// TTL expires entries a fixed duration after their last fill.
type TTL time.Duration

func (t TTL) Expired(e *Entry, now time.Time) bool {
	if t <= 0 || !e.Filled() {
		return false
	}
	return now.Sub(e.FilledAt()) >= time.Duration(t)
}
