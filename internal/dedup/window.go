package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Window is a bounded, time-limited cache of recently seen trade ids. It
// guards against upstream at-least-once delivery: an id recorded in the
// window is suppressed until its TTL lapses or capacity pressure evicts it.
// Suppression is therefore best-effort, a sufficiently delayed duplicate can
// slip through after eviction.
type Window struct {
	cache *expirable.LRU[int64, time.Time]
}

// NewWindow creates a dedup window holding at most maxEntries ids, each
// expiring after ttl.
func NewWindow(maxEntries int, ttl time.Duration) *Window {
	return &Window{
		cache: expirable.NewLRU[int64, time.Time](maxEntries, nil, ttl),
	}
}

// Seen reports whether the trade id was already recorded within the window.
// Unseen ids are recorded as a side effect, so the first call for an id
// returns false and subsequent calls within the TTL return true.
func (w *Window) Seen(tradeID int64) bool {
	if _, ok := w.cache.Get(tradeID); ok {
		return true
	}
	w.cache.Add(tradeID, time.Now())
	return false
}

// Len returns the number of ids currently held.
func (w *Window) Len() int {
	return w.cache.Len()
}
