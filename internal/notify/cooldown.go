package notify

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// sweepThreshold bounds how large the table may grow before expired
// entries are swept. Expiry is otherwise lazy.
const sweepThreshold = 4096

// CooldownKey builds the suppression key for one notification subject.
func CooldownKey(accountID, instrumentID string, price decimal.Decimal) string {
	return accountID + "|" + instrumentID + "|" + price.StringFixed(2)
}

// CooldownTable suppresses repeated notifications for the same
// (account, instrument, price) inside a time window. Thread-safe.
type CooldownTable struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
}

// NewCooldownTable creates a table with the given window.
func NewCooldownTable(window time.Duration) *CooldownTable {
	return &CooldownTable{
		window:  window,
		entries: make(map[string]time.Time),
	}
}

// Allow reports whether a notification for key may be sent at now.
// A positive answer records now as the last-sent timestamp.
func (t *CooldownTable) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.entries[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.entries[key] = now

	if len(t.entries) > sweepThreshold {
		t.sweep(now)
	}
	return true
}

// sweep drops expired entries. Must be called with the mutex held.
func (t *CooldownTable) sweep(now time.Time) {
	for key, last := range t.entries {
		if now.Sub(last) >= t.window {
			delete(t.entries, key)
		}
	}
}

// Len returns the number of live entries (expired ones included until
// swept).
func (t *CooldownTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
