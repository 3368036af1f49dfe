package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// RetryPolicy bounds the push retry queue.
type RetryPolicy struct {
	// BaseDelay is the wait after the first failure. Each further failure
	// doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// MaxAttempts is how many failed pushes an entry survives. The record
	// stays unsynced after it is dropped and the next PushUnsynced finds it.
	MaxAttempts int
	// Capacity is the number of distinct records the queue holds.
	Capacity int
}

// DefaultRetryPolicy is used for zero fields of Options.Retry.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:   5 * time.Second,
	MaxDelay:    5 * time.Minute,
	MaxAttempts: 8,
	Capacity:    1024,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Capacity <= 0 {
		p.Capacity = DefaultRetryPolicy.Capacity
	}
	return p
}

// Backoff returns the delay after the n-th failed attempt (n >= 1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryEntry is a snapshot of one queued record.
type RetryEntry struct {
	Kind     schema.Kind
	ID       string
	Attempts int
	NextAt   time.Time
	LastErr  error
}

type retryQueue struct {
	mu      sync.Mutex
	policy  RetryPolicy
	entries map[string]*RetryEntry
}

func newRetryQueue(p RetryPolicy) *retryQueue {
	return &retryQueue{policy: p, entries: make(map[string]*RetryEntry)}
}

// fail records a failed push. counted is false for pushes that were never
// attempted (offline), which are due immediately and do not use up an
// attempt. It reports whether the entry was dropped.
func (q *retryQueue) fail(kind schema.Kind, id string, err error, counted bool, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := recordKey(kind, id)
	e, ok := q.entries[key]
	if !ok {
		if len(q.entries) >= q.policy.Capacity {
			return true
		}
		e = &RetryEntry{Kind: kind, ID: id}
		q.entries[key] = e
	}
	e.LastErr = err
	if !counted {
		e.NextAt = now
		return false
	}
	e.Attempts++
	if e.Attempts >= q.policy.MaxAttempts {
		delete(q.entries, key)
		return true
	}
	e.NextAt = now.Add(q.policy.Backoff(e.Attempts))
	return false
}

func (q *retryQueue) done(kind schema.Kind, id string) {
	q.mu.Lock()
	delete(q.entries, recordKey(kind, id))
	q.mu.Unlock()
}

// due returns entries whose backoff has elapsed, oldest first.
func (q *retryQueue) due(now time.Time) []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []RetryEntry
	for _, e := range q.entries {
		if !e.NextAt.After(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAt.Before(out[j].NextAt) })
	return out
}

func (q *retryQueue) snapshot() []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]RetryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAt.Before(out[j].NextAt) })
	return out
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
