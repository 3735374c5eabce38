package traffic

import (
	"sync"
	"time"
)

// maxAge bounds how long outcomes are retained.
const maxAge = 15 * time.Minute

var defaultTracker = NewTracker()

// RecordSuccess records a weather lookup whose upstreams behaved.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a weather lookup that failed upstream (timeout,
// 5xx, open circuit, network error).
func RecordError() {
	defaultTracker.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Degraded reports whether the error rate in window reached pct percent.
func Degraded(window time.Duration, pct float64) bool {
	return defaultTracker.Degraded(window, pct)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps sliding windows of outcome timestamps. Safe for
// concurrent use.
type Tracker struct {
	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	now          func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// Degraded reports whether errors make up at least pct percent of the
// outcomes in window. No outcomes, or pct <= 0, is never degraded.
func (t *Tracker) Degraded(window time.Duration, pct float64) bool {
	if pct <= 0 {
		return false
	}
	errors, total := t.ErrorRate(window)
	if total == 0 {
		return false
	}
	return float64(errors)*100/float64(total) >= pct
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Caller holds mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
