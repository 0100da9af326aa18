package services

import (
	"sync"
	"time"
)

// DefaultSearchDebounce is the quiet window before search-as-you-type re-runs the pipeline.
const DefaultSearchDebounce = 300 * time.Millisecond

// SearchDebouncer runs a search only once the query has stopped changing for the quiet window.
// Each Submit restarts the window; only the latest query is run.
type SearchDebouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timer  *time.Timer
	gen    uint64
	latest SearchQuery
	run    func(SearchQuery)
}

func NewSearchDebouncer(delay time.Duration, run func(SearchQuery)) *SearchDebouncer {
	if delay <= 0 {
		delay = DefaultSearchDebounce
	}
	return &SearchDebouncer{delay: delay, run: run}
}

// Submit records q and restarts the quiet window.
func (d *SearchDebouncer) Submit(q SearchQuery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = q
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *SearchDebouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	q := d.latest
	d.timer = nil
	d.mu.Unlock()
	d.run(q)
}

// Flush runs a pending search immediately. It reports whether one was pending.
func (d *SearchDebouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil || !d.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	d.timer = nil
	q := d.latest
	d.mu.Unlock()
	d.run(q)
	return true
}

// Stop drops any pending search.
func (d *SearchDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
