package support

import (
	"sync"
	"time"
)

// DedupOptions configures a Deduplicator. Zero values fall back to the
// documented defaults.
type DedupOptions struct {
	// Window is the duration during which a repeated fingerprint is
	// considered a duplicate. Default 5s.
	Window time.Duration
	// Retention bounds how long a fingerprint is remembered before the
	// sweeper discards it. Default 5m.
	Retention time.Duration
	// SweepInterval is how often the background sweep runs. Default 5m.
	SweepInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

const (
	defaultDedupWindow    = 5 * time.Second
	defaultDedupRetention = 5 * time.Minute
	defaultDedupSweep     = 5 * time.Minute
)

// Deduplicator drops redelivered broker messages by fingerprint. The broker
// redelivers on resubscribe and the server occasionally double-publishes, so
// every inbound message is checked before it reaches the transcript.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	window    time.Duration
	retention time.Duration
	sweep     time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewDeduplicator creates a Deduplicator. Call Start to begin the background
// sweep and Close to stop it.
func NewDeduplicator(opts DedupOptions) *Deduplicator {
	if opts.Window <= 0 {
		opts.Window = defaultDedupWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultDedupRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultDedupSweep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Deduplicator{
		seen:      make(map[string]time.Time),
		window:    opts.Window,
		retention: opts.Retention,
		sweep:     opts.SweepInterval,
		now:       opts.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Seen reports whether fingerprint was recorded within the dedup window.
// A hit does NOT reset the timer: a third copy arriving after the window
// is treated as new even if a second copy arrived inside it. A miss records
// the current time.
func (d *Deduplicator) Seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[fingerprint]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[fingerprint] = now
	return false
}

// Len returns the number of remembered fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Start launches the background sweep goroutine.
func (d *Deduplicator) Start() {
	go func() {
		defer close(d.stopped)
		ticker := time.NewTicker(d.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweepExpired()
			case <-d.stop:
				return
			}
		}
	}()
}

// Close stops the background sweep. Safe to call multiple times and safe
// even if Start was never called, though in that case it returns without
// waiting.
func (d *Deduplicator) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Deduplicator) sweepExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for fp, at := range d.seen {
		if now.Sub(at) > d.retention {
			delete(d.seen, fp)
		}
	}
}
