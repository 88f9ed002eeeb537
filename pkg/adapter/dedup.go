// Copyright 2024-2026 Aiku AI

package adapter

import (
	"sync"
	"time"
)

// Deduplicator remembers deliveries so Slack retries of an event that is
// already being handled, or was handled recently, are not dispatched twice.
//
// A key stays recorded while its handler runs and for the retention window
// after Done. Keys whose handler never completes stay until the process
// exits.
type Deduplicator struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // key -> completion time, zero while in flight
}

func NewDeduplicator(retention time.Duration) *Deduplicator {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &Deduplicator{
		retention: retention,
		now:       time.Now,
		seen:      make(map[string]time.Time),
	}
}

// ShouldProcess reports whether a delivery should be handled and records it
// when it should. First deliveries (retryNum 0) are always handled. Retries
// are handled only when the key is unknown. Empty keys are always handled and
// never recorded.
func (d *Deduplicator) ShouldProcess(key string, retryNum int) bool {
	if key == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if retryNum > 0 {
		if _, ok := d.seen[key]; ok {
			return false
		}
	}
	d.seen[key] = time.Time{}
	return true
}

// Done marks the handler for key as finished, starting its retention window.
func (d *Deduplicator) Done(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		d.seen[key] = d.now()
	}
}

// Sweep evicts keys that finished more than the retention window before now
// and returns how many were removed.
func (d *Deduplicator) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key, doneAt := range d.seen {
		if !doneAt.IsZero() && now.Sub(doneAt) > d.retention {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

// Len is the number of recorded keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
