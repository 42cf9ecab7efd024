package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once no new trigger
// has arrived for the configured delay. It holds at most one pending timer.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending *time.Timer
	gen     uint64
	stopped bool

	// running counts calls in flight. Add only happens under mu while not
	// stopped, so Stop can wait on it.
	running sync.WaitGroup
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger cancels any pending call and schedules fn after the delay.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.cancelLocked()

	d.gen++
	gen := d.gen
	d.pending = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that already fired cannot be stopped; the generation
		// check keeps a superseded callback from running.
		if d.stopped || gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.running.Add(1)
		d.mu.Unlock()

		defer d.running.Done()
		fn()
	})
}

// Stop cancels the pending call, ignores all later triggers and waits for a
// call that is already running. It must not be called from the debounced
// function itself.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.cancelLocked()
	d.stopped = true
	d.mu.Unlock()

	d.running.Wait()
}

func (d *Debouncer) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) cancelLocked() {
	if d.pending == nil {
		return
	}
	d.pending.Stop()
	d.pending = nil
	d.gen++
}
