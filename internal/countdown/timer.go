// Package countdown is the exam clock: a pausable timer that calls its
// subscribers once when the allotted time runs out.
package countdown

import (
	"sync"
	"time"
)

// Timer counts down a fixed duration. It fires at most once.
type Timer struct {
	mu        sync.Mutex
	remaining time.Duration
	startedAt time.Time
	running   bool
	fired     bool
	stopped   bool
	gen       int
	timer     *time.Timer
	nextID    int
	subs      map[int]func()
	now       func() time.Time
}

// New returns a stopped timer for total.
func New(total time.Duration) *Timer {
	if total < 0 {
		total = 0
	}
	return &Timer{
		remaining: total,
		subs:      make(map[int]func()),
		now:       time.Now,
	}
}

// FromMinutes builds a timer for an exam duration given in minutes.
func FromMinutes(minutes int) *Timer {
	return New(time.Duration(minutes) * time.Minute)
}

// Resumed builds a timer for an attempt of total length that began at
// startedAt. A zero startedAt yields the full length.
func Resumed(total time.Duration, startedAt, now time.Time) *Timer {
	if startedAt.IsZero() {
		return New(total)
	}
	return New(total - now.Sub(startedAt))
}

// Subscribe registers cb to run when the timer reaches zero. Subscribing after the
// timer fired does nothing.
func (t *Timer) Subscribe(cb func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = cb
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Start begins or resumes the countdown.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.fired || t.stopped {
		return
	}
	t.running = true
	t.startedAt = t.now()
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.remaining, func() { t.fire(gen) })
}

// Resume is Start after a Pause.
func (t *Timer) Resume() {
	t.Start()
}

// Pause freezes the remaining time.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.timer.Stop()
	t.gen++
	t.remaining -= t.now().Sub(t.startedAt)
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.running = false
}

// Stop cancels the countdown for good. Subscribers are never called afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	t.stopped = true
	t.running = false
}

// Remaining returns the time left.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return 0
	}
	left := t.remaining
	if t.running {
		left -= t.now().Sub(t.startedAt)
	}
	if left < 0 {
		left = 0
	}
	return left
}

// Fired reports whether the timer reached zero.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

func (t *Timer) fire(gen int) {
	t.mu.Lock()
	if gen != t.gen || t.fired || t.stopped {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.running = false
	t.remaining = 0
	subs := make([]func(), 0, len(t.subs))
	for _, cb := range t.subs {
		subs = append(subs, cb)
	}
	t.mu.Unlock()

	for _, cb := range subs {
		cb()
	}
}
