package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Loop for tests. Time only moves on Advance, and
// awaited work either completes inline or is held until Flush so tests can
// interleave other events with an in-flight Directory call.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*manualTimer
	hold    bool
	pending []func()
}

type manualTimer struct {
	m       *Manual
	due     time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewManual returns a manual loop whose clock starts at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn to run when the clock reaches now+d
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{m: m, due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Await runs work and resume inline, or queues both when Hold is active
func (m *Manual) Await(work func(), resume func()) {
	m.mu.Lock()
	if m.hold {
		m.pending = append(m.pending, func() {
			work()
			resume()
		})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	work()
	resume()
}

// Hold queues subsequent Await calls until Flush
func (m *Manual) Hold() {
	m.mu.Lock()
	m.hold = true
	m.mu.Unlock()
}

// Flush completes queued Await calls in order and stops holding.
// Awaits issued by a resume during Flush run inline.
func (m *Manual) Flush() {
	m.mu.Lock()
	m.hold = false
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Pending returns how many Await calls are held
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Advance moves the clock forward by d, firing due timers in due order.
// The clock reads each timer's due time while its callback runs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// nextDue pops the earliest live timer due at or before target
func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})

	for len(m.timers) > 0 {
		t := m.timers[0]
		if t.due.After(target) {
			return nil
		}
		m.timers = m.timers[1:]
		if t.stopped {
			continue
		}
		t.fired = true
		if t.due.After(m.now) {
			m.now = t.due
		}
		return t
	}
	return nil
}

// Scheduled returns the number of timers that have neither fired nor been stopped
func (m *Manual) Scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
