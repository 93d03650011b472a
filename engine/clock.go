// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"container/heap"
	"sync"
	"time"
)

// Clock drives dispatcher ticks and delayed session removal
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a cancellable timer
type Timer interface {
	Stop() bool
}

// AutoClock uses real time
type AutoClock struct{}

// NewAutoClock creates a clock that uses real time
func NewAutoClock() *AutoClock {
	return &AutoClock{}
}

func (c *AutoClock) Now() time.Time {
	return time.Now()
}

func (c *AutoClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *AutoClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock only moves when Advance is called. Due callbacks run on the
// goroutine calling Advance, in fire-time order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers timerHeap
}

// NewManualClock creates a clock with manual time control
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	mt := &manualTimer{
		fireAt: c.now.Add(d),
		fn:     f,
		clock:  c,
	}
	heap.Push(&c.timers, mt)
	return mt
}

// PendingTimers returns the number of timers that have not fired or been stopped
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward and fires all timers that became due
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

func (c *ManualClock) fireDue() {
	for {
		c.mu.Lock()
		if len(c.timers) == 0 {
			c.mu.Unlock()
			return
		}
		mt := c.timers[0]
		if !mt.stopped && mt.fireAt.After(c.now) {
			c.mu.Unlock()
			return
		}
		heap.Pop(&c.timers)
		fire := !mt.stopped
		mt.stopped = true
		c.mu.Unlock()

		if fire && mt.fn != nil {
			mt.fn()
		}
	}
}

type manualTimer struct {
	fireAt  time.Time
	fn      func()
	clock   *ManualClock
	stopped bool
	index   int
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// timerHeap implements heap.Interface for timers
type timerHeap []*manualTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	timer := x.(*manualTimer)
	timer.index = len(*h)
	*h = append(*h, timer)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	timer := old[n-1]
	old[n-1] = nil
	timer.index = -1
	*h = old[0 : n-1]
	return timer
}
