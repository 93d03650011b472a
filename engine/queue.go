// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"sync"

	"github.com/sprucehealth/callbridge/model"
)

// Queue is the ordered list of calls waiting for admission
type Queue struct {
	mu    sync.Mutex
	items []model.PendingCall
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends to the tail
func (q *Queue) Push(c model.PendingCall) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// PushFront puts c ahead of everything already waiting
func (q *Queue) PushFront(c model.PendingCall) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, model.PendingCall{})
	copy(q.items[1:], q.items)
	q.items[0] = c
}

// Pop removes and returns the head
func (q *Queue) Pop() (model.PendingCall, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.PendingCall{}, false
	}
	c := q.items[0]
	q.items[0] = model.PendingCall{}
	q.items = q.items[1:]
	return c, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the waiting calls, head first
func (q *Queue) Snapshot() []model.PendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.PendingCall, len(q.items))
	copy(out, q.items)
	return out
}
