// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/model"
)

// Registry owns every in-flight session. Callers only ever see copies; all
// mutation goes through Update so that check-and-set transitions are atomic.
type Registry struct {
	mu       sync.Mutex
	sessions map[model.SessionID]*model.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[model.SessionID]*model.Session)}
}

// Create registers a new session
func (r *Registry) Create(s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, s.ID)
	}
	cp := s
	r.sessions[s.ID] = &cp
	log.Debug().Str("module", "engine.registry").Str("session_id", s.ID.String()).Str("callee", s.Callee).Msg("created session")
	return nil
}

// Get returns a copy of the session
func (r *Registry) Get(id model.SessionID) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, notFoundError(id)
	}
	return *s, nil
}

// Update applies fn to the session under the registry lock. If fn returns an
// error the session is left untouched and the error is returned.
func (r *Registry) Update(id model.SessionID, fn func(*model.Session) error) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, notFoundError(id)
	}
	next := *s
	if err := fn(&next); err != nil {
		return *s, err
	}
	// Identity and call metadata are immutable.
	next.ID, next.Callee, next.Caller, next.RecordThisCall = s.ID, s.Callee, s.Caller, s.RecordThisCall
	*s = next
	return next, nil
}

// Remove deletes the session. Removing an unknown session is a no-op.
func (r *Registry) Remove(id model.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	log.Debug().Str("module", "engine.registry").Str("session_id", id.String()).Msg("removed session")
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns copies of all sessions ordered by creation time
func (r *Registry) Snapshot() []model.Session {
	r.mu.Lock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
