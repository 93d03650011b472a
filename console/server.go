// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package console exposes a read-only view of dispatcher and session state
package console

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sprucehealth/callbridge/model"
)

// SessionSource lists in-flight sessions
type SessionSource interface {
	Snapshot() []model.Session
}

// QueueSource lists calls waiting for admission
type QueueSource interface {
	Pending() []model.PendingCall
}

// Snapshot is the JSON document served at /api/snapshot
type Snapshot struct {
	Sessions  []model.Session     `json:"sessions"`
	Pending   []model.PendingCall `json:"pending"`
	Mode      model.CallFlowMode  `json:"mode"`
	Timestamp time.Time           `json:"timestamp"`
}

// ConsoleServer serves state snapshots on an existing router
type ConsoleServer struct {
	sessions SessionSource
	queue    QueueSource
	mode     model.CallFlowMode
	now      func() time.Time
}

// NewConsoleServer creates a console over the given state sources. now
// defaults to time.Now.
func NewConsoleServer(sessions SessionSource, queue QueueSource, mode model.CallFlowMode, now func() time.Time) *ConsoleServer {
	if now == nil {
		now = time.Now
	}
	return &ConsoleServer{sessions: sessions, queue: queue, mode: mode, now: now}
}

// Register mounts the console routes
func (cs *ConsoleServer) Register(r gin.IRouter) {
	r.GET(model.PathSnapshot, cs.handleSnapshot)
}

// Snapshot captures the current state
func (cs *ConsoleServer) Snapshot() Snapshot {
	return Snapshot{
		Sessions:  cs.sessions.Snapshot(),
		Pending:   cs.queue.Pending(),
		Mode:      cs.mode,
		Timestamp: cs.now(),
	}
}

func (cs *ConsoleServer) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, cs.Snapshot())
}
