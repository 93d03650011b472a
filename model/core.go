// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one logical outbound call across both of its legs
type SessionID string

func (s SessionID) String() string {
	return string(s)
}

// NewSessionID returns a fresh random session identifier
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// LegKind distinguishes the two legs of a bridged call
type LegKind string

const (
	SocketLeg    LegKind = "socket"
	TelephoneLeg LegKind = "telephone"
)

// LegStatus is a carrier-neutral leg lifecycle status
type LegStatus string

const (
	LegStarted   LegStatus = "started"
	LegRinging   LegStatus = "ringing"
	LegAnswered  LegStatus = "answered"
	LegCompleted LegStatus = "completed"
	LegBusy      LegStatus = "busy"
	LegFailed    LegStatus = "failed"
	LegRejected  LegStatus = "rejected"
	LegTimeout   LegStatus = "timeout"
	LegNoAnswer  LegStatus = "unanswered"
	LegCancelled LegStatus = "cancelled"
	LegMachine   LegStatus = "machine"
	LegUnknown   LegStatus = ""
)

// ParseLegStatus maps Vonage and Twilio status vocabularies onto LegStatus
func ParseLegStatus(s string) LegStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "started", "initiated", "queued":
		return LegStarted
	case "ringing":
		return LegRinging
	case "answered", "in-progress":
		return LegAnswered
	case "completed":
		return LegCompleted
	case "busy":
		return LegBusy
	case "failed":
		return LegFailed
	case "rejected":
		return LegRejected
	case "timeout":
		return LegTimeout
	case "unanswered", "no-answer":
		return LegNoAnswer
	case "cancelled", "canceled":
		return LegCancelled
	case "machine":
		return LegMachine
	default:
		return LegUnknown
	}
}

// IsTerminal reports whether no further events are expected for the leg
func (s LegStatus) IsTerminal() bool {
	switch s {
	case LegCompleted, LegBusy, LegFailed, LegRejected, LegTimeout, LegNoAnswer, LegCancelled, LegMachine:
		return true
	default:
		return false
	}
}

// EventType qualifies a leg event beyond its status
type EventType string

const (
	EventStatus   EventType = ""
	EventTransfer EventType = "transfer"
)

// ParseEventType maps Vonage event types and Twilio conference callbacks onto EventType
func ParseEventType(s string) EventType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer", "participant-join":
		return EventTransfer
	default:
		return EventStatus
	}
}

// CallFlowMode selects how the socket leg and the telephone leg are joined
type CallFlowMode string

const (
	// Combined places one call whose socket leg connects inline to the callee
	Combined CallFlowMode = "combined"
	// BridgedConference places two independent legs joined through a conference
	BridgedConference CallFlowMode = "bridged_conference"
)

// ParseCallFlowMode validates a configured call flow mode
func ParseCallFlowMode(s string) (CallFlowMode, error) {
	switch CallFlowMode(strings.ToLower(strings.TrimSpace(s))) {
	case Combined, "":
		return Combined, nil
	case BridgedConference:
		return BridgedConference, nil
	default:
		return "", fmt.Errorf("unknown call flow mode %q", s)
	}
}

// ConferenceName derives the bridge conference name from the socket leg identifier
func ConferenceName(socketLegID string) string {
	return "bridge-" + socketLegID
}

// PendingCall is a call waiting for admission by the dispatcher
type PendingCall struct {
	Callee       string `json:"callee"`
	Caller       string `json:"caller"`
	Record       bool   `json:"record"`
	Attempts     int    `json:"attempts"`
	CallbackBase string `json:"callback_base,omitempty"`
}

// Session correlates the legs of one in-flight call
type Session struct {
	ID             SessionID `json:"session_id"`
	SocketLegID    string    `json:"socket_leg_id,omitempty"`
	TelephoneLegID string    `json:"telephone_leg_id,omitempty"`
	Callee         string    `json:"callee"`
	Caller         string    `json:"caller"`
	RecordThisCall bool      `json:"record_this_call"`
	Attempts       int       `json:"attempts"`
	CallbackBase   string    `json:"callback_base,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	SocketAnswered     bool `json:"socket_answered"`
	TelephoneRequested bool `json:"telephone_requested"`
	TelephoneAnswered  bool `json:"telephone_answered"`
	SocketDone         bool `json:"socket_done"`
	TelephoneDone      bool `json:"telephone_done"`
	RemovalScheduled   bool `json:"removal_scheduled"`
	// SignalPending is set when the telephone leg answered before the socket
	// leg id was known
	SignalPending bool `json:"signal_pending"`
}

// Pending rebuilds the descriptor that produced the session, for a fresh attempt
func (s Session) Pending() PendingCall {
	return PendingCall{
		Callee:       s.Callee,
		Caller:       s.Caller,
		Record:       s.RecordThisCall,
		Attempts:     s.Attempts,
		CallbackBase: s.CallbackBase,
	}
}

// LegEvent is a normalized leg lifecycle callback
type LegEvent struct {
	SessionID SessionID
	LegID     string
	Status    LegStatus
	Type      EventType
}

// TranscriptEvent is one real-time speech recognition result
type TranscriptEvent struct {
	SessionID  SessionID
	Type       string
	Transcript string
	IsFinal    bool
	Speaker    *int
}

// RecordingEvent reports a finished leg recording ready for download
type RecordingEvent struct {
	URL    string
	LegID  string
	Callee string
}
