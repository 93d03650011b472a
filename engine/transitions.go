// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import "github.com/sprucehealth/callbridge/model"

// action is a set of follow-up effects decided by a state transition
type action uint8

const (
	actRequeue action = 1 << iota
	actScheduleRemoval
	actRemoveNow
	actPlaceTelephone
	actBridge
	actSignal
	actRecord
)

func (a action) has(b action) bool { return a&b != 0 }

// transition applies a leg event to the session and returns the effects to run
// once the registry lock is released. It is the whole per-session state
// machine; both call flow modes share it.
func transition(mode model.CallFlowMode, s *model.Session, leg model.LegKind, ev model.LegEvent) action {
	switch leg {
	case model.SocketLeg:
		if s.SocketLegID == "" && ev.LegID != "" {
			s.SocketLegID = ev.LegID
		}
		a := socketTransition(mode, s, ev)
		if takePendingSignal(s) {
			a |= actSignal
		}
		return a

	case model.TelephoneLeg:
		return telephoneTransition(mode, s, ev)
	}
	return 0
}

// takePendingSignal clears a signal held back until the socket leg id was
// known and reports whether it is due now
func takePendingSignal(s *model.Session) bool {
	if !s.SignalPending || s.SocketLegID == "" || s.SocketDone {
		return false
	}
	s.SignalPending = false
	return true
}

func socketTransition(mode model.CallFlowMode, s *model.Session, ev model.LegEvent) action {
	switch {
	case ev.Type == model.EventTransfer:
		if mode != model.BridgedConference || s.TelephoneRequested || s.SocketDone {
			return 0
		}
		s.TelephoneRequested = true
		return actPlaceTelephone
	case ev.Status == model.LegAnswered:
		s.SocketAnswered = true
		return 0
	case ev.Status.IsTerminal():
		if s.SocketDone {
			return 0
		}
		s.SocketDone = true
		if mode == model.BridgedConference {
			if !s.TelephoneRequested || s.TelephoneDone {
				return actRemoveNow
			}
			return 0
		}
		var a action
		if s.TelephoneLegID == "" {
			a |= actRequeue
		}
		if !s.RemovalScheduled {
			s.RemovalScheduled = true
			a |= actScheduleRemoval
		}
		return a
	}
	return 0
}

func telephoneTransition(mode model.CallFlowMode, s *model.Session, ev model.LegEvent) action {
	if s.TelephoneLegID != "" && ev.LegID != "" && ev.LegID != s.TelephoneLegID {
		return 0
	}
	switch {
	case ev.Status == model.LegAnswered:
		if s.TelephoneAnswered {
			return 0
		}
		s.TelephoneAnswered = true
		if s.TelephoneLegID == "" {
			s.TelephoneLegID = ev.LegID
		}
		var a action
		// Held until the socket leg id is recorded.
		if s.SocketLegID == "" {
			s.SignalPending = true
		} else {
			a |= actSignal
		}
		if mode == model.BridgedConference {
			a |= actBridge
		}
		if s.RecordThisCall {
			a |= actRecord
		}
		return a
	case ev.Status.IsTerminal():
		if s.TelephoneDone {
			return 0
		}
		s.TelephoneDone = true
		if mode == model.BridgedConference {
			return actRemoveNow
		}
		if s.TelephoneAnswered && !s.RemovalScheduled {
			s.RemovalScheduled = true
			return actScheduleRemoval
		}
	}
	return 0
}
