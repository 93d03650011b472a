// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package carrier defines the call placement boundary between the engine and
// a voice carrier. Implementations live in the vonage and twilioapi packages.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sprucehealth/callbridge/model"
)

// MaxRingTimeout caps how long the carrier lets a leg ring before giving up
const MaxRingTimeout = 60 * time.Second

// SocketContentType is the fixed audio format negotiated on the socket leg
const SocketContentType = model.SocketContentType

// ErrRateLimited means the carrier rejected the request as too many requests.
// The request may be retried unchanged.
var ErrRateLimited = errors.New("carrier: rate limited")

// Error is a non-retryable carrier failure
type Error struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("carrier: %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SocketCallRequest places the leg connected to the audio processing socket
type SocketCallRequest struct {
	Callee       string
	Caller       string
	SessionID    model.SessionID
	CallbackBase string
	SocketURI    string
	Mode         model.CallFlowMode
}

// TelephoneCallRequest places the PSTN leg of a bridged-conference call
type TelephoneCallRequest struct {
	Callee       string
	Caller       string
	SessionID    model.SessionID
	CallbackBase string
	Conference   string
}

// RecordingRequest starts recording one leg
type RecordingRequest struct {
	LegID        string
	Callee       string
	CallbackBase string
}

// RejectMessage is spoken to unexpected inbound callers
const RejectMessage = "This number does not accept incoming calls."

// AnswerRequest asks for the instruction returned from an answer webhook.
// A zero Leg means an unexpected inbound call, answered with RejectMessage.
type AnswerRequest struct {
	Leg          model.LegKind
	LegID        string
	SessionID    model.SessionID
	CallbackBase string
	SocketURI    string
	Conference   string
}

// Client is the call placement client used by the dispatcher and the correlator
type Client interface {
	PlaceSocketCall(ctx context.Context, req SocketCallRequest) (legID string, err error)
	PlaceTelephoneCall(ctx context.Context, req TelephoneCallRequest) (legID string, err error)
	SendDTMF(ctx context.Context, legID, digits string) error
	TransferToConference(ctx context.Context, legID, conference string) error
	StartRecording(ctx context.Context, req RecordingRequest) error
	DownloadRecording(ctx context.Context, url string) ([]byte, error)
	AnswerInstruction(req AnswerRequest) (contentType string, body []byte, err error)
	// Modes reports which call flow modes the carrier can drive
	Modes() []model.CallFlowMode
}

// CallbackURL joins a webhook path and session query onto the public base URL
func CallbackURL(base, path string, id model.SessionID) string {
	u := base + path
	if id != "" {
		u += "?session_id=" + id.String()
	}
	return u
}

// ClampRingTimeout bounds a configured ring timeout to (0, MaxRingTimeout]
func ClampRingTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > MaxRingTimeout {
		return MaxRingTimeout
	}
	return d
}

// Supports reports whether c can drive mode
func Supports(c Client, mode model.CallFlowMode) bool {
	for _, m := range c.Modes() {
		if m == mode {
			return true
		}
	}
	return false
}
