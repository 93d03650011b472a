// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiml

import "time"

// Node is the interface for all TwiML AST nodes
type Node interface {
	isNode()
}

// Response is the root TwiML element
type Response struct {
	Children []Node
}

func (Response) isNode() {}

// Say outputs text-to-speech
type Say struct {
	Text     string
	Voice    string
	Language string
}

func (Say) isNode() {}

// Play plays an audio file, or DTMF tones when Digits is set
type Play struct {
	URL    string
	Digits string
}

func (Play) isNode() {}

// Pause waits for a specified duration
type Pause struct {
	Length time.Duration
}

func (Pause) isNode() {}

// Start begins an asynchronous fork of the call media
type Start struct {
	Children []Node
}

func (Start) isNode() {}

// Stream forks call audio to a websocket
type Stream struct {
	URL                 string
	Track               string // "inbound_track", "outbound_track" or "both_tracks"
	StatusCallback      string
	StatusCallbackEvent string
	Parameters          []Parameter
}

func (Stream) isNode() {}

// Parameter is a custom key/value handed to the stream consumer
type Parameter struct {
	Name  string
	Value string
}

// Dial connects to another party
type Dial struct {
	Number   string
	CallerID string
	Action   string
	Method   string
	Timeout  time.Duration
	Children []Node // For nested <Number>, <Sip>, <Conference>
}

func (Dial) isNode() {}

// Number is used inside <Dial> to specify a phone number
type Number struct {
	Number string
}

func (Number) isNode() {}

// Sip is used inside <Dial> to reach a SIP endpoint
type Sip struct {
	URI string
}

func (Sip) isNode() {}

// ConferenceDial is used inside <Dial> to join a conference
type ConferenceDial struct {
	Name                   string
	Muted                  bool
	Beep                   bool
	StartConferenceOnEnter bool
	EndConferenceOnExit    bool
	WaitURL                string
	StatusCallback         string
	StatusCallbackEvent    string
}

func (ConferenceDial) isNode() {}

// Hangup ends the call
type Hangup struct{}

func (Hangup) isNode() {}
