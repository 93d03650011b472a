// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package vonage

// Endpoint addresses one side of a call
type Endpoint struct {
	Type        string            `json:"type"`
	Number      string            `json:"number,omitempty"`
	URI         string            `json:"uri,omitempty"`
	ContentType string            `json:"content-type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// PhoneEndpoint addresses a PSTN number
func PhoneEndpoint(number string) Endpoint {
	return Endpoint{Type: "phone", Number: number}
}

// WebsocketEndpoint addresses an audio websocket
func WebsocketEndpoint(uri, contentType string) Endpoint {
	return Endpoint{Type: "websocket", URI: uri, ContentType: contentType}
}

// Action is one NCCO step. Only the fields of the named action are set.
type Action struct {
	Action string `json:"action"`

	// talk
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Style    int    `json:"style,omitempty"`

	// connect
	EventURL []string   `json:"eventUrl,omitempty"`
	Timeout  string     `json:"timeout,omitempty"`
	From     string     `json:"from,omitempty"`
	Endpoint []Endpoint `json:"endpoint,omitempty"`

	// conversation
	Name         string `json:"name,omitempty"`
	StartOnEnter bool   `json:"startOnEnter,omitempty"`
	EndOnExit    bool   `json:"endOnExit,omitempty"`
}

// NCCO is a call control object
type NCCO []Action

// Talk speaks text to the caller
func Talk(text, language string, style int) Action {
	return Action{Action: "talk", Text: text, Language: language, Style: style}
}

// Connect bridges the call to endpoint
func Connect(endpoint Endpoint, from, timeout string, eventURL string) Action {
	a := Action{Action: "connect", From: from, Timeout: timeout, Endpoint: []Endpoint{endpoint}}
	if eventURL != "" {
		a.EventURL = []string{eventURL}
	}
	return a
}

// Conversation places the call into a named conference. The conference
// ends when a moderator leg leaves.
func Conversation(name string, moderator bool) Action {
	return Action{Action: "conversation", Name: name, StartOnEnter: true, EndOnExit: moderator}
}
