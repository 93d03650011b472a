// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiml

import (
	"strings"
	"testing"
	"time"
)

func TestRenderStreamAndConference(t *testing.T) {
	doc, err := Render(&Response{Children: []Node{
		&Start{Children: []Node{
			&Stream{URL: "wss://proc/socket?a=1&b=2", Parameters: []Parameter{{Name: "content-type", Value: "audio/l16;rate=16000"}}},
		}},
		&Dial{Children: []Node{
			&ConferenceDial{
				Name:                   "bridge-CA1",
				StartConferenceOnEnter: true,
				EndConferenceOnExit:    true,
				StatusCallback:         "https://cb/ws_event?session_id=s1",
				StatusCallbackEvent:    "join",
			},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	got := string(doc)
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response><Start><Stream url="wss://proc/socket?a=1&amp;b=2">` +
		`<Parameter name="content-type" value="audio/l16;rate=16000"></Parameter></Stream></Start>` +
		`<Dial><Conference beep="false" startConferenceOnEnter="true" endConferenceOnExit="true" ` +
		`statusCallback="https://cb/ws_event?session_id=s1" statusCallbackEvent="join">bridge-CA1</Conference></Dial></Response>`
	if got != want {
		t.Fatalf("unexpected document:\n got: %s\nwant: %s", got, want)
	}
}

func TestRenderPlayDigitsAndSay(t *testing.T) {
	doc := mustRender(t, &Response{Children: []Node{
		&Play{Digits: "8"},
		&Say{Text: "This number does not accept incoming calls.", Language: "en-US"},
		&Pause{Length: 2 * time.Second},
		&Hangup{},
	}})
	for _, frag := range []string{
		`<Play digits="8"></Play>`,
		`<Say language="en-US">This number does not accept incoming calls.</Say>`,
		`<Pause length="2"></Pause>`,
		`<Hangup></Hangup>`,
	} {
		if !strings.Contains(doc, frag) {
			t.Errorf("document missing %s:\n%s", frag, doc)
		}
	}
}

func TestRenderDialSip(t *testing.T) {
	doc := mustRender(t, &Response{Children: []Node{
		&Dial{CallerID: "+15550000000", Timeout: 45 * time.Second, Children: []Node{&Sip{URI: "sip:proc@example.com"}}},
	}})
	if !strings.Contains(doc, `<Dial callerId="+15550000000" timeout="45"><Sip>sip:proc@example.com</Sip></Dial>`) {
		t.Fatalf("unexpected dial: %s", doc)
	}
}

func TestRenderUnsupportedNode(t *testing.T) {
	type bogus struct{ Hangup }
	if _, err := Render(&Response{Children: []Node{bogus{}}}); err == nil {
		t.Fatal("Expected error for unsupported node")
	}
}

func mustRender(t *testing.T, resp *Response) string {
	t.Helper()
	b, err := Render(resp)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
