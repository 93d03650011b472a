// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twiml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// ContentType is the media type of rendered documents
const ContentType = "application/xml"

// Render serializes the response into a TwiML document
func Render(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := encodeNode(enc, resp); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type attrs []xml.Attr

func (a *attrs) add(name, value string) {
	if value != "" {
		*a = append(*a, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	}
}

func (a *attrs) addBool(name string, v bool) {
	*a = append(*a, xml.Attr{Name: xml.Name{Local: name}, Value: strconv.FormatBool(v)})
}

func (a *attrs) addSeconds(name string, d time.Duration) {
	if d > 0 {
		a.add(name, strconv.Itoa(int(d/time.Second)))
	}
}

func element(enc *xml.Encoder, name string, a attrs, text string, children []Node) error {
	start := xml.StartElement{Name: xml.Name{Local: name}, Attr: a}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	for _, child := range children {
		if err := encodeNode(enc, child); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func encodeNode(enc *xml.Encoder, n Node) error {
	var a attrs
	switch v := n.(type) {
	case *Response:
		return element(enc, "Response", nil, "", v.Children)
	case *Say:
		a.add("voice", v.Voice)
		a.add("language", v.Language)
		return element(enc, "Say", a, v.Text, nil)
	case *Play:
		a.add("digits", v.Digits)
		return element(enc, "Play", a, v.URL, nil)
	case *Pause:
		a.addSeconds("length", v.Length)
		return element(enc, "Pause", a, "", nil)
	case *Start:
		return element(enc, "Start", nil, "", v.Children)
	case *Stream:
		a.add("url", v.URL)
		a.add("track", v.Track)
		a.add("statusCallback", v.StatusCallback)
		a.add("statusCallbackEvent", v.StatusCallbackEvent)
		start := xml.StartElement{Name: xml.Name{Local: "Stream"}, Attr: a}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, p := range v.Parameters {
			var pa attrs
			pa.add("name", p.Name)
			pa.add("value", p.Value)
			if err := element(enc, "Parameter", pa, "", nil); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())
	case *Dial:
		a.add("callerId", v.CallerID)
		a.add("action", v.Action)
		a.add("method", v.Method)
		a.addSeconds("timeout", v.Timeout)
		return element(enc, "Dial", a, v.Number, v.Children)
	case *Number:
		return element(enc, "Number", nil, v.Number, nil)
	case *Sip:
		return element(enc, "Sip", nil, v.URI, nil)
	case *ConferenceDial:
		if v.Muted {
			a.addBool("muted", true)
		}
		a.addBool("beep", v.Beep)
		a.addBool("startConferenceOnEnter", v.StartConferenceOnEnter)
		a.addBool("endConferenceOnExit", v.EndConferenceOnExit)
		a.add("waitUrl", v.WaitURL)
		a.add("statusCallback", v.StatusCallback)
		a.add("statusCallbackEvent", v.StatusCallbackEvent)
		return element(enc, "Conference", a, v.Name, nil)
	case *Hangup:
		return element(enc, "Hangup", nil, "", nil)
	default:
		return fmt.Errorf("twiml: unsupported node %T", n)
	}
}
