// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package webhook

import "github.com/sprucehealth/callbridge/model"

// legEventPayload accepts Vonage JSON events and Twilio form callbacks
type legEventPayload struct {
	UUID   string `json:"uuid" form:"CallSid"`
	Status string `json:"status" form:"CallStatus"`
	Type   string `json:"type" form:"StatusCallbackEvent"`
}

func (p legEventPayload) event(id model.SessionID) model.LegEvent {
	return model.LegEvent{
		SessionID: id,
		LegID:     p.UUID,
		Status:    model.ParseLegStatus(p.Status),
		Type:      model.ParseEventType(p.Type),
	}
}

// resultsPayload is a streaming speech recognition result
type resultsPayload struct {
	Type    string `json:"type"`
	IsFinal *bool  `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string `json:"word"`
				Speaker *int   `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (p resultsPayload) event(id model.SessionID) model.TranscriptEvent {
	ev := model.TranscriptEvent{
		SessionID: id,
		Type:      p.Type,
		IsFinal:   p.IsFinal == nil || *p.IsFinal,
	}
	if len(p.Channel.Alternatives) > 0 {
		alt := p.Channel.Alternatives[0]
		ev.Transcript = alt.Transcript
		if len(alt.Words) > 0 {
			ev.Speaker = alt.Words[0].Speaker
		}
	}
	return ev
}

const vonageRecordDone = "audio:record:done"

// vonageRecordingPayload is a Vonage RTC event
type vonageRecordingPayload struct {
	Type string `json:"type"`
	Body struct {
		DestinationURL string `json:"destination_url"`
		RecordingID    string `json:"recording_id"`
		Channel        struct {
			To struct {
				Number string `json:"number"`
			} `json:"to"`
			Legs []struct {
				LegID string `json:"leg_id"`
			} `json:"legs"`
		} `json:"channel"`
	} `json:"body"`
}

func (p vonageRecordingPayload) event() (model.RecordingEvent, bool) {
	if p.Type != vonageRecordDone || p.Body.DestinationURL == "" {
		return model.RecordingEvent{}, false
	}
	ev := model.RecordingEvent{
		URL:    p.Body.DestinationURL,
		Callee: p.Body.Channel.To.Number,
	}
	if len(p.Body.Channel.Legs) > 0 {
		ev.LegID = p.Body.Channel.Legs[0].LegID
	}
	return ev, true
}

// twilioRecordingPayload is a Twilio recording status callback
type twilioRecordingPayload struct {
	RecordingURL    string `form:"RecordingUrl"`
	RecordingStatus string `form:"RecordingStatus"`
	CallSid         string `form:"CallSid"`
	Callee          string `form:"callee"`
}

func (p twilioRecordingPayload) event() (model.RecordingEvent, bool) {
	if p.RecordingStatus != "completed" || p.RecordingURL == "" {
		return model.RecordingEvent{}, false
	}
	return model.RecordingEvent{URL: p.RecordingURL, LegID: p.CallSid, Callee: p.Callee}, true
}
