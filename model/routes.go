// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

// Webhook paths served by the callback surface and handed to the carrier
const (
	PathCall            = "/call"
	PathSocketEvent     = "/ws_event"
	PathTelephoneEvent  = "/pstn_event"
	PathSocketAnswer    = "/ws_answer"
	PathTelephoneAnswer = "/pstn_answer"
	PathResults         = "/results"
	PathRecording       = "/rtc"
	PathAnswer          = "/answer"
	PathEvent           = "/event"
	PathHealth          = "/_/health"
	PathSnapshot        = "/api/snapshot"
)

// SocketContentType is the carrier-mandated bridged audio format of the socket leg.
// It must never change.
const SocketContentType = "audio/l16;rate=16000"
