// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sprucehealth/callbridge/model"
)

// NormalizeBaseURL turns a configured host or URL into an absolute https base
// without a trailing slash
func NormalizeBaseURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("empty callback base")
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid callback base %q: %w", base, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("callback base %q has no host", base)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// SocketURI builds the processor websocket address for a session. The
// processor posts transcripts back to the results webhook given here.
func SocketURI(processor, callbackBase string, id model.SessionID) string {
	q := url.Values{}
	q.Set("outbound_pstn", "true")
	q.Set("session_id", id.String())
	q.Set("webhook_url", callbackBase+model.PathResults+"?session_id="+id.String())
	return "wss://" + strings.TrimRight(processor, "/") + "/socket?" + q.Encode()
}
