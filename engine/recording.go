// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"fmt"
	"time"
)

// RecordingFileName names a downloaded leg recording after the callee, the
// server local time with millisecond precision, and the leg identifier
func RecordingFileName(callee string, t time.Time, legID string) string {
	if callee == "" {
		callee = "unknown"
	}
	t = t.Local()
	return fmt.Sprintf("%s_%s_%03d_pstn_%s.wav", callee, t.Format("2006_01_02_15_04_05"), t.Nanosecond()/int(time.Millisecond), legID)
}
