// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Command callbridge places outbound calls that bridge a telephone callee
// to an audio processing websocket.
//
// Usage:
//
//	callbridge serve [--config path]
//	callbridge call --callee 14155550100 [--record] [--addr http://localhost:8000]
package main

import (
	"fmt"
	"os"

	"github.com/sprucehealth/callbridge/cmd/callbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
