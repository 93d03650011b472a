// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"errors"
	"fmt"

	"github.com/sprucehealth/callbridge/model"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrRecordingStart   = errors.New("recording start failed")
	ErrDownload         = errors.New("recording download failed")
)

func notFoundError(id model.SessionID) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}
