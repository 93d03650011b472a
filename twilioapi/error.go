// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package twilioapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go/client"

	"github.com/sprucehealth/callbridge/carrier"
)

// ErrorCodeTooManyRequests is the Twilio error code for rate limiting
const ErrorCodeTooManyRequests = 20429

// classify maps a twilio-go error onto the carrier error vocabulary
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *client.TwilioRestError
	if !errors.As(err, &rest) {
		return &carrier.Error{Op: op, Err: err}
	}
	if rest.Status == http.StatusTooManyRequests || rest.Code == ErrorCodeTooManyRequests {
		return fmt.Errorf("twilio: %s: %w", op, carrier.ErrRateLimited)
	}
	return &carrier.Error{Op: op, Status: rest.Status, Reason: fmt.Sprintf("%d %s", rest.Code, rest.Message), Err: err}
}
