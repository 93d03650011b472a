// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprucehealth/callbridge/httpstub"
	"github.com/sprucehealth/callbridge/model"
)

var (
	callAddr   string
	callCallee string
	callCaller string
	callRecord bool
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Ask a running instance to queue an outbound call",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		return requestCall(ctx, httpstub.NewDefaultClient(0), cmd.OutOrStdout(), callAddr, callCallee, callCaller, callRecord)
	},
}

func init() {
	callCmd.Flags().StringVar(&callAddr, "addr", "http://localhost:8000", "base URL of the running instance")
	callCmd.Flags().StringVar(&callCallee, "callee", "", "number to call (default callee_number)")
	callCmd.Flags().StringVar(&callCaller, "caller", "", "caller id (default service_phone_number)")
	callCmd.Flags().BoolVar(&callRecord, "record", false, "record the telephone leg")
}

func requestCall(ctx context.Context, hc httpstub.Client, out io.Writer, addr, callee, caller string, record bool) error {
	q := url.Values{}
	if callee != "" {
		q.Set("callee", callee)
	}
	if caller != "" {
		q.Set("caller", caller)
	}
	if record {
		q.Set("record", strconv.FormatBool(record))
	}
	u := strings.TrimRight(addr, "/") + model.PathCall
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := hc.Do(ctx, httpstub.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("call request rejected (status %d): %s", resp.Status, strings.TrimSpace(string(resp.Body)))
	}
	_, err = fmt.Fprintln(out, string(resp.Body))
	return err
}
