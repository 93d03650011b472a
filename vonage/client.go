// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package vonage drives calls through the Vonage Voice REST API
package vonage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/httpstub"
	"github.com/sprucehealth/callbridge/model"
)

const (
	DefaultVoiceBaseURL = "https://api.nexmo.com"
	DefaultAPIBaseURL   = "https://api.nexmo.com"
)

// Config configures the Vonage client
type Config struct {
	// VoiceBaseURL serves /v1/calls
	VoiceBaseURL string
	// APIBaseURL serves the leg recording API and is region specific
	APIBaseURL    string
	ServiceNumber string
	RingTimeout   time.Duration
}

// Client implements carrier.Client for Vonage
type Client struct {
	cfg    Config
	tokens TokenSource
	http   httpstub.Client
}

var _ carrier.Client = (*Client)(nil)

func New(cfg Config, tokens TokenSource, hc httpstub.Client) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("vonage: token source is required")
	}
	if cfg.VoiceBaseURL == "" {
		cfg.VoiceBaseURL = DefaultVoiceBaseURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.VoiceBaseURL = strings.TrimRight(cfg.VoiceBaseURL, "/")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.RingTimeout = carrier.ClampRingTimeout(cfg.RingTimeout)
	if hc == nil {
		hc = httpstub.NewDefaultClient(30 * time.Second)
	}
	return &Client{cfg: cfg, tokens: tokens, http: hc}, nil
}

type createCallRequest struct {
	To           []Endpoint `json:"to"`
	From         Endpoint   `json:"from"`
	AnswerURL    []string   `json:"answer_url,omitempty"`
	AnswerMethod string     `json:"answer_method,omitempty"`
	EventURL     []string   `json:"event_url,omitempty"`
	EventMethod  string     `json:"event_method,omitempty"`
	NCCO         NCCO       `json:"ncco,omitempty"`
	RingingTimer int        `json:"ringing_timer,omitempty"`
}

type createCallResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	ConversationUUID string `json:"conversation_uuid"`
}

type errorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (c *Client) timeoutSeconds() int {
	return int(c.cfg.RingTimeout / time.Second)
}

func (c *Client) caller(caller string) string {
	if caller != "" {
		return caller
	}
	return c.cfg.ServiceNumber
}

// PlaceSocketCall creates the websocket leg. In combined mode its NCCO
// connects the callee inline; in bridged mode the answer webhook parks it in
// a conversation.
func (c *Client) PlaceSocketCall(ctx context.Context, req carrier.SocketCallRequest) (string, error) {
	body := createCallRequest{
		To:          []Endpoint{WebsocketEndpoint(req.SocketURI, carrier.SocketContentType)},
		From:        PhoneEndpoint(req.Callee),
		EventURL:    []string{carrier.CallbackURL(req.CallbackBase, model.PathSocketEvent, req.SessionID)},
		EventMethod: http.MethodPost,
	}
	if req.Mode == model.BridgedConference {
		body.AnswerURL = []string{carrier.CallbackURL(req.CallbackBase, model.PathSocketAnswer, req.SessionID)}
		body.AnswerMethod = http.MethodGet
	} else {
		body.NCCO = NCCO{Connect(
			PhoneEndpoint(req.Callee),
			c.caller(req.Caller),
			strconv.Itoa(c.timeoutSeconds()),
			carrier.CallbackURL(req.CallbackBase, model.PathTelephoneEvent, req.SessionID),
		)}
	}

	var out createCallResponse
	if err := c.do(ctx, "create socket call", http.MethodPost, c.cfg.VoiceBaseURL+"/v1/calls", body, &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		return "", &carrier.Error{Op: "create socket call", Reason: "response carried no uuid"}
	}
	log.Debug().Str("module", "vonage").Str("session_id", req.SessionID.String()).Str("leg_id", out.UUID).Msg("socket call created")
	return out.UUID, nil
}

// PlaceTelephoneCall creates the PSTN leg of a bridged call
func (c *Client) PlaceTelephoneCall(ctx context.Context, req carrier.TelephoneCallRequest) (string, error) {
	body := createCallRequest{
		To:           []Endpoint{PhoneEndpoint(req.Callee)},
		From:         PhoneEndpoint(c.caller(req.Caller)),
		AnswerURL:    []string{carrier.CallbackURL(req.CallbackBase, model.PathTelephoneAnswer, req.SessionID)},
		AnswerMethod: http.MethodGet,
		EventURL:     []string{carrier.CallbackURL(req.CallbackBase, model.PathTelephoneEvent, req.SessionID)},
		EventMethod:  http.MethodPost,
		RingingTimer: c.timeoutSeconds(),
	}
	var out createCallResponse
	if err := c.do(ctx, "create telephone call", http.MethodPost, c.cfg.VoiceBaseURL+"/v1/calls", body, &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		return "", &carrier.Error{Op: "create telephone call", Reason: "response carried no uuid"}
	}
	return out.UUID, nil
}

func (c *Client) SendDTMF(ctx context.Context, legID, digits string) error {
	u := c.cfg.VoiceBaseURL + "/v1/calls/" + url.PathEscape(legID) + "/dtmf"
	return c.do(ctx, "send dtmf", http.MethodPut, u, map[string]string{"digits": digits}, nil)
}

type transferRequest struct {
	Action      string `json:"action"`
	Destination struct {
		Type string `json:"type"`
		NCCO NCCO   `json:"ncco"`
	} `json:"destination"`
}

func (c *Client) TransferToConference(ctx context.Context, legID, conference string) error {
	var body transferRequest
	body.Action = "transfer"
	body.Destination.Type = "ncco"
	body.Destination.NCCO = NCCO{Conversation(conference, false)}
	return c.do(ctx, "transfer", http.MethodPut, c.cfg.VoiceBaseURL+"/v1/calls/"+url.PathEscape(legID), body, nil)
}

type recordingRequest struct {
	Split        bool   `json:"split"`
	Streamed     bool   `json:"streamed"`
	Beep         bool   `json:"beep"`
	Public       bool   `json:"public"`
	ValidityTime int    `json:"validity_time"`
	Format       string `json:"format"`
}

// StartRecording records one leg. Completion is reported to the
// application's RTC webhook.
func (c *Client) StartRecording(ctx context.Context, req carrier.RecordingRequest) error {
	if req.LegID == "" {
		return &carrier.Error{Op: "start recording", Reason: "no leg id"}
	}
	body := recordingRequest{
		Split:        true,
		Streamed:     true,
		Public:       true,
		ValidityTime: 30,
		Format:       "wav",
	}
	u := c.cfg.APIBaseURL + "/v1/legs/" + url.PathEscape(req.LegID) + "/recording"
	return c.do(ctx, "start recording", http.MethodPut, u, body, nil)
}

func (c *Client) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, httpstub.Request{
		Method: http.MethodGet,
		URL:    recordingURL,
		Header: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, &carrier.Error{Op: "download recording", Err: err}
	}
	if err := checkStatus("download recording", resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// AnswerInstruction returns the NCCO for an answer webhook
func (c *Client) AnswerInstruction(req carrier.AnswerRequest) (string, []byte, error) {
	var ncco NCCO
	switch req.Leg {
	case model.SocketLeg:
		ncco = NCCO{Conversation(req.Conference, true)}
	case model.TelephoneLeg:
		ncco = NCCO{Conversation(req.Conference, false)}
	default:
		ncco = NCCO{Talk(carrier.RejectMessage, "en-US", 11)}
	}
	b, err := json.Marshal(ncco)
	if err != nil {
		return "", nil, err
	}
	return "application/json", b, nil
}

func (c *Client) Modes() []model.CallFlowMode {
	return []model.CallFlowMode{model.Combined, model.BridgedConference}
}

// do sends a JSON request with a freshly issued token and decodes the reply into out
func (c *Client) do(ctx context.Context, op, method, u string, body, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("vonage: encode %s: %w", op, err)
		}
	}
	resp, err := c.http.Do(ctx, httpstub.Request{
		Method: method,
		URL:    u,
		Header: http.Header{
			"Authorization": []string{"Bearer " + token},
			"Content-Type":  []string{"application/json"},
			"Accept":        []string{"application/json"},
		},
		Body: payload,
	})
	if err != nil {
		return &carrier.Error{Op: op, Err: err}
	}
	if err := checkStatus(op, resp); err != nil {
		log.Warn().Str("module", "vonage").Str("op", op).Int("status", resp.Status).Err(err).Msg("carrier request failed")
		return err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return &carrier.Error{Op: op, Status: resp.Status, Reason: "invalid response body", Err: err}
		}
	}
	return nil
}

func checkStatus(op string, resp httpstub.Response) error {
	if resp.Status == http.StatusTooManyRequests {
		return fmt.Errorf("vonage: %s: %w", op, carrier.ErrRateLimited)
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}
	reason := http.StatusText(resp.Status)
	var er errorResponse
	if json.Unmarshal(resp.Body, &er) == nil && (er.Title != "" || er.Detail != "") {
		reason = strings.TrimSpace(er.Title + " " + er.Detail)
	}
	return &carrier.Error{Op: op, Status: resp.Status, Reason: reason}
}
