// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package twilioapi drives bridged-conference calls through the Twilio REST API
package twilioapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/httpstub"
	"github.com/sprucehealth/callbridge/model"
	"github.com/sprucehealth/callbridge/twiml"
)

// CallsAPI is the subset of the twilio-go v2010 service used here
type CallsAPI interface {
	CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioopenapi.UpdateCallParams) (*twilioopenapi.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *twilioopenapi.CreateCallRecordingParams) (*twilioopenapi.ApiV2010CallRecording, error)
}

// Config configures the Twilio client
type Config struct {
	AccountSID string
	AuthToken  string
	// SocketSIPURI is the SIP endpoint dialed for the socket leg. Its answer
	// webhook forks the audio to the processor.
	SocketSIPURI  string
	ServiceNumber string
	RingTimeout   time.Duration
}

// Client implements carrier.Client for Twilio
type Client struct {
	cfg  Config
	api  CallsAPI
	http httpstub.Client
}

var _ carrier.Client = (*Client)(nil)

// NewClient wraps an existing API implementation
func NewClient(cfg Config, api CallsAPI, hc httpstub.Client) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("twilio: api is required")
	}
	if cfg.SocketSIPURI == "" {
		return nil, fmt.Errorf("twilio: socket sip uri is required")
	}
	cfg.RingTimeout = carrier.ClampRingTimeout(cfg.RingTimeout)
	if hc == nil {
		hc = httpstub.NewDefaultClient(30 * time.Second)
	}
	return &Client{cfg: cfg, api: api, http: hc}, nil
}

// New creates a client backed by the twilio-go REST client
func New(cfg Config, hc httpstub.Client) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio: account sid and auth token are required")
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewClient(cfg, rc.Api, hc)
}

var legStatusEvents = []string{"initiated", "ringing", "answered", "completed"}

func (c *Client) timeoutSeconds() int {
	return int(c.cfg.RingTimeout / time.Second)
}

func (c *Client) caller(caller string) string {
	if caller != "" {
		return caller
	}
	return c.cfg.ServiceNumber
}

func (c *Client) createCall(op, to, from, answerURL, eventURL string) (string, error) {
	params := &twilioopenapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(answerURL)
	params.SetMethod(http.MethodPost)
	params.SetStatusCallback(eventURL)
	params.SetStatusCallbackMethod(http.MethodPost)
	params.SetStatusCallbackEvent(legStatusEvents)
	params.SetTimeout(c.timeoutSeconds())

	call, err := c.api.CreateCall(params)
	if err != nil {
		return "", classify(op, err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", &carrier.Error{Op: op, Reason: "response carried no call sid"}
	}
	return *call.Sid, nil
}

// PlaceSocketCall dials the processor SIP endpoint. Only bridged-conference
// mode is supported.
func (c *Client) PlaceSocketCall(ctx context.Context, req carrier.SocketCallRequest) (string, error) {
	if req.Mode != model.BridgedConference {
		return "", &carrier.Error{Op: "create socket call", Reason: fmt.Sprintf("call flow mode %q not supported", req.Mode)}
	}
	sid, err := c.createCall("create socket call",
		c.cfg.SocketSIPURI,
		c.caller(req.Caller),
		carrier.CallbackURL(req.CallbackBase, model.PathSocketAnswer, req.SessionID),
		carrier.CallbackURL(req.CallbackBase, model.PathSocketEvent, req.SessionID),
	)
	if err != nil {
		return "", err
	}
	log.Debug().Str("module", "twilioapi").Str("session_id", req.SessionID.String()).Str("leg_id", sid).Msg("socket call created")
	return sid, nil
}

func (c *Client) PlaceTelephoneCall(ctx context.Context, req carrier.TelephoneCallRequest) (string, error) {
	return c.createCall("create telephone call",
		req.Callee,
		c.caller(req.Caller),
		carrier.CallbackURL(req.CallbackBase, model.PathTelephoneAnswer, req.SessionID),
		carrier.CallbackURL(req.CallbackBase, model.PathTelephoneEvent, req.SessionID),
	)
}

func (c *Client) updateTwiML(op, legID string, resp *twiml.Response) error {
	doc, err := twiml.Render(resp)
	if err != nil {
		return err
	}
	params := &twilioopenapi.UpdateCallParams{}
	params.SetTwiml(string(doc))
	if _, err := c.api.UpdateCall(legID, params); err != nil {
		return classify(op, err)
	}
	return nil
}

// SendDTMF plays digits on the socket leg and returns it to its bridge
// conference. The redirect takes the leg out of the conference, which must not
// end it; the leg re-enters as a participant whose exit ends the bridge.
func (c *Client) SendDTMF(ctx context.Context, legID, digits string) error {
	return c.updateTwiML("send dtmf", legID, &twiml.Response{Children: []twiml.Node{
		&twiml.Play{Digits: digits},
		conferenceDial(model.ConferenceName(legID), true, ""),
	}})
}

// TransferToConference moves a leg into the conference. The leg's exit ends
// the bridge from then on, so a callee hanging up releases the socket leg.
func (c *Client) TransferToConference(ctx context.Context, legID, conference string) error {
	return c.updateTwiML("transfer", legID, &twiml.Response{Children: []twiml.Node{
		conferenceDial(conference, true, ""),
	}})
}

func (c *Client) StartRecording(ctx context.Context, req carrier.RecordingRequest) error {
	if req.LegID == "" {
		return &carrier.Error{Op: "start recording", Reason: "no leg id"}
	}
	params := &twilioopenapi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(req.CallbackBase + model.PathRecording + "?callee=" + req.Callee)
	params.SetRecordingStatusCallbackMethod(http.MethodPost)
	params.SetRecordingStatusCallbackEvent([]string{"completed"})
	params.SetRecordingChannels("mono")
	if _, err := c.api.CreateCallRecording(req.LegID, params); err != nil {
		return classify("start recording", err)
	}
	return nil
}

// DownloadRecording fetches the WAV rendition of a recording
func (c *Client) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	u := recordingURL
	if !strings.HasSuffix(u, ".wav") {
		u += ".wav"
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.AccountSID + ":" + c.cfg.AuthToken))
	resp, err := c.http.Do(ctx, httpstub.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{"Authorization": []string{"Basic " + auth}},
	})
	if err != nil {
		return nil, &carrier.Error{Op: "download recording", Err: err}
	}
	switch {
	case resp.Status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("twilio: download recording: %w", carrier.ErrRateLimited)
	case resp.Status < 200 || resp.Status >= 300:
		return nil, &carrier.Error{Op: "download recording", Status: resp.Status, Reason: http.StatusText(resp.Status)}
	}
	return resp.Body, nil
}

// AnswerInstruction renders the TwiML for an answer webhook. The socket leg
// forks its audio to the processor and opens the bridge conference; joining
// participants are reported to the socket event webhook. Neither leg ends the
// conference on its first join, since SendDTMF and TransferToConference
// redirect legs out of it.
func (c *Client) AnswerInstruction(req carrier.AnswerRequest) (string, []byte, error) {
	var resp twiml.Response
	switch req.Leg {
	case model.SocketLeg:
		resp.Children = []twiml.Node{
			&twiml.Start{Children: []twiml.Node{
				&twiml.Stream{
					URL:        req.SocketURI,
					Parameters: []twiml.Parameter{{Name: "content-type", Value: carrier.SocketContentType}},
				},
			}},
			conferenceDial(req.Conference, false, carrier.CallbackURL(req.CallbackBase, model.PathSocketEvent, req.SessionID)),
		}
	case model.TelephoneLeg:
		resp.Children = []twiml.Node{conferenceDial(req.Conference, false, "")}
	default:
		resp.Children = []twiml.Node{
			&twiml.Say{Text: carrier.RejectMessage, Language: "en-US"},
			&twiml.Hangup{},
		}
	}
	doc, err := twiml.Render(&resp)
	if err != nil {
		return "", nil, err
	}
	return twiml.ContentType, doc, nil
}

func (c *Client) Modes() []model.CallFlowMode {
	return []model.CallFlowMode{model.BridgedConference}
}

func conferenceDial(name string, endOnExit bool, statusCallback string) *twiml.Dial {
	conf := &twiml.ConferenceDial{
		Name:                   name,
		StartConferenceOnEnter: true,
		EndConferenceOnExit:    endOnExit,
	}
	if statusCallback != "" {
		conf.StatusCallback = statusCallback
		conf.StatusCallbackEvent = "join"
	}
	return &twiml.Dial{Children: []twiml.Node{conf}}
}
