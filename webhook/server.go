// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package webhook serves the carrier callback surface. Event callbacks are
// acknowledged immediately and handled on background goroutines.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/engine"
	"github.com/sprucehealth/callbridge/model"
)

const ack = "Ok"

// Enqueuer accepts calls for dispatch
type Enqueuer interface {
	Enqueue(pc model.PendingCall)
}

// Correlator consumes normalized carrier events
type Correlator interface {
	HandleSocketEvent(ctx context.Context, ev model.LegEvent) error
	HandleTelephoneEvent(ctx context.Context, ev model.LegEvent) error
	HandleTranscript(ctx context.Context, ev model.TranscriptEvent)
	HandleRecordingDone(ctx context.Context, ev model.RecordingEvent) error
	AnswerInstruction(leg model.LegKind, id model.SessionID, legID string) (string, []byte, error)
}

// Options configures request defaults
type Options struct {
	// PublicBaseURL overrides the callback base derived from the request host
	PublicBaseURL  string
	DefaultCallee  string
	ServiceNumber  string
	RecordAllCalls bool
	// HandlerTimeout bounds each background handler
	HandlerTimeout time.Duration
}

type Server struct {
	opts       Options
	queue      Enqueuer
	correlator Correlator
	carrier    carrier.Client
	wg         sync.WaitGroup
}

func New(opts Options, queue Enqueuer, correlator Correlator, c carrier.Client) *Server {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	return &Server{opts: opts, queue: queue, correlator: correlator, carrier: c}
}

// Register mounts every callback route
func (s *Server) Register(r gin.IRouter) {
	r.Use(CORS())

	r.GET(model.PathCall, s.handleCall)
	r.POST(model.PathCall, s.handleCall)

	r.POST(model.PathSocketEvent, s.handleLegEvent(model.SocketLeg))
	r.POST(model.PathTelephoneEvent, s.handleLegEvent(model.TelephoneLeg))

	r.GET(model.PathSocketAnswer, s.handleLegAnswer(model.SocketLeg))
	r.POST(model.PathSocketAnswer, s.handleLegAnswer(model.SocketLeg))
	r.GET(model.PathTelephoneAnswer, s.handleLegAnswer(model.TelephoneLeg))
	r.POST(model.PathTelephoneAnswer, s.handleLegAnswer(model.TelephoneLeg))

	r.POST(model.PathResults, s.handleResults)
	r.POST(model.PathRecording, s.handleRecording)

	r.GET(model.PathAnswer, s.handleFallbackAnswer)
	r.POST(model.PathAnswer, s.handleFallbackAnswer)
	r.GET(model.PathEvent, s.handleAck)
	r.POST(model.PathEvent, s.handleAck)
	r.GET(model.PathHealth, s.handleAck)
}

// Wait blocks until all background handlers have returned
func (s *Server) Wait() {
	s.wg.Wait()
}

// async runs fn detached from the request so the carrier gets its
// acknowledgement without waiting on carrier round trips
func (s *Server) async(route string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandlerTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("module", "webhook").Str("route", route).Msg("event handling failed")
		}
	}()
}

func sessionID(c *gin.Context) model.SessionID {
	return model.SessionID(c.Query("session_id"))
}

type callRequest struct {
	Callee string `form:"callee" json:"callee"`
	Caller string `form:"caller" json:"caller"`
	Record bool   `form:"record" json:"record"`
}

type callResponse struct {
	Status string            `json:"status"`
	Call   model.PendingCall `json:"call"`
}

func (s *Server) handleCall(c *gin.Context) {
	var req callRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBind(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pc := model.PendingCall{
		Callee:       req.Callee,
		Caller:       req.Caller,
		Record:       req.Record || s.opts.RecordAllCalls,
		CallbackBase: s.callbackBase(c),
	}
	if pc.Callee == "" {
		pc.Callee = s.opts.DefaultCallee
	}
	if pc.Caller == "" {
		pc.Caller = s.opts.ServiceNumber
	}
	if pc.Callee == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callee is required"})
		return
	}
	if _, err := engine.NormalizeBaseURL(pc.CallbackBase); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.queue.Enqueue(pc)
	log.Info().Str("module", "webhook").Str("callee", pc.Callee).Bool("record", pc.Record).Msg("call requested")
	c.JSON(http.StatusOK, callResponse{Status: "queued", Call: pc})
}

// callbackBase is the public address the carrier reaches this service at
func (s *Server) callbackBase(c *gin.Context) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = strings.TrimSpace(host[:i])
	}
	return "https://" + host
}

func (s *Server) handleLegEvent(leg model.LegKind) gin.HandlerFunc {
	handle := s.correlator.HandleSocketEvent
	if leg == model.TelephoneLeg {
		handle = s.correlator.HandleTelephoneEvent
	}
	return func(c *gin.Context) {
		var p legEventPayload
		err := c.ShouldBind(&p)
		id := sessionID(c)
		c.String(http.StatusOK, ack)

		logger := log.With().Str("module", "webhook").Str("leg", string(leg)).Str("session_id", id.String()).Logger()
		if err != nil {
			logger.Warn().Err(err).Msg("unreadable leg event")
			return
		}
		if id == "" {
			logger.Warn().Str("leg_id", p.UUID).Msg("leg event without session id")
			return
		}
		ev := p.event(id)
		logger.Debug().Str("leg_id", ev.LegID).Str("status", p.Status).Str("type", p.Type).Msg("leg event")
		s.async(c.FullPath(), func(ctx context.Context) error {
			return handle(ctx, ev)
		})
	}
}

func (s *Server) handleLegAnswer(leg model.LegKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := sessionID(c)
		legID := c.Query("uuid")
		if legID == "" {
			legID = c.Request.FormValue("CallSid")
		}
		ct, body, err := s.correlator.AnswerInstruction(leg, id, legID)
		if err != nil {
			logger := log.With().Str("module", "webhook").Str("leg", string(leg)).Str("session_id", id.String()).Str("leg_id", legID).Logger()
			if errors.Is(err, engine.ErrSessionNotFound) {
				logger.Warn().Err(err).Msg("answer for unknown session")
				c.Status(http.StatusNotFound)
				return
			}
			logger.Error().Err(err).Msg("build answer instruction")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, ct, body)
	}
}

func (s *Server) handleResults(c *gin.Context) {
	var p resultsPayload
	err := c.ShouldBindJSON(&p)
	id := sessionID(c)
	c.String(http.StatusOK, ack)
	if err != nil {
		log.Warn().Err(err).Str("module", "webhook").Str("session_id", id.String()).Msg("unreadable transcript")
		return
	}
	ev := p.event(id)
	s.async(c.FullPath(), func(ctx context.Context) error {
		s.correlator.HandleTranscript(ctx, ev)
		return nil
	})
}

func (s *Server) handleRecording(c *gin.Context) {
	var (
		ev  model.RecordingEvent
		ok  bool
		err error
	)
	if c.ContentType() == binding.MIMEJSON {
		var p vonageRecordingPayload
		if err = c.ShouldBindJSON(&p); err == nil {
			ev, ok = p.event()
		}
	} else {
		var p twilioRecordingPayload
		if err = c.ShouldBind(&p); err == nil {
			ev, ok = p.event()
		}
	}
	c.String(http.StatusOK, ack)

	if err != nil {
		log.Warn().Err(err).Str("module", "webhook").Msg("unreadable recording event")
		return
	}
	if !ok {
		return
	}
	log.Info().Str("module", "webhook").Str("leg_id", ev.LegID).Str("callee", ev.Callee).Msg("recording ready")
	s.async(c.FullPath(), func(ctx context.Context) error {
		return s.correlator.HandleRecordingDone(ctx, ev)
	})
}

func (s *Server) handleFallbackAnswer(c *gin.Context) {
	ct, body, err := s.carrier.AnswerInstruction(carrier.AnswerRequest{})
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, ct, body)
}

func (s *Server) handleAck(c *gin.Context) {
	c.String(http.StatusOK, ack)
}
