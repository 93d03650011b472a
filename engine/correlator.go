// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/model"
)

// DefaultGraceDelay is how long a finished combined-mode session stays
// resolvable for late transcript events
const DefaultGraceDelay = 10 * time.Second

// DefaultSignalDigits is the DTMF tone telling the processor its peer is connected
const DefaultSignalDigits = "8"

// CorrelatorConfig configures the event correlator
type CorrelatorConfig struct {
	Mode            model.CallFlowMode
	GraceDelay      time.Duration
	SignalDigits    string
	ProcessorServer string
}

// Requeuer accepts calls that need a fresh attempt
type Requeuer interface {
	Requeue(pc model.PendingCall) bool
}

// RecordingStore persists downloaded recordings
type RecordingStore interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Correlator consumes leg, transcript and recording events and keeps the
// registry consistent across both legs of every call
type Correlator struct {
	cfg      CorrelatorConfig
	registry *Registry
	requeuer Requeuer
	carrier  carrier.Client
	store    RecordingStore
	clock    Clock
}

func NewCorrelator(cfg CorrelatorConfig, registry *Registry, requeuer Requeuer, c carrier.Client, store RecordingStore, clock Clock) *Correlator {
	if cfg.Mode == "" {
		cfg.Mode = model.Combined
	}
	if cfg.GraceDelay < 0 {
		cfg.GraceDelay = 0
	}
	if cfg.SignalDigits == "" {
		cfg.SignalDigits = DefaultSignalDigits
	}
	if clock == nil {
		clock = NewAutoClock()
	}
	return &Correlator{
		cfg:      cfg,
		registry: registry,
		requeuer: requeuer,
		carrier:  c,
		store:    store,
		clock:    clock,
	}
}

// Mode returns the configured call flow mode
func (c *Correlator) Mode() model.CallFlowMode {
	return c.cfg.Mode
}

// HandleSocketEvent processes a lifecycle event of the socket leg
func (c *Correlator) HandleSocketEvent(ctx context.Context, ev model.LegEvent) error {
	return c.handleLegEvent(ctx, model.SocketLeg, ev)
}

// HandleTelephoneEvent processes a lifecycle event of the telephone leg
func (c *Correlator) HandleTelephoneEvent(ctx context.Context, ev model.LegEvent) error {
	return c.handleLegEvent(ctx, model.TelephoneLeg, ev)
}

func (c *Correlator) handleLegEvent(ctx context.Context, leg model.LegKind, ev model.LegEvent) error {
	logger := log.With().
		Str("module", "engine.correlator").
		Str("leg", string(leg)).
		Str("session_id", ev.SessionID.String()).
		Str("leg_id", ev.LegID).
		Str("status", string(ev.Status)).
		Str("type", string(ev.Type)).
		Logger()

	var acts action
	s, err := c.registry.Update(ev.SessionID, func(s *model.Session) error {
		acts = transition(c.cfg.Mode, s, leg, ev)
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		logger.Warn().Msg("event for unknown session")
		return nil
	} else if err != nil {
		return err
	}
	if acts == 0 {
		logger.Debug().Msg("event recorded")
		return nil
	}
	logger.Info().Str("callee", s.Callee).Msg("leg event")
	return c.apply(ctx, logger, s, acts)
}

func (c *Correlator) apply(ctx context.Context, logger zerolog.Logger, s model.Session, acts action) error {
	var errs []error

	if acts.has(actRequeue) {
		logger.Info().Str("callee", s.Callee).Msg("telephone leg never connected, requeueing call")
		c.requeuer.Requeue(s.Pending())
	}
	if acts.has(actScheduleRemoval) {
		c.scheduleRemoval(s.ID)
	}
	if acts.has(actRemoveNow) {
		c.registry.Remove(s.ID)
		logger.Info().Msg("session closed")
	}
	if acts.has(actPlaceTelephone) {
		if err := c.placeTelephoneLeg(ctx, logger, s); err != nil {
			errs = append(errs, err)
		}
	}
	if acts.has(actBridge) {
		conference := model.ConferenceName(s.SocketLegID)
		if err := c.carrier.TransferToConference(ctx, s.TelephoneLegID, conference); err != nil {
			logger.Error().Err(err).Str("conference", conference).Msg("bridge telephone leg")
			errs = append(errs, err)
		}
	}
	if acts.has(actSignal) {
		if err := c.signal(ctx, logger, s); err != nil {
			errs = append(errs, err)
		}
	}
	if acts.has(actRecord) {
		if err := c.startRecording(ctx, logger, s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalSocketLeg sends the connect signal that was held back for s until its
// socket leg id was recorded
func (c *Correlator) SignalSocketLeg(ctx context.Context, s model.Session) error {
	logger := log.With().Str("module", "engine.correlator").Str("session_id", s.ID.String()).Logger()
	return c.signal(ctx, logger, s)
}

func (c *Correlator) signal(ctx context.Context, logger zerolog.Logger, s model.Session) error {
	if s.SocketLegID == "" {
		logger.Warn().Msg("no socket leg to signal")
		return nil
	}
	if err := c.carrier.SendDTMF(ctx, s.SocketLegID, c.cfg.SignalDigits); err != nil {
		logger.Error().Err(err).Str("socket_leg_id", s.SocketLegID).Msg("send DTMF to socket leg")
		return err
	}
	logger.Info().Str("socket_leg_id", s.SocketLegID).Msg("sent DTMF to socket leg")
	return nil
}

func (c *Correlator) placeTelephoneLeg(ctx context.Context, logger zerolog.Logger, s model.Session) error {
	conference := model.ConferenceName(s.SocketLegID)
	legID, err := c.carrier.PlaceTelephoneCall(ctx, carrier.TelephoneCallRequest{
		Callee:       s.Callee,
		Caller:       s.Caller,
		SessionID:    s.ID,
		CallbackBase: s.CallbackBase,
		Conference:   conference,
	})
	if err != nil {
		logger.Error().Err(err).Str("callee", s.Callee).Msg("place telephone leg")
		// Allow a later transfer event to try again, unless the socket leg
		// finished meanwhile and nothing is left to bridge.
		var remove bool
		_, _ = c.registry.Update(s.ID, func(s *model.Session) error {
			s.TelephoneRequested = false
			remove = s.SocketDone
			return nil
		})
		if remove {
			c.registry.Remove(s.ID)
			logger.Info().Msg("session closed")
		}
		return err
	}

	if _, err := c.registry.Update(s.ID, func(s *model.Session) error {
		if s.TelephoneLegID == "" {
			s.TelephoneLegID = legID
		}
		return nil
	}); err != nil {
		logger.Warn().Err(err).Str("telephone_leg_id", legID).Msg("session closed while placing telephone leg")
		return nil
	}
	logger.Info().Str("telephone_leg_id", legID).Str("conference", conference).Msg("telephone leg placed")
	return nil
}

func (c *Correlator) startRecording(ctx context.Context, logger zerolog.Logger, id model.SessionID) error {
	// Earlier carrier calls may have let the leg finish.
	s, err := c.registry.Get(id)
	if err != nil {
		logger.Warn().Err(err).Msg("session closed before recording could start")
		return nil
	}
	if s.TelephoneDone {
		logger.Warn().Msg("telephone leg finished before recording could start")
		return nil
	}
	if err := c.carrier.StartRecording(ctx, carrier.RecordingRequest{
		LegID:        s.TelephoneLegID,
		Callee:       s.Callee,
		CallbackBase: s.CallbackBase,
	}); err != nil {
		logger.Error().Err(err).Msg("start recording, call continues unrecorded")
		return fmt.Errorf("%w: %w", ErrRecordingStart, err)
	}
	logger.Info().Str("telephone_leg_id", s.TelephoneLegID).Msg("recording started")
	return nil
}

func (c *Correlator) scheduleRemoval(id model.SessionID) {
	if c.cfg.GraceDelay == 0 {
		c.registry.Remove(id)
		return
	}
	c.clock.AfterFunc(c.cfg.GraceDelay, func() {
		c.registry.Remove(id)
		log.Info().Str("module", "engine.correlator").Str("session_id", id.String()).Msg("session closed after grace delay")
	})
}

// HandleTranscript logs final, non-empty transcripts. Transcripts may outlive
// their session; those are logged without call details.
func (c *Correlator) HandleTranscript(ctx context.Context, ev model.TranscriptEvent) {
	if ev.Type != "Results" || !ev.IsFinal || strings.TrimSpace(ev.Transcript) == "" {
		return
	}
	entry := log.Info().Str("module", "engine.correlator").Str("session_id", ev.SessionID.String())
	if s, err := c.registry.Get(ev.SessionID); err == nil {
		entry = entry.Str("callee", s.Callee).Str("telephone_leg_id", s.TelephoneLegID).Str("socket_leg_id", s.SocketLegID)
	} else {
		entry = entry.Bool("session_closed", true)
	}
	if ev.Speaker != nil {
		entry = entry.Int("speaker", *ev.Speaker)
	}
	entry.Str("transcript", ev.Transcript).Msg("transcript")
}

// HandleRecordingDone downloads a finished recording into the recording store
func (c *Correlator) HandleRecordingDone(ctx context.Context, ev model.RecordingEvent) error {
	name := RecordingFileName(ev.Callee, c.clock.Now(), ev.LegID)
	logger := log.With().Str("module", "engine.correlator").Str("leg_id", ev.LegID).Str("callee", ev.Callee).Str("file", name).Logger()

	data, err := c.carrier.DownloadRecording(ctx, ev.URL)
	if err != nil {
		logger.Error().Err(err).Msg("download recording")
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := c.store.Save(ctx, name, data); err != nil {
		logger.Error().Err(err).Msg("store recording")
		return fmt.Errorf("%w: store %s: %w", ErrDownload, name, err)
	}
	logger.Info().Int("bytes", len(data)).Msg("recording stored")
	return nil
}

// AnswerInstruction builds the carrier instruction for an answer webhook.
// The socket leg is parked in its bridge conference; the telephone leg joins
// the conference of its session's socket leg.
func (c *Correlator) AnswerInstruction(leg model.LegKind, id model.SessionID, legID string) (string, []byte, error) {
	var s model.Session
	var err error
	if leg == model.SocketLeg && legID != "" {
		s, err = c.registry.Update(id, func(s *model.Session) error {
			if s.SocketLegID == "" {
				s.SocketLegID = legID
			}
			return nil
		})
	} else {
		s, err = c.registry.Get(id)
	}
	if err != nil {
		return "", nil, err
	}

	req := carrier.AnswerRequest{
		Leg:          leg,
		LegID:        legID,
		SessionID:    id,
		CallbackBase: s.CallbackBase,
		Conference:   model.ConferenceName(s.SocketLegID),
	}
	if leg == model.SocketLeg {
		req.SocketURI = SocketURI(c.cfg.ProcessorServer, s.CallbackBase, id)
	}
	return c.carrier.AnswerInstruction(req)
}
