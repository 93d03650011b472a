// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/model"
)

// DispatcherConfig configures call admission
type DispatcherConfig struct {
	CallsPerSecond  float64
	ExtraDelay      time.Duration
	MaxAttempts     int // 0 means unlimited redials
	ProcessorServer string
	CallbackBase    string
	Mode            model.CallFlowMode
}

// TickInterval returns ceil(1000/callsPerSecond) milliseconds plus extraDelay
func TickInterval(callsPerSecond float64, extraDelay time.Duration) (time.Duration, error) {
	if !(callsPerSecond > 0) || math.IsInf(callsPerSecond, 0) {
		return 0, fmt.Errorf("calls per second must be positive, got %v", callsPerSecond)
	}
	if extraDelay < 0 {
		return 0, fmt.Errorf("extra delay must not be negative, got %v", extraDelay)
	}
	ms := math.Ceil(1000 / callsPerSecond)
	return time.Duration(ms)*time.Millisecond + extraDelay, nil
}

// Signaler delivers a connect signal that was held back until the socket
// leg id of its session was recorded
type Signaler interface {
	SignalSocketLeg(ctx context.Context, s model.Session) error
}

// Dispatcher drains the pending queue at a fixed rate, one placement at a time
type Dispatcher struct {
	cfg      DispatcherConfig
	interval time.Duration
	queue    *Queue
	registry *Registry
	carrier  carrier.Client
	clock    Clock
	signaler Signaler

	// held for the whole of a tick so placements never overlap
	inflight sync.Mutex
}

func NewDispatcher(cfg DispatcherConfig, registry *Registry, c carrier.Client, clock Clock) (*Dispatcher, error) {
	interval, err := TickInterval(cfg.CallsPerSecond, cfg.ExtraDelay)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative, got %d", cfg.MaxAttempts)
	}
	if cfg.Mode == "" {
		cfg.Mode = model.Combined
	}
	if clock == nil {
		clock = NewAutoClock()
	}
	return &Dispatcher{
		cfg:      cfg,
		interval: interval,
		queue:    NewQueue(),
		registry: registry,
		carrier:  c,
		clock:    clock,
	}, nil
}

// SetSignaler sets where held back signals go once a placement records the
// socket leg id. It must be called before Run.
func (d *Dispatcher) SetSignaler(s Signaler) {
	d.signaler = s
}

// Interval returns the effective tick interval
func (d *Dispatcher) Interval() time.Duration {
	return d.interval
}

// Enqueue adds a call at the tail of the pending queue
func (d *Dispatcher) Enqueue(pc model.PendingCall) {
	d.queue.Push(pc)
	log.Info().Str("module", "engine.dispatcher").Str("callee", pc.Callee).Int("pending", d.queue.Len()).Msg("call queued")
}

// Requeue puts a call that failed to connect back at the head of the queue.
// It reports false when the call has used up its attempts and was dropped.
func (d *Dispatcher) Requeue(pc model.PendingCall) bool {
	if d.cfg.MaxAttempts > 0 && pc.Attempts >= d.cfg.MaxAttempts {
		log.Warn().Str("module", "engine.dispatcher").Str("callee", pc.Callee).Int("attempts", pc.Attempts).Msg("giving up on call after max attempts")
		return false
	}
	d.queue.PushFront(pc)
	log.Info().Str("module", "engine.dispatcher").Str("callee", pc.Callee).Int("attempts", pc.Attempts).Msg("call requeued at front")
	return true
}

// Pending returns the waiting calls, head first
func (d *Dispatcher) Pending() []model.PendingCall {
	return d.queue.Snapshot()
}

// Run ticks until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().Str("module", "engine.dispatcher").Dur("interval", d.interval).Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "engine.dispatcher").Msg("dispatcher stopped")
			return ctx.Err()
		case <-d.clock.After(d.interval):
			_ = d.Tick(ctx)
		}
	}
}

// Tick attempts at most one placement. It returns the placement error, if any;
// an empty queue is not an error.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.inflight.Lock()
	defer d.inflight.Unlock()

	pc, ok := d.queue.Pop()
	if !ok {
		return nil
	}

	base := pc.CallbackBase
	if base == "" {
		base = d.cfg.CallbackBase
	}
	base, err := NormalizeBaseURL(base)
	if err != nil {
		log.Error().Err(err).Str("module", "engine.dispatcher").Str("callee", pc.Callee).Msg("dropping call without callback base")
		return err
	}

	sess := model.Session{
		ID:             model.NewSessionID(),
		Callee:         pc.Callee,
		Caller:         pc.Caller,
		RecordThisCall: pc.Record,
		Attempts:       pc.Attempts + 1,
		CallbackBase:   base,
		CreatedAt:      d.clock.Now(),
	}
	// Visible before the carrier can call back about it.
	if err := d.registry.Create(sess); err != nil {
		log.Error().Err(err).Str("module", "engine.dispatcher").Msg("create session")
		return err
	}

	logger := log.With().Str("module", "engine.dispatcher").Str("session_id", sess.ID.String()).Str("callee", pc.Callee).Logger()

	socketURI := SocketURI(d.cfg.ProcessorServer, base, sess.ID)
	logger.Info().Str("socket_uri", socketURI).Msg("placing socket leg")

	legID, err := d.carrier.PlaceSocketCall(ctx, carrier.SocketCallRequest{
		Callee:       pc.Callee,
		Caller:       pc.Caller,
		SessionID:    sess.ID,
		CallbackBase: base,
		SocketURI:    socketURI,
		Mode:         d.cfg.Mode,
	})
	if err != nil {
		d.registry.Remove(sess.ID)
		if errors.Is(err, carrier.ErrRateLimited) {
			d.queue.PushFront(pc)
			logger.Warn().Err(err).Msg("carrier rate limited, retrying on next tick")
			return err
		}
		logger.Error().Err(err).Msg("socket leg placement failed, dropping call")
		return err
	}

	var signal bool
	s, err := d.registry.Update(sess.ID, func(s *model.Session) error {
		s.SocketLegID = legID
		signal = takePendingSignal(s)
		return nil
	})
	if err != nil {
		// The socket leg already completed and its session was cleaned up.
		logger.Warn().Err(err).Str("leg_id", legID).Msg("session gone before socket leg was recorded")
		return nil
	}
	logger.Info().Str("leg_id", legID).Msg("socket leg created")
	if signal && d.signaler != nil {
		if err := d.signaler.SignalSocketLeg(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
