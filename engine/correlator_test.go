// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/engine"
	"github.com/sprucehealth/callbridge/model"
)

type harness struct {
	clock      *engine.ManualClock
	registry   *engine.Registry
	carrier    *fakeCarrier
	store      *fakeStore
	dispatcher *engine.Dispatcher
	correlator *engine.Correlator
}

func newHarness(t *testing.T, mode model.CallFlowMode) *harness {
	t.Helper()
	h := &harness{
		clock:    engine.NewManualClock(time.Time{}),
		registry: engine.NewRegistry(),
		carrier:  &fakeCarrier{},
		store:    &fakeStore{},
	}
	d, err := engine.NewDispatcher(engine.DispatcherConfig{
		CallsPerSecond:  1,
		ProcessorServer: "processor.example.com",
		CallbackBase:    "https://callbacks.example.com",
		Mode:            mode,
	}, h.registry, h.carrier, h.clock)
	if err != nil {
		t.Fatal(err)
	}
	h.dispatcher = d
	h.correlator = engine.NewCorrelator(engine.CorrelatorConfig{
		Mode:            mode,
		GraceDelay:      10 * time.Second,
		ProcessorServer: "processor.example.com",
	}, h.registry, d, h.carrier, h.store, h.clock)
	d.SetSignaler(h.correlator)
	return h
}

// dispatch enqueues pc, ticks once and returns the new session
func (h *harness) dispatch(t *testing.T, pc model.PendingCall) model.Session {
	t.Helper()
	h.dispatcher.Enqueue(pc)
	if err := h.dispatcher.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	req := h.carrier.SocketCalls[len(h.carrier.SocketCalls)-1]
	s, err := h.registry.Get(req.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (h *harness) socket(t *testing.T, s model.Session, status model.LegStatus, typ model.EventType) {
	t.Helper()
	if err := h.correlator.HandleSocketEvent(context.Background(), model.LegEvent{SessionID: s.ID, LegID: s.SocketLegID, Status: status, Type: typ}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) telephone(t *testing.T, id model.SessionID, legID string, status model.LegStatus) {
	t.Helper()
	if err := h.correlator.HandleTelephoneEvent(context.Background(), model.LegEvent{SessionID: id, LegID: legID, Status: status}); err != nil {
		t.Fatal(err)
	}
}

func TestCombinedCallScenario(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001", Caller: "2000"})
	if s.Callee != "1001" || s.SocketLegID == "" {
		t.Fatalf("unexpected session %+v", s)
	}

	h.socket(t, s, model.LegAnswered, model.EventStatus)
	h.telephone(t, s.ID, "pstn-9", model.LegAnswered)
	h.telephone(t, s.ID, "pstn-9", model.LegAnswered)

	if len(h.carrier.DTMF) != 1 || h.carrier.DTMF[0] != s.SocketLegID+":8" {
		t.Fatalf("Expected exactly one DTMF to the socket leg, got %v", h.carrier.DTMF)
	}
	got, _ := h.registry.Get(s.ID)
	if got.TelephoneLegID != "pstn-9" {
		t.Fatalf("Expected telephone leg to be recorded, got %q", got.TelephoneLegID)
	}
	if len(h.carrier.Recordings) != 0 {
		t.Fatal("unflagged call should not be recorded")
	}

	h.telephone(t, s.ID, "pstn-9", model.LegCompleted)
	if _, err := h.registry.Get(s.ID); err != nil {
		t.Fatal("session should survive until the grace delay elapses")
	}
	h.clock.Advance(9 * time.Second)
	if h.registry.Len() != 1 {
		t.Fatal("session removed before grace delay")
	}
	h.clock.Advance(time.Second)
	if h.registry.Len() != 0 {
		t.Fatal("session not removed after grace delay")
	}

	// Socket leg ends after the telephone leg was connected: no redial.
	h.socket(t, s, model.LegCompleted, model.EventStatus)
	if len(h.dispatcher.Pending()) != 0 {
		t.Fatal("connected call must not be requeued")
	}
}

func TestCombinedSocketEndsWithoutTelephoneRequeues(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001", Caller: "2000", Record: true})
	h.dispatcher.Enqueue(model.PendingCall{Callee: "other"})

	h.socket(t, s, model.LegCompleted, model.EventStatus)
	h.socket(t, s, model.LegCompleted, model.EventStatus)

	pending := h.dispatcher.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected the call to be requeued exactly once, got %+v", pending)
	}
	head := pending[0]
	if head.Callee != "1001" || head.Caller != "2000" || !head.Record || head.Attempts != 1 {
		t.Fatalf("unexpected requeued descriptor %+v", head)
	}
	if h.clock.PendingTimers() != 1 {
		t.Fatalf("Expected one removal timer, got %d", h.clock.PendingTimers())
	}
}

func TestRecordingScenario(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001", Caller: "2000", Record: true})

	h.telephone(t, s.ID, "L", model.LegAnswered)
	h.telephone(t, s.ID, "L", model.LegAnswered)
	if len(h.carrier.Recordings) != 1 {
		t.Fatalf("Expected one recording start, got %d", len(h.carrier.Recordings))
	}
	rec := h.carrier.Recordings[0]
	if rec.LegID != "L" || rec.Callee != "1001" || rec.CallbackBase != "https://callbacks.example.com" {
		t.Fatalf("unexpected recording request %+v", rec)
	}

	h.carrier.DownloadData = []byte("RIFF")
	if err := h.correlator.HandleRecordingDone(context.Background(), model.RecordingEvent{URL: "https://carrier/rec/1", LegID: "L", Callee: "1001"}); err != nil {
		t.Fatal(err)
	}
	if len(h.store.files) != 1 {
		t.Fatalf("Expected one stored recording, got %d", len(h.store.files))
	}
	name := h.store.files[0].name
	if !regexp.MustCompile(`^1001_\d{4}_\d{2}_\d{2}_\d{2}_\d{2}_\d{2}_\d{3}_pstn_L\.wav$`).MatchString(name) {
		t.Fatalf("unexpected recording name %q", name)
	}
	if string(h.store.files[0].data) != "RIFF" {
		t.Fatal("recording data not stored")
	}
}

func TestRecordingStartFailureDoesNotStopCall(t *testing.T) {
	h := newHarness(t, model.Combined)
	h.carrier.RecordErr = errors.New("forbidden")
	s := h.dispatch(t, model.PendingCall{Callee: "1001", Record: true})

	err := h.correlator.HandleTelephoneEvent(context.Background(), model.LegEvent{SessionID: s.ID, LegID: "L", Status: model.LegAnswered})
	if !errors.Is(err, engine.ErrRecordingStart) {
		t.Fatalf("Expected recording start error, got %v", err)
	}
	if len(h.carrier.DTMF) != 1 {
		t.Fatal("signal should still be sent")
	}
	if _, err := h.registry.Get(s.ID); err != nil {
		t.Fatal("session should survive a recording failure")
	}
}

func TestRecordingDownloadFailure(t *testing.T) {
	h := newHarness(t, model.Combined)
	h.carrier.DownloadErr = errors.New("404")
	err := h.correlator.HandleRecordingDone(context.Background(), model.RecordingEvent{URL: "https://carrier/rec/1", LegID: "L", Callee: "1001"})
	if !errors.Is(err, engine.ErrDownload) {
		t.Fatalf("Expected download error, got %v", err)
	}
	if len(h.store.files) != 0 {
		t.Fatal("nothing should be stored")
	}
}

func TestTelephoneLegIDSetOnce(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})

	h.telephone(t, s.ID, "first", model.LegAnswered)
	h.telephone(t, s.ID, "second", model.LegAnswered)

	got, _ := h.registry.Get(s.ID)
	if got.TelephoneLegID != "first" {
		t.Fatalf("TelephoneLegID = %q, want first", got.TelephoneLegID)
	}
	if len(h.carrier.DTMF) != 1 {
		t.Fatalf("Expected one DTMF, got %d", len(h.carrier.DTMF))
	}
}

func TestConcurrentTelephoneAnswersSignalOnce(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.correlator.HandleTelephoneEvent(context.Background(), model.LegEvent{SessionID: s.ID, LegID: "L", Status: model.LegAnswered})
		}()
	}
	wg.Wait()
	if len(h.carrier.DTMF) != 1 {
		t.Fatalf("Expected one DTMF, got %d", len(h.carrier.DTMF))
	}
}

func TestEventForUnknownSessionIsIgnored(t *testing.T) {
	h := newHarness(t, model.Combined)
	ev := model.LegEvent{SessionID: model.NewSessionID(), LegID: "x", Status: model.LegAnswered}
	if err := h.correlator.HandleSocketEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := h.correlator.HandleTelephoneEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(h.carrier.DTMF) != 0 {
		t.Fatal("no action expected for unknown session")
	}
}

func TestTranscriptAfterRemoval(t *testing.T) {
	h := newHarness(t, model.Combined)
	final := true
	speaker := 1
	// Must not panic or fail for a session that never existed.
	h.correlator.HandleTranscript(context.Background(), model.TranscriptEvent{
		SessionID:  model.NewSessionID(),
		Type:       "Results",
		Transcript: "hello",
		IsFinal:    final,
		Speaker:    &speaker,
	})
	h.correlator.HandleTranscript(context.Background(), model.TranscriptEvent{Type: "Metadata"})
}

func TestBridgedConferenceScenario(t *testing.T) {
	h := newHarness(t, model.BridgedConference)
	s := h.dispatch(t, model.PendingCall{Callee: "1001", Caller: "2000", Record: true})
	if h.carrier.SocketCalls[0].Mode != model.BridgedConference {
		t.Fatal("socket leg should be placed in bridged mode")
	}

	ct, body, err := h.correlator.AnswerInstruction(model.SocketLeg, s.ID, s.SocketLegID)
	if err != nil {
		t.Fatal(err)
	}
	conference := model.ConferenceName(s.SocketLegID)
	if ct == "" || string(body) != conference {
		t.Fatalf("unexpected socket answer %q %q", ct, body)
	}

	h.socket(t, s, model.LegAnswered, model.EventStatus)
	h.socket(t, s, model.LegAnswered, model.EventTransfer)
	h.socket(t, s, model.LegAnswered, model.EventTransfer)
	if len(h.carrier.TelephoneCalls) != 1 {
		t.Fatalf("Expected one telephone placement, got %d", len(h.carrier.TelephoneCalls))
	}
	tel := h.carrier.TelephoneCalls[0]
	if tel.Callee != "1001" || tel.Caller != "2000" || tel.Conference != conference {
		t.Fatalf("unexpected telephone request %+v", tel)
	}
	got, _ := h.registry.Get(s.ID)
	if got.TelephoneLegID == "" {
		t.Fatal("telephone leg id should be set after placement")
	}

	_, body, err = h.correlator.AnswerInstruction(model.TelephoneLeg, s.ID, got.TelephoneLegID)
	if err != nil || string(body) != conference {
		t.Fatalf("telephone answer should join %q, got %q %v", conference, body, err)
	}

	h.telephone(t, s.ID, got.TelephoneLegID, model.LegAnswered)
	h.telephone(t, s.ID, got.TelephoneLegID, model.LegAnswered)
	if len(h.carrier.Transfers) != 1 || h.carrier.Transfers[0] != got.TelephoneLegID+":"+conference {
		t.Fatalf("unexpected transfers %v", h.carrier.Transfers)
	}
	if len(h.carrier.DTMF) != 1 || !strings.HasPrefix(h.carrier.DTMF[0], s.SocketLegID+":") {
		t.Fatalf("unexpected DTMF %v", h.carrier.DTMF)
	}
	if len(h.carrier.Recordings) != 1 {
		t.Fatalf("Expected one recording, got %d", len(h.carrier.Recordings))
	}

	// A stale leg id must not touch the session.
	h.telephone(t, s.ID, "stale", model.LegCompleted)
	if h.registry.Len() != 1 {
		t.Fatal("stale telephone event removed the session")
	}

	h.telephone(t, s.ID, got.TelephoneLegID, model.LegCompleted)
	if h.registry.Len() != 0 {
		t.Fatal("bridged session should be removed immediately")
	}
	if h.clock.PendingTimers() != 0 {
		t.Fatal("bridged mode should not schedule a grace removal")
	}
}

func TestBridgedSocketEndsBeforeTransfer(t *testing.T) {
	h := newHarness(t, model.BridgedConference)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	h.socket(t, s, model.LegFailed, model.EventStatus)
	if h.registry.Len() != 0 {
		t.Fatal("session should be removed when no telephone leg was placed")
	}
	if len(h.dispatcher.Pending()) != 0 {
		t.Fatal("bridged mode does not redial")
	}
}

func TestBridgedTelephonePlacementFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, model.BridgedConference)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	fail := true
	h.carrier.TelephoneFunc = func(carrier.TelephoneCallRequest) (string, error) {
		if fail {
			fail = false
			return "", &carrier.Error{Op: "create call", Status: 500}
		}
		return "pstn-ok", nil
	}

	err := h.correlator.HandleSocketEvent(context.Background(), model.LegEvent{SessionID: s.ID, LegID: s.SocketLegID, Type: model.EventTransfer})
	if err == nil {
		t.Fatal("Expected placement error")
	}
	h.socket(t, s, model.LegAnswered, model.EventTransfer)
	got, _ := h.registry.Get(s.ID)
	if got.TelephoneLegID != "pstn-ok" {
		t.Fatalf("Expected retry to place the leg, got %q", got.TelephoneLegID)
	}
}

func TestCombinedModeIgnoresTransfer(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	h.socket(t, s, model.LegAnswered, model.EventTransfer)
	if len(h.carrier.TelephoneCalls) != 0 {
		t.Fatal("combined mode places no separate telephone leg")
	}
}

func TestZeroGraceDelayRemovesImmediately(t *testing.T) {
	clock := engine.NewManualClock(time.Time{})
	reg := engine.NewRegistry()
	fc := &fakeCarrier{}
	rq := &fakeRequeuer{}
	c := engine.NewCorrelator(engine.CorrelatorConfig{Mode: model.Combined}, reg, rq, fc, &fakeStore{}, clock)

	id := model.NewSessionID()
	if err := reg.Create(model.Session{ID: id, Callee: "1001", SocketLegID: "ws"}); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleSocketEvent(context.Background(), model.LegEvent{SessionID: id, LegID: "ws", Status: model.LegCompleted}); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Fatal("Expected immediate removal with zero grace delay")
	}
	if len(rq.calls) != 1 || rq.calls[0].Callee != "1001" {
		t.Fatalf("Expected requeue, got %+v", rq.calls)
	}
}

func TestBridgedPlacementFailureAfterSocketEnded(t *testing.T) {
	h := newHarness(t, model.BridgedConference)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	release := make(chan struct{})
	h.carrier.TelephoneFunc = func(carrier.TelephoneCallRequest) (string, error) {
		<-release
		return "", &carrier.Error{Op: "create call", Status: 500}
	}

	done := make(chan error, 1)
	go func() {
		done <- h.correlator.HandleSocketEvent(context.Background(), model.LegEvent{SessionID: s.ID, LegID: s.SocketLegID, Type: model.EventTransfer})
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := h.registry.Get(s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.TelephoneRequested {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("telephone placement never started")
		}
		time.Sleep(time.Millisecond)
	}

	h.socket(t, s, model.LegCompleted, model.EventStatus)
	if h.registry.Len() != 1 {
		t.Fatal("session should stay while the telephone leg is being placed")
	}

	close(release)
	if err := <-done; err == nil {
		t.Fatal("Expected placement error")
	}
	h.clock.Advance(time.Minute)
	if h.registry.Len() != 0 {
		t.Fatalf("Expected session to be removed, %d left", h.registry.Len())
	}
	if _, err := h.registry.Get(s.ID); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSignalHeldUntilSocketLegKnown(t *testing.T) {
	reg := engine.NewRegistry()
	fc := &fakeCarrier{}
	c := engine.NewCorrelator(engine.CorrelatorConfig{Mode: model.Combined}, reg, &fakeRequeuer{}, fc, &fakeStore{}, engine.NewManualClock(time.Time{}))

	id := model.NewSessionID()
	if err := reg.Create(model.Session{ID: id, Callee: "1001"}); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleTelephoneEvent(context.Background(), model.LegEvent{SessionID: id, LegID: "pstn-1", Status: model.LegAnswered}); err != nil {
		t.Fatal(err)
	}
	if len(fc.DTMF) != 0 {
		t.Fatalf("no socket leg to signal yet, got %v", fc.DTMF)
	}
	if got, _ := reg.Get(id); !got.SignalPending {
		t.Fatal("signal should be pending")
	}

	for i := 0; i < 2; i++ {
		if err := c.HandleSocketEvent(context.Background(), model.LegEvent{SessionID: id, LegID: "ws-1", Status: model.LegAnswered}); err != nil {
			t.Fatal(err)
		}
	}
	if len(fc.DTMF) != 1 || fc.DTMF[0] != "ws-1:8" {
		t.Fatalf("Expected one DTMF once the socket leg is known, got %v", fc.DTMF)
	}
	if got, _ := reg.Get(id); got.SignalPending {
		t.Fatal("signal should no longer be pending")
	}
}

func TestSignalSentWhenPlacementRecordsSocketLeg(t *testing.T) {
	h := newHarness(t, model.Combined)
	h.carrier.SocketFunc = func(req carrier.SocketCallRequest) (string, error) {
		// The callee answers before the placement returns.
		if err := h.correlator.HandleTelephoneEvent(context.Background(), model.LegEvent{SessionID: req.SessionID, LegID: "pstn-1", Status: model.LegAnswered}); err != nil {
			return "", err
		}
		return "ws-early", nil
	}
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	if len(h.carrier.DTMF) != 1 || h.carrier.DTMF[0] != "ws-early:8" {
		t.Fatalf("Expected DTMF once the socket leg was recorded, got %v", h.carrier.DTMF)
	}

	h.socket(t, s, model.LegAnswered, model.EventStatus)
	if len(h.carrier.DTMF) != 1 {
		t.Fatalf("Expected a single DTMF, got %v", h.carrier.DTMF)
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })
	return buf
}

// transcriptLine returns the fields of the logged transcript, or nil
func transcriptLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var fields map[string]any
		if err := json.Unmarshal(sc.Bytes(), &fields); err != nil {
			t.Fatalf("unreadable log line %q: %v", sc.Text(), err)
		}
		if fields[zerolog.MessageFieldName] == "transcript" {
			return fields
		}
	}
	return nil
}

func TestTranscriptFilter(t *testing.T) {
	h := newHarness(t, model.Combined)
	s := h.dispatch(t, model.PendingCall{Callee: "1001"})
	gone := h.dispatch(t, model.PendingCall{Callee: "1002"})
	h.registry.Remove(gone.ID)
	speaker := 2

	cases := []struct {
		name   string
		ev     model.TranscriptEvent
		logged bool
		fields map[string]any
		absent []string
	}{
		{
			name: "interim",
			ev:   model.TranscriptEvent{SessionID: s.ID, Type: "Results", Transcript: "hello", Speaker: &speaker},
		},
		{
			name: "empty",
			ev:   model.TranscriptEvent{SessionID: s.ID, Type: "Results", IsFinal: true},
		},
		{
			name: "whitespace",
			ev:   model.TranscriptEvent{SessionID: s.ID, Type: "Results", Transcript: " \t\n ", IsFinal: true},
		},
		{
			name: "metadata",
			ev:   model.TranscriptEvent{SessionID: s.ID, Type: "Metadata", Transcript: "hello", IsFinal: true},
		},
		{
			name:   "final",
			ev:     model.TranscriptEvent{SessionID: s.ID, Type: "Results", Transcript: "hello there", IsFinal: true, Speaker: &speaker},
			logged: true,
			fields: map[string]any{"callee": "1001", "speaker": float64(2), "transcript": "hello there", "socket_leg_id": s.SocketLegID},
			absent: []string{"session_closed"},
		},
		{
			name:   "session closed",
			ev:     model.TranscriptEvent{SessionID: gone.ID, Type: "Results", Transcript: "bye", IsFinal: true, Speaker: &speaker},
			logged: true,
			fields: map[string]any{"session_closed": true, "speaker": float64(2), "transcript": "bye"},
			absent: []string{"callee"},
		},
		{
			name:   "no speaker",
			ev:     model.TranscriptEvent{SessionID: s.ID, Type: "Results", Transcript: "hi", IsFinal: true},
			logged: true,
			fields: map[string]any{"callee": "1001"},
			absent: []string{"speaker"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLog(t)
			h.correlator.HandleTranscript(context.Background(), tc.ev)
			line := transcriptLine(t, buf)
			if !tc.logged {
				if line != nil {
					t.Fatalf("Expected no transcript log, got %v", line)
				}
				return
			}
			if line == nil {
				t.Fatal("Expected a transcript log line")
			}
			for k, want := range tc.fields {
				if line[k] != want {
					t.Errorf("%s = %v, want %v", k, line[k], want)
				}
			}
			for _, k := range tc.absent {
				if _, ok := line[k]; ok {
					t.Errorf("unexpected field %s in %v", k, line)
				}
			}
		})
	}
}
