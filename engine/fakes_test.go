// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package engine_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/model"
)

// fakeCarrier records every request and answers from optional hooks
type fakeCarrier struct {
	mu sync.Mutex

	SocketCalls    []carrier.SocketCallRequest
	TelephoneCalls []carrier.TelephoneCallRequest
	DTMF           []string // legID:digits
	Transfers      []string // legID:conference
	Recordings     []carrier.RecordingRequest
	Downloads      []string

	SocketFunc    func(carrier.SocketCallRequest) (string, error)
	TelephoneFunc func(carrier.TelephoneCallRequest) (string, error)
	RecordErr     error
	DownloadData  []byte
	DownloadErr   error

	n int
}

func (f *fakeCarrier) nextID(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *fakeCarrier) PlaceSocketCall(ctx context.Context, req carrier.SocketCallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SocketCalls = append(f.SocketCalls, req)
	if f.SocketFunc != nil {
		return f.SocketFunc(req)
	}
	return f.nextID("ws"), nil
}

func (f *fakeCarrier) PlaceTelephoneCall(ctx context.Context, req carrier.TelephoneCallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TelephoneCalls = append(f.TelephoneCalls, req)
	if f.TelephoneFunc != nil {
		return f.TelephoneFunc(req)
	}
	return f.nextID("pstn"), nil
}

func (f *fakeCarrier) SendDTMF(ctx context.Context, legID, digits string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DTMF = append(f.DTMF, legID+":"+digits)
	return nil
}

func (f *fakeCarrier) TransferToConference(ctx context.Context, legID, conference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transfers = append(f.Transfers, legID+":"+conference)
	return nil
}

func (f *fakeCarrier) StartRecording(ctx context.Context, req carrier.RecordingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recordings = append(f.Recordings, req)
	return f.RecordErr
}

func (f *fakeCarrier) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downloads = append(f.Downloads, url)
	return f.DownloadData, f.DownloadErr
}

func (f *fakeCarrier) AnswerInstruction(req carrier.AnswerRequest) (string, []byte, error) {
	return "application/json", []byte(req.Conference), nil
}

func (f *fakeCarrier) Modes() []model.CallFlowMode {
	return []model.CallFlowMode{model.Combined, model.BridgedConference}
}

type savedFile struct {
	name string
	data []byte
}

type fakeStore struct {
	mu    sync.Mutex
	files []savedFile
	err   error
}

func (s *fakeStore) Save(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.files = append(s.files, savedFile{name: name, data: data})
	return nil
}

type fakeRequeuer struct {
	calls []model.PendingCall
}

func (r *fakeRequeuer) Requeue(pc model.PendingCall) bool {
	r.calls = append(r.calls, pc)
	return true
}
