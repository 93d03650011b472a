// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package httpstub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const userAgent = "callbridge/1.0"

// Request is an outbound carrier HTTP request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the carrier's reply
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client defines the interface for making carrier HTTP calls
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// DefaultClient is the default implementation using http.Client
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new default client
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do executes the request and reads the whole response body
func (c *DefaultClient) Do(ctx context.Context, r Request) (Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: resp.StatusCode, Header: resp.Header}, fmt.Errorf("failed to read response body: %w", err)
	}
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// MockClient is a test double for capturing carrier calls
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall
	// ResponseFunc allows tests to control responses
	ResponseFunc func(req Request) (Response, error)
}

// MockCall records a request
type MockCall struct {
	Request
	Time    time.Time
	Context context.Context
}

// NewMockClient creates a new mock client answering 200 with an empty JSON object
func NewMockClient() *MockClient {
	return &MockClient{
		Calls: make([]MockCall, 0),
		ResponseFunc: func(Request) (Response, error) {
			return Response{Status: http.StatusOK, Header: make(http.Header), Body: []byte(`{}`)}, nil
		},
	}
}

// Do records the call and returns the configured response
func (m *MockClient) Do(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{
		Request: req,
		Time:    time.Now(),
		Context: ctx,
	})
	fn := m.ResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return Response{Status: http.StatusOK, Header: make(http.Header)}, nil
}

// Reset clears all recorded calls
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]MockCall, 0)
}

// GetCallsTo returns all calls whose URL starts with prefix
func (m *MockClient) GetCallsTo(prefix string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockCall
	for _, call := range m.Calls {
		if strings.HasPrefix(call.URL, prefix) {
			result = append(result, call)
		}
	}
	return result
}
