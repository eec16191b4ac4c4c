package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// MockHTTPDoer satisfies the GitHub client's HTTPDoer with scripted replies.
// Each method+URL key holds a queue of replies; the last one repeats once the
// queue is drained. Unscripted requests get a 404.
type MockHTTPDoer struct {
	replies map[string][]reply
	calls   []HTTPCall
	mu      sync.Mutex
}

type reply struct {
	err    error
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a MockHTTPDoer with no scripted replies.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{replies: make(map[string][]reply)}
}

// Respond queues a JSON reply for method and url. A nil body sends no content.
func (m *MockHTTPDoer) Respond(method, url string, status int, body any) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("marshal reply body: %v", err))
		}
	}
	m.enqueue(method, url, reply{status: status, body: data})
}

// Fail queues a transport error for method and url.
func (m *MockHTTPDoer) Fail(method, url string, err error) {
	m.enqueue(method, url, reply{err: err})
}

func (m *MockHTTPDoer) enqueue(method, url string, r reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + url
	m.replies[key] = append(m.replies[key], r)
}

// Do records req and returns the next scripted reply for it.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	key := req.Method + " " + req.URL.String()
	queue := m.replies[key]
	if len(queue) == 0 {
		return newResponse(http.StatusNotFound, []byte(`{"message":"Not Found"}`)), nil
	}
	r := queue[0]
	if len(queue) > 1 {
		m.replies[key] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return newResponse(r.status, r.body), nil
}

func newResponse(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}
